package degrade

// DefaultTickMillis is the stock evaluation interval.
const DefaultTickMillis = 250

// Transition records one level change.
type Transition struct {
	From     Level    `json:"from"`
	To       Level    `json:"to"`
	Pressure Pressure `json:"pressure"`
}

// Controller is the degradation state machine. It consumes pressure snapshots
// and moves at most one level per Evaluate call. It performs no I/O and is owned
// by the sender worker.
type Controller struct {
	th          Thresholds
	level       Level
	transitions uint64
}

// NewController validates th and returns a controller at Normal.
func NewController(th Thresholds) (*Controller, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Controller{th: th}, nil
}

// Level returns the current level.
func (c *Controller) Level() Level {
	return c.level
}

// Transitions returns how many level changes have happened.
func (c *Controller) Transitions() uint64 {
	return c.transitions
}

// Thresholds returns the configured thresholds.
func (c *Controller) Thresholds() Thresholds {
	return c.th
}

// Evaluate runs one tick against p. Climbing is checked first: if the entry
// threshold of the next level is met the controller steps up. Otherwise, if
// pressure has settled under the recovery pair of the current level, it steps down.
func (c *Controller) Evaluate(p Pressure) (Transition, bool) {
	from := c.level
	switch {
	case c.level < MaxLevel && c.th.enterFor(c.level+1).reachedBy(p):
		c.level++
	case c.level > Normal && c.th.recoverFrom(c.level).calmBy(p):
		c.level--
	default:
		return Transition{}, false
	}
	c.transitions++
	return Transition{From: from, To: c.level, Pressure: p}, true
}

// Reset returns the controller to Normal.
func (c *Controller) Reset() {
	c.level = Normal
	c.transitions = 0
}
