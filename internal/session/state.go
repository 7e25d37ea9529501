package session

// State is the lifecycle state of a session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Active reports whether the session holds the capture surface and encoder.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateDegraded
}

// Terminal reports whether the session has finished.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// gaugeValue maps states onto the session_state metric.
func (s State) gaugeValue() float64 {
	switch s {
	case StateStarting:
		return 1
	case StateRunning:
		return 2
	case StateDegraded:
		return 3
	case StateStopping:
		return 4
	case StateStopped:
		return 5
	case StateFailed:
		return 6
	}
	return 0
}
