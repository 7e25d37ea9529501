package encoder

import (
	"fmt"

	"github.com/smazurov/screenlink/internal/relay"
)

// unavailable is a primary backend that could not even be resolved. Its Open
// fails with the resolution error so the cascade reports why hardware was skipped.
type unavailable struct {
	name string
	err  error
}

// Unavailable returns a hardware backend whose Open always fails with err.
func Unavailable(name string, err error) Backend {
	return &unavailable{name: name, err: err}
}

func (u *unavailable) Name() string                              { return u.name }
func (u *unavailable) Hardware() bool                            { return true }
func (u *unavailable) Describe() CodecDescriptor                 { return H264Descriptor() }
func (u *unavailable) RequestKeyframe()                          {}
func (u *unavailable) Open(Settings) error                       { return fmt.Errorf("%w: %w", ErrInit, u.err) }
func (u *unavailable) Reconfigure(Settings) error                { return ErrClosed }
func (u *unavailable) Encode(*relay.Frame) ([]AccessUnit, error) { return nil, ErrClosed }
func (u *unavailable) Flush() ([]AccessUnit, error)              { return nil, nil }
func (u *unavailable) Close() error                              { return nil }
