package partition

import (
	"errors"
	"fmt"

	"lifeband/internal/group"
)

var (
	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = errors.New("partition: invalid configuration")
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("partition: transport failure")
)

// ConfigError reports run parameters that cannot be decomposed. Every rank
// detects it independently before any communication.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failed scatter, halo exchange or gather. The run
// cannot continue after one: peers are left mid-protocol.
type TransportError struct {
	Op   string
	Peer int // -1 when no single peer is at fault
	Step int // -1 outside the step loop
	Err  error
}

// NewTransportError wraps err, taking Peer from a *group.PeerError in its
// chain.
func NewTransportError(op string, step int, err error) *TransportError {
	peer := -1
	var pe *group.PeerError
	if errors.As(err, &pe) {
		peer = pe.Peer
	}
	return &TransportError{Op: op, Peer: peer, Step: step, Err: err}
}

func (e *TransportError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("%s failed at step %d: %v", e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }
