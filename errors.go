package serialbridge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPortNotFound    = errors.New("serialbridge: no candidate port found")
	ErrInvalidPortName = errors.New("serialbridge: invalid port name")
	ErrNoCandidates    = errors.New("serialbridge: no candidate port names configured")

	ErrPortBusy        = errors.New("serialbridge: port busy")
	ErrUnsupportedMode = errors.New("serialbridge: line parameters rejected by driver")
	ErrOpenTimeout     = errors.New("serialbridge: open timed out")
	ErrPortClosed      = errors.New("serialbridge: port closed")

	ErrSessionClosed   = errors.New("serialbridge: session closed")
	ErrAlreadyAttached = errors.New("serialbridge: session already has a listener")
	ErrShortWrite      = errors.New("serialbridge: partial write")

	ErrNotInitialized = errors.New("serialbridge: service not initialized")
	ErrNotStarted     = errors.New("serialbridge: service not started")
	ErrAlreadyStarted = errors.New("serialbridge: service already started")
)

// PortNotFoundError reports that none of the candidate names matched an
// enumerated interface.
type PortNotFoundError struct {
	Candidates []string
	Available  []string
}

func (e *PortNotFoundError) Error() string {
	return fmt.Sprintf("serialbridge: none of [%s] found (available: [%s])",
		strings.Join(e.Candidates, ", "), strings.Join(e.Available, ", "))
}

func (e *PortNotFoundError) Is(target error) bool {
	return target == ErrPortNotFound
}

type OpenReason int

const (
	OpenFailed OpenReason = iota
	OpenBusy
	OpenUnsupported
	OpenTimeout
)

func (r OpenReason) String() string {
	switch r {
	case OpenBusy:
		return "busy"
	case OpenUnsupported:
		return "unsupported"
	case OpenTimeout:
		return "timeout"
	}
	return "failed"
}

// OpenError is returned by Open. Reason says which kind of failure it was;
// Err holds the driver's cause.
type OpenError struct {
	Port   string
	Reason OpenReason
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("serialbridge: open %s: %s: %v", e.Port, e.Reason, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ReadError is a transient failure of one drain cycle. It is logged and
// counted but never ends a subscription.
type ReadError struct {
	Port string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("serialbridge: read %s: %v", e.Port, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// SendError is returned by Send and Write. The session stays open.
type SendError struct {
	Port string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("serialbridge: send %s: %v", e.Port, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type CloseError struct {
	Port string
	Err  error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("serialbridge: close %s: %v", e.Port, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}
