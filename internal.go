package serialbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// openPorts records every port name with a live (or still opening) session in
// this process. The driver enforces exclusivity between processes.
var openPorts = struct {
	sync.Mutex
	names map[string]struct{}
}{names: make(map[string]struct{})}

func claimPort(name string) bool {
	openPorts.Lock()
	defer openPorts.Unlock()
	if _, taken := openPorts.names[name]; taken {
		return false
	}
	openPorts.names[name] = struct{}{}
	return true
}

func releasePort(name string) {
	openPorts.Lock()
	delete(openPorts.names, name)
	openPorts.Unlock()
}

func classifyOpenError(err error) OpenReason {
	switch {
	case errors.Is(err, ErrPortBusy):
		return OpenBusy
	case errors.Is(err, ErrUnsupportedMode):
		return OpenUnsupported
	case errors.Is(err, ErrOpenTimeout), errors.Is(err, context.DeadlineExceeded):
		return OpenTimeout
	}
	return OpenFailed
}

func newOpenError(port string, err error) *OpenError {
	return &OpenError{Port: port, Reason: classifyOpenError(err), Err: err}
}

// handleOpenError closes a port that opened but could not be set up, joining
// any error from closing with the original error.
func handleOpenError(port SerialPort, err error) error {
	if port == nil {
		return err
	}
	if e := port.Close(); e != nil {
		err = errors.Join(err, e)
	}
	return err
}

// abandonOpen waits for an open that outlived its caller. A late handle is
// closed and the port name released only then, so a second Open cannot race
// the first one into the driver.
func abandonOpen(name string, results <-chan openResult, log func(error)) {
	go func() {
		r := <-results
		if r.port != nil {
			if err := r.port.Close(); err != nil && log != nil {
				log(fmt.Errorf("closing late handle: %w", err))
			}
		}
		releasePort(name)
	}()
}

type openResult struct {
	port SerialPort
	err  error
}
