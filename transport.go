package serialbridge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tarm "github.com/tarm/serial"
	gobug "go.bug.st/serial"
)

// SerialPort abstracts the subset of a serial driver used by this package.
// Read returns (0, nil) when the read timeout elapses with nothing received.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(d time.Duration) error
}

// allow tests to override the driver
var openDriver = openSerialPort

// openSerialPort opens name with the selected backend. readTimeout is only
// used by backends that fix it at open time; callers still apply it through
// SetReadTimeout.
func openSerialPort(d Driver, name string, line LineConfig, readTimeout time.Duration) (SerialPort, error) {
	switch d {
	case DriverBugst, "":
		return openBugst(name, line)
	case DriverTarm:
		return openTarm(name, line, readTimeout)
	}
	return nil, fmt.Errorf("%w: unknown driver %q", ErrUnsupportedMode, d)
}

// bugstPort wraps the concrete go.bug.st/serial.Port to satisfy SerialPort.
type bugstPort struct {
	port gobug.Port
}

// baseMode is what the handle is opened with before the requested line
// parameters are applied. Every tty accepts it.
var baseMode = gobug.Mode{BaudRate: 9600, DataBits: 8, Parity: gobug.NoParity, StopBits: gobug.OneStopBit}

// openBugst opens with baseMode and then applies line through SetMode, which
// reports a rejected parameter with its own error code. Open folds the same
// failure into a generic InvalidSerialPort.
func openBugst(name string, line LineConfig) (SerialPort, error) {
	initial := baseMode
	p, err := gobug.Open(name, &initial)
	if err != nil {
		return nil, translateDriverError(err)
	}

	mode := &gobug.Mode{
		BaudRate: line.BaudRate.Int(),
		DataBits: line.DataBits.Int(),
		Parity:   line.Parity.Get(),
		StopBits: line.StopBits.Get(),
	}
	if err = p.SetMode(mode); err != nil {
		return nil, handleOpenError(&bugstPort{port: p}, translateDriverError(err))
	}
	return &bugstPort{port: p}, nil
}

func (b *bugstPort) Read(p []byte) (int, error) {
	n, err := b.port.Read(p)
	return n, translateDriverError(err)
}

func (b *bugstPort) Write(p []byte) (int, error) {
	n, err := b.port.Write(p)
	return n, translateDriverError(err)
}

func (b *bugstPort) Close() error {
	return translateDriverError(b.port.Close())
}

func (b *bugstPort) SetReadTimeout(d time.Duration) error {
	return translateDriverError(b.port.SetReadTimeout(d))
}

// translateDriverError maps go.bug.st/serial error codes onto the package
// sentinels, keeping the driver error in the chain.
func translateDriverError(err error) error {
	if err == nil {
		return nil
	}

	var code gobug.PortErrorCode
	var pe *gobug.PortError
	var pv gobug.PortError
	switch {
	case errors.As(err, &pe):
		code = pe.Code()
	case errors.As(err, &pv):
		code = pv.Code()
	default:
		return err
	}

	switch code {
	case gobug.PortBusy:
		return fmt.Errorf("%w: %w", ErrPortBusy, err)
	case gobug.InvalidSpeed, gobug.InvalidDataBits, gobug.InvalidParity,
		gobug.InvalidStopBits, gobug.InvalidTimeoutValue:
		return fmt.Errorf("%w: %w", ErrUnsupportedMode, err)
	case gobug.PortClosed:
		return fmt.Errorf("%w: %w", ErrPortClosed, err)
	case gobug.InvalidSerialPort:
		// PortError has no Unwrap; a wrapped mode rejection is only visible
		// in the message.
		if strings.Contains(err.Error(), "invalid or not supported") {
			return fmt.Errorf("%w: %w", ErrUnsupportedMode, err)
		}
	}
	return err
}

// tarmPort adapts github.com/tarm/serial. Its read timeout is fixed when the
// port is opened.
type tarmPort struct {
	port *tarm.Port
}

func openTarm(name string, line LineConfig, readTimeout time.Duration) (SerialPort, error) {
	p, err := tarm.OpenPort(&tarm.Config{
		Name:        name,
		Baud:        line.BaudRate.Int(),
		ReadTimeout: readTimeout,
		Size:        line.DataBits.tarmSize(),
		Parity:      line.Parity.tarm(),
		StopBits:    line.StopBits.tarm(),
	})
	if err != nil {
		return nil, translateTarmError(err)
	}
	return &tarmPort{port: p}, nil
}

func (t *tarmPort) Read(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if errors.Is(err, io.EOF) {
		// posix builds report an expired read timeout as EOF
		return n, nil
	}
	return n, translateTarmError(err)
}

func (t *tarmPort) Write(p []byte) (int, error) {
	n, err := t.port.Write(p)
	return n, translateTarmError(err)
}

func (t *tarmPort) Close() error {
	return translateTarmError(t.port.Close())
}

func (t *tarmPort) SetReadTimeout(time.Duration) error {
	return nil
}

func translateTarmError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tarm.ErrBadSize), errors.Is(err, tarm.ErrBadStopBits), errors.Is(err, tarm.ErrBadParity):
		return fmt.Errorf("%w: %w", ErrUnsupportedMode, err)
	case err.Error() == "Unrecognized baud rate":
		return fmt.Errorf("%w: %w", ErrUnsupportedMode, err)
	case errors.Is(err, os.ErrClosed):
		return fmt.Errorf("%w: %w", ErrPortClosed, err)
	}
	return err
}
