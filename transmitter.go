package serialbridge

import (
	"errors"
	"fmt"
	"time"
)

const maxWriteRetries = 3

// Send writes one byte to the session's output. A failure leaves the session
// open; the caller decides whether to retry or close.
func Send(s *Session, b byte) error {
	return s.Send(b)
}

func (s *Session) Send(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

// Write implements io.Writer. Partial writes are retried a bounded number of
// times; errors are *SendError.
func (s *Session) Write(p []byte) (int, error) {
	start := time.Now()
	n, err := s.write(p)
	s.metrics.recordWrite(n, err, time.Since(start))
	if err != nil {
		serr := &SendError{Port: s.identity.Name, Err: err}
		s.logger.Debug().Err(serr).Int("bytes", len(p)).Int("written", n).Msg("send failed")
		return n, serr
	}
	return n, nil
}

func (s *Session) write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var total int
	var err error
	for retries := 0; total < len(p) && retries < maxWriteRetries; retries++ {
		n, writeErr := s.port.Write(p[total:])
		total += n
		if writeErr != nil {
			err = writeErr
			break
		}
		if n == 0 {
			// Prevent infinite loop if Write returns 0
			break
		}
	}
	if total < len(p) && err == nil {
		err = ErrShortWrite
	}
	if err != nil && s.closed.Load() && !errors.Is(err, ErrSessionClosed) {
		err = fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	return total, err
}
