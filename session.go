package serialbridge

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// receiverStopTimeout bounds how long Close waits for the notification
// goroutine after the handle has been closed.
const receiverStopTimeout = 250 * time.Millisecond

// Option customises a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger  *zerolog.Logger
	metrics *Metrics
}

// WithLogger routes session logs to l. Without it the session is silent.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithMetrics records session activity into m, which may be shared between
// sessions.
func WithMetrics(m *Metrics) Option {
	return func(o *sessionOptions) { o.metrics = m }
}

// Session is an open, exclusive connection to one serial interface.
type Session struct {
	identity PortIdentity
	cfg      Config
	port     SerialPort

	logger  zerolog.Logger
	readLog zerolog.Logger
	metrics *Metrics
	pool    *BufferPool

	closed   atomic.Bool
	openedAt time.Time

	writeMu sync.Mutex

	listenerMu sync.Mutex
	listener   *Subscription
}

// Open claims the interface described by id and configures it with cfg.Line.
// It waits at most cfg.OpenTimeout (or until ctx is done) for the driver. Every
// failure is an *OpenError.
func Open(ctx context.Context, id PortIdentity, cfg Config, opts ...Option) (*Session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := zerolog.Nop()
	if o.logger != nil {
		logger = *o.logger
	}
	logger = logger.With().Str("port", id.Name).Logger()
	m := o.metrics
	if m == nil {
		m = &Metrics{}
	}

	m.OpenAttempts.Inc()
	fail := func(err *OpenError) (*Session, error) {
		m.recordOpenFailure(err.Reason)
		logger.Error().Err(err).Str("reason", err.Reason.String()).Msg("open failed")
		return nil, err
	}

	if id.Name == "" {
		return fail(&OpenError{Reason: OpenFailed, Err: ErrInvalidPortName})
	}
	if err := validateLine(&cfg); err != nil {
		return fail(&OpenError{Port: id.Name, Reason: OpenUnsupported, Err: fmt.Errorf("%w: %w", ErrUnsupportedMode, err)})
	}
	if !claimPort(id.Name) {
		return fail(&OpenError{Port: id.Name, Reason: OpenBusy, Err: fmt.Errorf("%w: already open in this process", ErrPortBusy)})
	}

	results := make(chan openResult, 1)
	go func() {
		p, err := openDriver(cfg.Driver, id.Name, cfg.Line, cfg.ReadTimeout)
		if err == nil {
			if e := p.SetReadTimeout(cfg.ReadTimeout); e != nil {
				err = handleOpenError(p, e)
				p = nil
			}
		}
		results <- openResult{port: p, err: err}
	}()

	timer := time.NewTimer(cfg.OpenTimeout)
	defer timer.Stop()

	var r openResult
	select {
	case r = <-results:
	case <-timer.C:
		abandonOpen(id.Name, results, func(err error) { logger.Warn().Err(err).Msg("late open") })
		return fail(&OpenError{Port: id.Name, Reason: OpenTimeout, Err: fmt.Errorf("%w after %v", ErrOpenTimeout, cfg.OpenTimeout)})
	case <-ctx.Done():
		abandonOpen(id.Name, results, func(err error) { logger.Warn().Err(err).Msg("late open") })
		return fail(newOpenError(id.Name, ctx.Err()))
	}

	if r.err != nil {
		releasePort(id.Name)
		return fail(newOpenError(id.Name, r.err))
	}

	s := &Session{
		identity: id,
		cfg:      cfg,
		port:     r.port,
		logger:   logger,
		readLog:  logger.Sample(&zerolog.BurstSampler{Burst: 5, Period: 10 * time.Second}),
		metrics:  m,
		pool:     NewBufferPool(cfg.ReadBufferSize),
		openedAt: time.Now(),
	}
	m.recordOpen(s.openedAt)
	logger.Info().Str("line", cfg.Line.String()).Str("driver", string(cfg.Driver)).Msg("port opened")
	return s, nil
}

// Identity returns the interface this session is bound to.
func (s *Session) Identity() PortIdentity {
	return s.identity
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) Metrics() *Metrics {
	return s.metrics
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Input returns the byte stream of the port. It is valid until Close and must
// not be read while a Subscription is attached.
func (s *Session) Input() io.Reader {
	return sessionReader{s}
}

// Output returns the port's writable stream.
func (s *Session) Output() io.Writer {
	return s
}

type sessionReader struct {
	s *Session
}

func (r sessionReader) Read(p []byte) (int, error) {
	if r.s.closed.Load() {
		return 0, ErrSessionClosed
	}
	n, err := r.s.port.Read(p)
	if err != nil {
		if r.s.closed.Load() {
			return n, fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		return n, &ReadError{Port: r.s.identity.Name, Err: err}
	}
	return n, nil
}

// Close detaches any listener, closes the handle and releases the port name.
// Only the first call can fail; later calls return nil.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.listenerMu.Lock()
	sub := s.listener
	s.listener = nil
	s.listenerMu.Unlock()

	if sub != nil {
		sub.stop()
	}

	// Closing the handle unblocks a notification goroutine parked in Read.
	err := s.port.Close()

	if sub != nil {
		select {
		case <-sub.done:
		case <-time.After(receiverStopTimeout):
			s.logger.Warn().Dur("waited", receiverStopTimeout).Msg("receiver did not stop in time")
		}
	}

	releasePort(s.identity.Name)
	s.metrics.recordClose(s.openedAt)

	if err != nil {
		cerr := &CloseError{Port: s.identity.Name, Err: err}
		s.logger.Error().Err(cerr).Msg("close failed")
		return cerr
	}
	s.logger.Info().Msg("port closed")
	return nil
}
