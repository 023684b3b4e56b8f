package serialbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Station-Manager/logging"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const ServiceName = "serialbridge"

// Service ties the pieces together for an application: find the configured
// port, open it, attach a display sink and keep the latest chunk. It is built
// to be wired by the iocdi container; LoggerService and Config are injected.
// Callers that want a plain zerolog logger use Open directly.
type Service struct {
	LoggerService *logging.Service `di.inject:"loggingservice"`
	Config        *Config          `di.inject:"config"`

	initialized atomic.Bool
	initOnce    sync.Once
	initErr     error

	log     zerolog.Logger
	metrics *Metrics

	mu      sync.Mutex
	session *Session
	sub     *Subscription
	latest  LatestChunk

	metricsMu          sync.Mutex
	metricsBroadcaster *MetricsBroadcaster
}

// Initialize validates the injected dependencies. It runs once; later calls
// return the first result.
func (p *Service) Initialize() error {
	p.initOnce.Do(func() {
		p.initErr = p.doInitialize()
	})
	return p.initErr
}

func (p *Service) doInitialize() error {
	p.metrics = &Metrics{}

	if p.Config == nil {
		return errors.New("serial config has not been set/injected")
	}
	if p.LoggerService == nil {
		return errors.New("logger service has not been set/injected")
	}
	if err := ValidateConfig(p.Config); err != nil {
		return fmt.Errorf("invalid serial bridge configuration: %w", err)
	}

	p.log = newServiceLogger(p.LoggerService).With().Str("component", ServiceName).Logger()
	p.initialized.Store(true)
	return nil
}

// Start finds the highest-priority candidate port, opens it and starts
// delivering chunks to sink. The latest chunk is also kept for Latest.
func (p *Service) Start(ctx context.Context, sink DisplaySink) (PortIdentity, error) {
	if !p.initialized.Load() {
		return PortIdentity{}, ErrNotInitialized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return p.session.Identity(), ErrAlreadyStarted
	}

	cfg := *p.Config

	id, err := FindPort(cfg.CandidatePorts)
	if err != nil {
		p.log.Error().Err(err).Strs("candidates", cfg.CandidatePorts).Msg("no candidate port")
		return PortIdentity{}, err
	}
	p.log.Info().Str("port", id.Name).Str("identity", id.String()).Msg("port selected")

	s, err := Open(ctx, id, cfg, WithLogger(&p.log), WithMetrics(p.metrics))
	if err != nil {
		return id, err
	}

	p.latest.Reset()
	sub, err := s.Attach(ConsumerFor(Tee(&p.latest, sink)))
	if err != nil {
		return id, errors.Join(err, s.Close())
	}

	p.session = s
	p.sub = sub
	return id, nil
}

// Send transmits one byte on the running session.
func (p *Service) Send(b byte) error {
	s, err := p.current()
	if err != nil {
		return err
	}
	return s.Send(b)
}

// Write transmits p on the running session.
func (p *Service) Write(b []byte) (int, error) {
	s, err := p.current()
	if err != nil {
		return 0, err
	}
	return s.Write(b)
}

// Latest returns the most recent chunk of the current run.
func (p *Service) Latest() (Chunk, bool) {
	return p.latest.Load()
}

// Port returns the identity of the open port.
func (p *Service) Port() (PortIdentity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return PortIdentity{}, false
	}
	return p.session.Identity(), true
}

// Close detaches the sink and closes the session. It is safe to call when
// nothing was started and more than once; Start may be called again
// afterwards.
func (p *Service) Close() error {
	p.mu.Lock()
	s, sub := p.session, p.sub
	p.session, p.sub = nil, nil
	p.mu.Unlock()

	if s == nil {
		return nil
	}
	if sub != nil {
		sub.Detach()
	}
	return s.Close()
}

func (p *Service) current() (*Session, error) {
	if !p.initialized.Load() {
		return nil, ErrNotInitialized
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, ErrNotStarted
	}
	return p.session, nil
}
