package serialbridge

import (
	"errors"
	"fmt"
	"time"
)

// Metrics accessor and management methods for Session and Service

// MetricsSnapshot summarises this session's metrics.
func (s *Session) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot(s.identity.Name, !s.closed.Load(), s.pool)
}

// GetMetrics returns the live metrics of the service.
func (p *Service) GetMetrics() *Metrics {
	if p.metrics == nil {
		return &Metrics{} // Return empty metrics if not initialized
	}
	return p.metrics
}

// GetMetricsSnapshot creates a snapshot for display or export.
func (p *Service) GetMetricsSnapshot() MetricsSnapshot {
	if p.metrics == nil {
		return MetricsSnapshot{
			Timestamp:    time.Now(),
			HealthStatus: HealthStatusDown,
		}
	}

	p.mu.Lock()
	s := p.session
	p.mu.Unlock()

	if s == nil {
		return p.metrics.Snapshot("", false, nil)
	}
	return s.MetricsSnapshot()
}

// StartMetricsBroadcasting begins broadcasting metrics to the channel
func (p *Service) StartMetricsBroadcasting(interval time.Duration) error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}
	if interval <= 0 {
		return fmt.Errorf("metrics interval must be positive, got: %v", interval)
	}

	channelSize := p.Config.MetricsChannelSize
	if channelSize <= 0 {
		channelSize = defaultMetricsChannelSize
	} else if channelSize > 10000 {
		// Prevent excessive memory allocation for metrics channel
		return fmt.Errorf("metrics channel size too large: %d (max 10000)", channelSize)
	}

	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()

	if p.metricsBroadcaster != nil {
		p.metricsBroadcaster.Stop()
	}
	p.metricsBroadcaster = NewMetricsBroadcaster(channelSize, interval)
	p.metricsBroadcaster.Start(p.GetMetricsSnapshot)
	return nil
}

// StopMetricsBroadcasting stops broadcasting metrics
func (p *Service) StopMetricsBroadcasting() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	if p.metricsBroadcaster != nil {
		p.metricsBroadcaster.Stop()
		p.metricsBroadcaster = nil
	}
}

// BroadcastMetricsImmediate sends current metrics to channel immediately
func (p *Service) BroadcastMetricsImmediate() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	if p.metricsBroadcaster != nil {
		p.metricsBroadcaster.BroadcastImmediate(p.GetMetricsSnapshot)
	}
}

// MetricsChannel returns the read-only metrics channel for consumers
func (p *Service) MetricsChannel() (<-chan MetricsSnapshot, error) {
	if !p.initialized.Load() {
		return nil, ErrNotInitialized
	}
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	if p.metricsBroadcaster == nil {
		return nil, errors.New("metrics broadcasting not started")
	}
	return p.metricsBroadcaster.Channel(), nil
}
