package serialbridge

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Metrics tracks serial bridge health statistics. The zero value is ready to
// use and may be shared by several sessions.
type Metrics struct {
	// Session lifecycle
	OpenAttempts        atomic.Int64
	SuccessfulOpens     atomic.Int64
	OpenFailures        atomic.Int64
	OpenTimeouts        atomic.Int64
	BusyErrors          atomic.Int64
	Closes              atomic.Int64
	CurrentSessions     atomic.Int64
	LastOpenTime        atomic.Int64 // Unix timestamp
	LastCloseTime       atomic.Int64 // Unix timestamp
	TotalUptime         atomic.Int64 // ns
	ConnectionStartTime atomic.Int64 // UnixNano of the current session

	// Receive path
	ChunksDelivered atomic.Int64
	BytesRead       atomic.Int64
	EmptyEvents     atomic.Int64 // reads that returned no bytes, idle timeouts included
	ReadErrors      atomic.Int64
	ConsumerPanics  atomic.Int64
	LargestChunk    atomic.Int64
	LastReadTime    atomic.Int64 // Unix timestamp

	// Transmit path
	SendOperations atomic.Int64
	SendErrors     atomic.Int64
	BytesWritten   atomic.Int64
	TotalWriteTime atomic.Int64 // ns
	MaxWriteTime   atomic.Int64 // ns
	LastWriteTime  atomic.Int64 // Unix timestamp

	// Health Indicators
	ConsecutiveFailures atomic.Int64
	LastErrorTime       atomic.Int64 // Unix timestamp
}

// HealthStatus represents the overall health of the bridge.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time view of Metrics for display or export.
type MetricsSnapshot struct {
	Timestamp    time.Time    `json:"timestamp"`
	Port         string       `json:"port,omitempty"`
	IsConnected  bool         `json:"is_connected"`
	HealthStatus HealthStatus `json:"health_status"`
	HealthScore  float64      `json:"health_score"`

	OpenSuccessRate     float64       `json:"open_success_rate"`
	SendSuccessRate     float64       `json:"send_success_rate"`
	ReadErrorRate       float64       `json:"read_error_rate"`
	AverageWriteLatency time.Duration `json:"average_write_latency"`
	MaxWriteLatency     time.Duration `json:"max_write_latency"`
	BytesPerSecond      float64       `json:"bytes_per_second"`
	UptimeSeconds       float64       `json:"uptime_seconds"`
	BufferPoolHitRatio  float64       `json:"buffer_pool_hit_ratio"`

	TotalChunks         int64 `json:"total_chunks"`
	TotalBytesRead      int64 `json:"total_bytes_read"`
	TotalBytesWritten   int64 `json:"total_bytes_written"`
	EmptyEvents         int64 `json:"empty_events"`
	ReadErrors          int64 `json:"read_errors"`
	SendErrors          int64 `json:"send_errors"`
	ConsumerPanics      int64 `json:"consumer_panics"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`
}

// MetricsBroadcaster periodically publishes snapshots on a channel.
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	broadcastTicker  *time.Ticker
	enabled          atomic.Bool
	stopCh           chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once
	// sendMu orders sends against closing the channel.
	sendMu sync.Mutex
}

func NewMetricsBroadcaster(channelSize int64, interval time.Duration) *MetricsBroadcaster {
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		stopCh:           make(chan struct{}),
		emissionInterval: interval,
	}
}

// Start begins broadcasting whatever source returns on every tick.
func (mb *MetricsBroadcaster) Start(source func() MetricsSnapshot) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return // Already running
	}

	mb.broadcastTicker = time.NewTicker(mb.emissionInterval)

	go func() {
		defer mb.broadcastTicker.Stop()

		for {
			select {
			case <-mb.stopCh:
				return
			case <-mb.broadcastTicker.C:
				mb.broadcast(source)
			}
		}
	}()
}

// Stop stops broadcasting and closes the channel.
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
			mb.sendMu.Lock()
			close(mb.metricsChannel)
			mb.sendMu.Unlock()
		})
	}
}

// BroadcastImmediate sends a snapshot now, outside the tick schedule.
func (mb *MetricsBroadcaster) BroadcastImmediate(source func() MetricsSnapshot) {
	mb.broadcast(source)
}

func (mb *MetricsBroadcaster) Channel() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcast(source func() MetricsSnapshot) {
	if !mb.enabled.Load() {
		return
	}

	snapshot := source()

	mb.sendMu.Lock()
	defer mb.sendMu.Unlock()
	if !mb.enabled.Load() {
		return
	}
	// Non-blocking; a slow reader misses snapshots.
	select {
	case mb.metricsChannel <- snapshot:
	default:
	}
}

// Snapshot computes derived rates. isConnected and port describe the current
// session, pool may be nil.
func (m *Metrics) Snapshot(port string, isConnected bool, pool *BufferPool) MetricsSnapshot {
	startTime := m.ConnectionStartTime.Load()

	s := MetricsSnapshot{
		Timestamp:   time.Now(),
		Port:        port,
		IsConnected: isConnected,

		OpenSuccessRate:     m.calculateOpenSuccessRate(),
		SendSuccessRate:     m.calculateSendSuccessRate(),
		ReadErrorRate:       m.calculateReadErrorRate(),
		AverageWriteLatency: m.calculateAverageWriteLatency(),
		MaxWriteLatency:     time.Duration(m.MaxWriteTime.Load()),
		BytesPerSecond:      m.calculateThroughput(isConnected, startTime),
		UptimeSeconds:       m.calculateUptime(isConnected, startTime),

		TotalChunks:         m.ChunksDelivered.Load(),
		TotalBytesRead:      m.BytesRead.Load(),
		TotalBytesWritten:   m.BytesWritten.Load(),
		EmptyEvents:         m.EmptyEvents.Load(),
		ReadErrors:          m.ReadErrors.Load(),
		SendErrors:          m.SendErrors.Load(),
		ConsumerPanics:      m.ConsumerPanics.Load(),
		ConsecutiveFailures: m.ConsecutiveFailures.Load(),
	}
	if pool != nil {
		s.BufferPoolHitRatio = pool.Stats().HitRatio()
	}

	s.HealthStatus = assessHealthStatus(&s)
	s.HealthScore = calculateHealthScore(&s)
	return s
}

func (m *Metrics) calculateOpenSuccessRate() float64 {
	attempts := m.OpenAttempts.Load()
	if attempts == 0 {
		return 100.0
	}
	return float64(m.SuccessfulOpens.Load()) / float64(attempts) * 100
}

func (m *Metrics) calculateSendSuccessRate() float64 {
	sends := m.SendOperations.Load()
	if sends == 0 {
		return 100.0
	}
	return float64(sends-m.SendErrors.Load()) / float64(sends) * 100
}

// calculateReadErrorRate is failed drain cycles as a percentage of all
// cycles that produced either data or an error.
func (m *Metrics) calculateReadErrorRate() float64 {
	errs := m.ReadErrors.Load()
	total := errs + m.ChunksDelivered.Load()
	if total == 0 {
		return 0.0
	}
	return float64(errs) / float64(total) * 100
}

func (m *Metrics) calculateAverageWriteLatency() time.Duration {
	writes := m.SendOperations.Load()
	if writes == 0 {
		return 0
	}
	return time.Duration(m.TotalWriteTime.Load() / writes)
}

func (m *Metrics) calculateThroughput(isConnected bool, connectionStartTime int64) float64 {
	seconds := m.calculateUptime(isConnected, connectionStartTime)
	if seconds <= 0 {
		return 0.0
	}
	totalBytes := m.BytesRead.Load() + m.BytesWritten.Load()
	return float64(totalBytes) / seconds
}

func (m *Metrics) calculateUptime(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	duration := time.Now().UnixNano() - connectionStartTime
	if duration <= 0 {
		return 0.0
	}
	return float64(duration) / float64(time.Second)
}

func assessHealthStatus(s *MetricsSnapshot) HealthStatus {
	if !s.IsConnected {
		return HealthStatusDown
	}

	errorRate := max(s.ReadErrorRate, 100-s.SendSuccessRate)
	if errorRate > 50.0 || s.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}
	if errorRate > 10.0 || s.ConsecutiveFailures > 3 || s.ConsumerPanics > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

func calculateHealthScore(s *MetricsSnapshot) float64 {
	if !s.IsConnected {
		return 0.0
	}

	score := 100.0
	score -= s.ReadErrorRate * 2
	score -= (100 - s.SendSuccessRate) * 2
	// Consecutive failures are penalised hardest.
	score -= float64(s.ConsecutiveFailures) * 10

	return max(score, 0)
}

// Recording helpers. All are safe on a nil receiver.

func (m *Metrics) recordOpen(at time.Time) {
	if m == nil {
		return
	}
	m.SuccessfulOpens.Inc()
	m.CurrentSessions.Inc()
	m.LastOpenTime.Store(at.Unix())
	m.ConnectionStartTime.Store(at.UnixNano())
	m.ConsecutiveFailures.Store(0)
}

func (m *Metrics) recordOpenFailure(reason OpenReason) {
	if m == nil {
		return
	}
	m.OpenFailures.Inc()
	switch reason {
	case OpenTimeout:
		m.OpenTimeouts.Inc()
	case OpenBusy:
		m.BusyErrors.Inc()
	}
	m.recordError()
}

func (m *Metrics) recordClose(openedAt time.Time) {
	if m == nil {
		return
	}
	m.Closes.Inc()
	m.CurrentSessions.Dec()
	m.TotalUptime.Add(time.Since(openedAt).Nanoseconds())
	m.LastCloseTime.Store(time.Now().Unix())
	m.ConnectionStartTime.Store(0)
}

func (m *Metrics) recordChunk(c Chunk) {
	if m == nil {
		return
	}
	n := int64(len(c.Data))
	m.ChunksDelivered.Inc()
	m.BytesRead.Add(n)
	m.LastReadTime.Store(c.Received.Unix())
	m.ConsecutiveFailures.Store(0)
	for {
		current := m.LargestChunk.Load()
		if n <= current || m.LargestChunk.CompareAndSwap(current, n) {
			break
		}
	}
}

func (m *Metrics) recordReadError() {
	if m == nil {
		return
	}
	m.ReadErrors.Inc()
	m.recordError()
}

func (m *Metrics) recordWrite(n int, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.SendOperations.Inc()
	m.LastWriteTime.Store(time.Now().Unix())
	m.TotalWriteTime.Add(d.Nanoseconds())
	for {
		current := m.MaxWriteTime.Load()
		if d.Nanoseconds() <= current || m.MaxWriteTime.CompareAndSwap(current, d.Nanoseconds()) {
			break
		}
	}
	m.BytesWritten.Add(int64(n))
	if err != nil {
		m.SendErrors.Inc()
		m.recordError()
		return
	}
	m.ConsecutiveFailures.Store(0)
}

func (m *Metrics) recordError() {
	m.ConsecutiveFailures.Inc()
	m.LastErrorTime.Store(time.Now().Unix())
}
