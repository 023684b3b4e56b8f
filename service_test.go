package serialbridge

import (
	"errors"
	"testing"
	"time"

	"github.com/Station-Manager/logging"
)

// createService builds an initialized Service whose driver is backed by mp and
// whose platform reports ports.
func createService(t *testing.T, mp *mockPort, ports []string, candidates ...string) *Service {
	t.Helper()

	withPorts(t, ports...)
	withMockDriver(t, mp)

	cfg := testConfig(candidates...)
	// An uninitialized logging service discards every event.
	service := &Service{LoggerService: &logging.Service{}, Config: &cfg}
	if err := service.Initialize(); err != nil {
		t.Fatalf("Failed to initialize service: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })
	return service
}

func TestService_InitializeRequiresDependencies(t *testing.T) {
	cfg := testConfig("COM12")
	ls := &logging.Service{}

	if err := (&Service{LoggerService: ls}).Initialize(); err == nil {
		t.Fatal("expected error without config")
	}
	if err := (&Service{Config: &cfg}).Initialize(); err == nil {
		t.Fatal("expected error without logger service")
	}

	bad := testConfig()
	if err := (&Service{LoggerService: ls, Config: &bad}).Initialize(); err == nil {
		t.Fatal("expected error for config without candidates")
	}
}

func TestService_InitializeOnce(t *testing.T) {
	cfg := testConfig()
	service := &Service{LoggerService: &logging.Service{}, Config: &cfg}

	first := service.Initialize()
	cfg.CandidatePorts = []string{"COM12"}
	if second := service.Initialize(); second != first {
		t.Fatalf("Initialize should return the first result, got %v then %v", first, second)
	}
}

func TestService_NotInitialized(t *testing.T) {
	var service Service

	if _, err := service.Start(t.Context(), nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Start: expected ErrNotInitialized, got %v", err)
	}
	if err := service.Send(1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Send: expected ErrNotInitialized, got %v", err)
	}
	if err := service.Close(); err != nil {
		t.Fatalf("Close on idle service: %v", err)
	}
}

func TestService_StartSendLatestClose(t *testing.T) {
	mp := newMockPort()
	service := createService(t, mp, []string{"COM3", "COM12"}, "COM12", "COM3")

	display := NewChannelSink(8)
	id, err := service.Start(t.Context(), display)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id.Name != "COM12" {
		t.Fatalf("Start picked %q, want COM12", id.Name)
	}
	if got, ok := service.Port(); !ok || got.Name != "COM12" {
		t.Fatalf("Port() = %v, %v", got, ok)
	}

	if _, ok := service.Latest(); ok {
		t.Fatal("Latest should be empty before any data")
	}

	mp.push([]byte{0x10, 0x20}, []byte{0x30})
	for want := uint64(1); want <= 2; want++ {
		select {
		case c := <-display.C():
			if c.Seq != want {
				t.Fatalf("display got Seq %d, want %d", c.Seq, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("display did not receive chunk")
		}
	}
	if c, ok := service.Latest(); !ok || c.Seq != 2 || c.Data[0] != 0x30 {
		t.Fatalf("Latest() = %+v, %v", c, ok)
	}

	if err = service.Send(0x41); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if w := mp.written(); len(w) != 1 || w[0][0] != 0x41 {
		t.Fatalf("unexpected writes: %v", w)
	}

	if err = service.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err = service.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if !mp.isClosed() {
		t.Fatal("port not closed")
	}
	if err = service.Send(0x42); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Send after Close: expected ErrNotStarted, got %v", err)
	}
}

func TestService_StartTwice(t *testing.T) {
	service := createService(t, newMockPort(), []string{"COM12"}, "COM12")

	if _, err := service.Start(t.Context(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := service.Start(t.Context(), nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestService_RestartAfterClose(t *testing.T) {
	ports := []*mockPort{newMockPort(), newMockPort()}
	service := createService(t, ports[0], []string{"COM12"}, "COM12")
	opened := 0
	withDriver(t, func(Driver, string, LineConfig, time.Duration) (SerialPort, error) {
		p := ports[opened]
		opened++
		return p, nil
	})

	if _, err := service.Start(t.Context(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ports[0].push([]byte("old"))
	waitFor(t, "first chunk", func() bool { _, ok := service.Latest(); return ok })

	if err := service.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := service.Start(t.Context(), nil); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if _, ok := service.Latest(); ok {
		t.Fatal("Latest should reset on restart")
	}
	if opened != 2 {
		t.Fatalf("driver opened %d times", opened)
	}
}

func TestService_PortNotFound(t *testing.T) {
	mp := newMockPort()
	service := createService(t, mp, []string{"COM3"}, "COM12")

	_, err := service.Start(t.Context(), nil)
	if !errors.Is(err, ErrPortNotFound) {
		t.Fatalf("expected ErrPortNotFound, got %v", err)
	}
	if _, ok := service.Port(); ok {
		t.Fatal("no port should be open")
	}
	if mp.closeCount.Load() != 0 || len(mp.written()) != 0 {
		t.Fatal("driver should not have been touched")
	}
}

func TestService_OpenFailure(t *testing.T) {
	service := createService(t, newMockPort(), []string{"COM12"}, "COM12")
	withDriver(t, func(Driver, string, LineConfig, time.Duration) (SerialPort, error) {
		return nil, ErrPortBusy
	})

	_, err := service.Start(t.Context(), nil)
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Reason != OpenBusy {
		t.Fatalf("expected busy OpenError, got %v", err)
	}
	if m := service.GetMetrics(); m.OpenFailures.Load() != 1 {
		t.Fatalf("OpenFailures = %d", m.OpenFailures.Load())
	}
}

func TestService_MetricsBroadcasting(t *testing.T) {
	service := createService(t, newMockPort(), []string{"COM12"}, "COM12")

	if _, err := service.MetricsChannel(); err == nil {
		t.Fatal("expected error before broadcasting starts")
	}
	if err := service.StartMetricsBroadcasting(0); err == nil {
		t.Fatal("expected error for zero interval")
	}

	if _, err := service.Start(t.Context(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := service.StartMetricsBroadcasting(time.Hour); err != nil {
		t.Fatalf("StartMetricsBroadcasting failed: %v", err)
	}
	defer service.StopMetricsBroadcasting()

	ch, err := service.MetricsChannel()
	if err != nil {
		t.Fatalf("MetricsChannel failed: %v", err)
	}

	service.BroadcastMetricsImmediate()
	select {
	case snap := <-ch:
		if !snap.IsConnected || snap.Port != "COM12" {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("Did not receive metrics within timeout")
	}

	_ = service.Close()
	if snap := service.GetMetricsSnapshot(); snap.IsConnected || snap.HealthStatus != HealthStatusDown {
		t.Fatalf("closed service should report down: %+v", snap)
	}
}
