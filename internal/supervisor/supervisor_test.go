package supervisor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abstractivemachines/backendwatch/internal/metrics"
	"github.com/abstractivemachines/backendwatch/internal/prober"
	"github.com/abstractivemachines/backendwatch/internal/siterecord"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	mu               sync.Mutex
	offlined, onlined []string
}

func (g *fakeGateway) GetServers(ctx context.Context) (map[string]struct{}, error) { return nil, nil }

func (g *fakeGateway) Offline(ctx context.Context, host string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offlined = append(g.offlined, host)
	return nil
}

func (g *fakeGateway) Online(ctx context.Context, host string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onlined = append(g.onlined, host)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) SendAll(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (l *fakeLauncher) Launch(ctx context.Context, recoverType, name, host string) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.done != nil {
		l.done <- struct{}{}
	}
}

func newBackend(t *testing.T, healthy *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if *healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
}

func serverAddr(srv *httptest.Server) string {
	return srv.Listener.Addr().String()
}

func TestCycleSite_OfflineDispatchesGatewayActionAndNotify(t *testing.T) {
	healthy := false
	backend := newBackend(t, &healthy)
	defer backend.Close()

	gw := &fakeGateway{}
	notifier := &fakeNotifier{}
	done := make(chan struct{}, 1)
	launcher := &fakeLauncher{done: done}

	site := &Site{
		Name:    "svc.example.com",
		Path:    "/healthz",
		Method:  http.MethodGet,
		Timeout: time.Second,
		Servers: map[string]struct{}{serverAddr(backend): {}},
		Record: siterecord.New(siterecord.Config{
			MaxFailed: 1, Duration: time.Minute, AutoInterval: 5 * time.Minute, MaxInactive: 1,
		}),
		Gateway: gw,
		Recover: Recover{Enabled: true, Type: "restart_process", Name: "svc"},
		Notify:  notifier,
	}

	sup := New([]*Site{site}, prober.New(backend.Client()), launcher, time.Second, discardLogger(), nil)
	sup.cycleSite(context.Background(), site)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected restart action to be launched")
	}

	if len(gw.offlined) != 1 {
		t.Fatalf("expected gateway Offline to be called once, got %+v", gw.offlined)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one notify message, got %+v", notifier.messages)
	}
}

func TestCycleSite_HealthyServersEmitNoActions(t *testing.T) {
	healthy := true
	backend := newBackend(t, &healthy)
	defer backend.Close()

	gw := &fakeGateway{}
	notifier := &fakeNotifier{}

	site := &Site{
		Name:    "svc.example.com",
		Path:    "/healthz",
		Method:  http.MethodGet,
		Timeout: time.Second,
		Servers: map[string]struct{}{serverAddr(backend): {}},
		Record: siterecord.New(siterecord.Config{
			MaxFailed: 3, Duration: time.Minute, AutoInterval: 5 * time.Minute, MaxInactive: 1,
		}),
		Gateway: gw,
		Notify:  notifier,
	}

	sup := New([]*Site{site}, prober.New(backend.Client()), nil, time.Second, discardLogger(), nil)
	sup.cycleSite(context.Background(), site)

	if len(gw.offlined) != 0 || len(notifier.messages) != 0 {
		t.Fatalf("expected no gateway calls or notifies for a healthy cycle")
	}
}

func TestCycleSite_NoServers_SkipsCycle(t *testing.T) {
	site := &Site{
		Name:    "empty.example.com",
		Servers: map[string]struct{}{},
		Record:  siterecord.New(siterecord.Config{MaxFailed: 1, Duration: time.Minute, AutoInterval: time.Minute, MaxInactive: 1}),
	}

	sup := New([]*Site{site}, prober.New(http.DefaultClient), nil, time.Second, discardLogger(), nil)
	sup.cycleSite(context.Background(), site) // must not panic on nil Gateway/Notify
}

func TestCycleSite_RecoverDisabled_NotifiesWithoutGatewayCall(t *testing.T) {
	healthy := false
	backend := newBackend(t, &healthy)
	defer backend.Close()

	gw := &fakeGateway{}
	notifier := &fakeNotifier{}

	site := &Site{
		Name:    "svc.example.com",
		Path:    "/healthz",
		Method:  http.MethodGet,
		Timeout: time.Second,
		Servers: map[string]struct{}{serverAddr(backend): {}},
		Record: siterecord.New(siterecord.Config{
			MaxFailed: 1, Duration: time.Minute, AutoInterval: 5 * time.Minute, MaxInactive: 1,
		}),
		Gateway: gw,
		Recover: Recover{Enabled: false},
		Notify:  notifier,
	}

	sup := New([]*Site{site}, prober.New(backend.Client()), nil, time.Second, discardLogger(), nil)
	sup.cycleSite(context.Background(), site)

	if len(gw.offlined) != 0 {
		t.Fatalf("expected no gateway call when recover is disabled, got %+v", gw.offlined)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one notify message, got %+v", notifier.messages)
	}
}

func TestCycleSite_RecordsMetrics(t *testing.T) {
	healthy := false
	backend := newBackend(t, &healthy)
	defer backend.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	site := &Site{
		Name:    "svc.example.com",
		Path:    "/healthz",
		Method:  http.MethodGet,
		Timeout: time.Second,
		Servers: map[string]struct{}{serverAddr(backend): {}},
		Record: siterecord.New(siterecord.Config{
			MaxFailed: 3, Duration: time.Minute, AutoInterval: 5 * time.Minute, MaxInactive: 1,
		}),
		Gateway: &fakeGateway{},
		Notify:  &fakeNotifier{},
	}

	sup := New([]*Site{site}, prober.New(backend.Client()), nil, time.Second, discardLogger(), m)
	sup.cycleSite(context.Background(), site)

	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var foundProbes bool
	for _, mf := range gathered {
		if mf.GetName() == "backendwatch_probes_total" {
			foundProbes = true
		}
	}
	if !foundProbes {
		t.Fatalf("expected backendwatch_probes_total to be registered and populated")
	}
}
