package siterecord

import (
	"testing"
	"time"

	"github.com/abstractivemachines/backendwatch/internal/prober"
)

// newTestClock returns a *time.Time the test can advance plus the func
// SiteRecord should use as its clock, mirroring the healthmonitor
// CircuitBreaker's injectable `now` field.
func newTestClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func newSite(cfg Config, now func() time.Time) *SiteRecord {
	s := New(cfg)
	s.SetClock(now)
	return s
}

// S1 — trigger offline: repeated failures cross maxFailed and Derive emits
// exactly one offline, then nothing further within the cooldown.
func TestS1_TriggerOffline(t *testing.T) {
	clock, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 1}
	s := newSite(cfg, now)

	var all []Action
	for i := 0; i < 4; i++ { // t=0,5,10,15s -> 4 failures, count caps at 3
		s.Update([]prober.Result{{Server: "A", Status: 500}, {Server: "B", Status: 200}})
		all = append(all, s.Derive()...)
		*clock = clock.Add(5 * time.Second)
	}

	var offlines []Action
	for _, a := range all {
		if a.Host == "A" && a.Kind == Offline {
			offlines = append(offlines, a)
		}
	}
	if len(offlines) != 1 {
		t.Fatalf("expected exactly one offline emission for A, got %+v", all)
	}
	if _, ok := s.Inactive()["A"]; !ok {
		t.Fatalf("expected A in inactive set")
	}

	// Subsequent cycles within the cooldown emit nothing for A.
	for i := 0; i < 3; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 500}})
		acts := s.Derive()
		for _, a := range acts {
			if a.Host == "A" {
				t.Fatalf("expected no emission for A within cooldown, got %+v", a)
			}
		}
		*clock = clock.Add(5 * time.Second)
	}
}

// S2 — safety cap: two hosts cross the threshold in the same cycle with
// maxInactive=1; exactly one gets offline, the other gets notify.
func TestS2_SafetyCap(t *testing.T) {
	_, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 1}
	s := newSite(cfg, now)

	// Drive both A and B to count=3 without tripping Derive early.
	for i := 0; i < 3; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 500}, {Server: "B", Status: 500}, {Server: "C", Status: 200}})
	}

	actions := s.Derive()
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %+v", actions)
	}

	var offlineCount, notifyCount int
	for _, a := range actions {
		switch a.Kind {
		case Offline:
			offlineCount++
		case Notify:
			notifyCount++
		}
	}
	if offlineCount != 1 || notifyCount != 1 {
		t.Fatalf("expected exactly one offline and one notify, got %+v", actions)
	}
	if len(s.Inactive()) != 1 {
		t.Fatalf("expected |inactive|=1, got %d", len(s.Inactive()))
	}
}

// S3 — recovery: after enough successes, count reaches 0, Derive emits
// online, and the record is garbage collected.
func TestS3_Recovery(t *testing.T) {
	clock, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 1}
	s := newSite(cfg, now)

	for i := 0; i < 3; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 500}})
		s.Derive()
		*clock = clock.Add(5 * time.Second)
	}
	if _, ok := s.Inactive()["A"]; !ok {
		t.Fatalf("expected A offlined before recovery phase")
	}

	*clock = clock.Add(300 * time.Second)

	var actions []Action
	for i := 0; i < 3; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 200}})
		actions = append(actions, s.Derive()...)
		*clock = clock.Add(5 * time.Second)
	}

	if len(actions) != 1 || actions[0].Kind != Online || actions[0].Host != "A" {
		t.Fatalf("expected online emission for A, got %+v", actions)
	}
	if _, ok := s.Inactive()["A"]; ok {
		t.Fatalf("expected A removed from inactive")
	}
	if s.Count("A") != 0 {
		t.Fatalf("expected record for A to be gone (count 0), got %d", s.Count("A"))
	}
}

// S4 — window reset: two failures, then a success, then a failure after the
// window has expired; count should reset to 1, not resume at 2.
func TestS4_WindowReset(t *testing.T) {
	clock, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 1}
	s := newSite(cfg, now)

	s.Update([]prober.Result{{Server: "A", Status: 500}}) // t=0, count=1
	*clock = clock.Add(10 * time.Second)
	s.Update([]prober.Result{{Server: "A", Status: 500}}) // t=10, count=2
	*clock = clock.Add(5 * time.Second)
	s.Update([]prober.Result{{Server: "A", Status: 200}}) // t=15, count=1 (expireAt=75)

	*clock = time.Unix(200, 0) // t=200 > expireAt(75): window reset
	s.Update([]prober.Result{{Server: "A", Status: 500}})

	if got := s.Count("A"); got != 1 {
		t.Fatalf("expected count reset to 1 after expired window, got %d", got)
	}
}

// S5 — re-action while offline: a still-failing offlined host re-emits
// offline once its action cooldown expires.
func TestS5_ReactionWhileOffline(t *testing.T) {
	clock, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 1}
	s := newSite(cfg, now)

	var offlineAt time.Time
	for i := 0; i < 3; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 500}})
		if acts := s.Derive(); len(acts) == 1 {
			offlineAt = *clock
		}
		*clock = clock.Add(1 * time.Second)
	}
	// A is now offline, nextActionAt = offlineAt + autoInterval(300s).
	nextActionAt := offlineAt.Add(300 * time.Second)

	// A keeps failing every 30s, inside the 60s window, until just before
	// the cooldown expires; nothing is emitted for it meanwhile.
	for *clock = offlineAt.Add(30 * time.Second); clock.Before(nextActionAt.Add(-time.Second)); *clock = clock.Add(30 * time.Second) {
		s.Update([]prober.Result{{Server: "A", Status: 500}})
		if acts := s.Derive(); len(acts) != 0 {
			t.Fatalf("expected no emission while A keeps failing within cooldown, got %+v", acts)
		}
	}

	*clock = nextActionAt.Add(-time.Second)
	s.Update([]prober.Result{{Server: "A", Status: 500}})
	if acts := s.Derive(); len(acts) != 0 {
		t.Fatalf("expected no emission just before cooldown expiry, got %+v", acts)
	}

	*clock = nextActionAt.Add(time.Second)
	s.Update([]prober.Result{{Server: "A", Status: 500}})
	acts := s.Derive()
	if len(acts) != 1 || acts[0].Kind != Offline || acts[0].Host != "A" {
		t.Fatalf("expected re-emitted offline after cooldown expiry, got %+v", acts)
	}
}

// S6 — mixed: healthy hosts produce no emissions; emissions begin only once
// a host's count reaches maxFailed.
func TestS6_Mixed(t *testing.T) {
	clock, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 2}
	s := newSite(cfg, now)

	s.Update([]prober.Result{
		{Server: "A", Status: 200}, {Server: "B", Status: 200},
		{Server: "C", Status: 200}, {Server: "D", Status: 200},
	})
	if acts := s.Derive(); len(acts) != 0 {
		t.Fatalf("expected no emissions for all-healthy cycle, got %+v", acts)
	}

	for i := 0; i < 2; i++ {
		s.Update([]prober.Result{{Server: "X", Status: 500}})
		if acts := s.Derive(); len(acts) != 0 {
			t.Fatalf("expected no emission before threshold, got %+v", acts)
		}
		*clock = clock.Add(1 * time.Second)
	}
	s.Update([]prober.Result{{Server: "X", Status: 500}})
	acts := s.Derive()
	if len(acts) != 1 || acts[0].Kind != Offline {
		t.Fatalf("expected offline once threshold reached, got %+v", acts)
	}
}

// Invariant: count is always within [0, maxFailed].
func TestInvariant_CountBounds(t *testing.T) {
	_, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 5}
	s := newSite(cfg, now)

	for i := 0; i < 10; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 500}})
	}
	if c := s.Count("A"); c < 0 || c > cfg.MaxFailed {
		t.Fatalf("count out of bounds: %d", c)
	}

	for i := 0; i < 20; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 200}})
	}
	if c := s.Count("A"); c < 0 {
		t.Fatalf("count went negative: %d", c)
	}
}

// Idempotence: feeding success repeatedly to a never-failed host produces no
// record and no emissions.
func TestIdempotence_HealthyHostNeverRecorded(t *testing.T) {
	_, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 3, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 1}
	s := newSite(cfg, now)

	for i := 0; i < 5; i++ {
		s.Update([]prober.Result{{Server: "A", Status: 200}})
		if acts := s.Derive(); len(acts) != 0 {
			t.Fatalf("expected no emissions, got %+v", acts)
		}
	}
	if s.Count("A") != 0 {
		t.Fatalf("expected no record created for a healthy-only host")
	}
}

func TestErrorHosts_UnionOfInactiveAndAtThreshold(t *testing.T) {
	_, now := newTestClock(time.Unix(0, 0))
	cfg := Config{MaxFailed: 2, Duration: 60 * time.Second, AutoInterval: 300 * time.Second, MaxInactive: 5}
	s := newSite(cfg, now)

	s.Update([]prober.Result{{Server: "A", Status: 500}, {Server: "A", Status: 500}})
	s.Derive()

	hosts := s.ErrorHosts()
	if _, ok := hosts["A"]; !ok {
		t.Fatalf("expected A in error hosts, got %+v", hosts)
	}
}
