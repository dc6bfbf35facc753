package siterecord

import (
	"time"

	"github.com/abstractivemachines/backendwatch/internal/prober"
)

// Kind identifies the action a Derive step emitted for a host.
type Kind int

const (
	Offline Kind = iota
	Notify
	Online
)

func (k Kind) String() string {
	switch k {
	case Offline:
		return "offline"
	case Notify:
		return "notify"
	case Online:
		return "online"
	default:
		return "unknown"
	}
}

// Action is one emitted (kind, host, lastStatus) tuple.
type Action struct {
	Kind       Kind
	Host       string
	LastStatus int
}

// Config bundles the per-site parameters SiteRecord needs to run the
// decision engine: failure threshold, sliding window length, cooldown
// between successive actions/notifies, and the safety cap on how many
// hosts may be offlined at once.
type Config struct {
	MaxFailed    int
	Duration     time.Duration
	AutoInterval time.Duration
	MaxInactive  int
}

// SiteRecord owns the per-host failure records and the set of hosts
// currently believed offline for one site. It is mutated only by the
// Supervisor goroutine driving that site's cycles — see spec §5.
type SiteRecord struct {
	cfg      Config
	record   map[string]*HostRecord
	inactive map[string]struct{}
	now      func() time.Time // overridable for tests
}

// New creates an empty SiteRecord for one site.
func New(cfg Config) *SiteRecord {
	return &SiteRecord{
		cfg:      cfg,
		record:   make(map[string]*HostRecord),
		inactive: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Update absorbs one cycle's probe results. It never emits actions — that
// is Derive's job — so Derive always sees a fully consistent snapshot.
func (s *SiteRecord) Update(results []prober.Result) {
	now := s.now()
	for _, r := range results {
		s.updateOne(r.Status, r.Server, now)
	}
}

// UpdateOne absorbs a single (status, host) probe result. Update is a thin
// wrapper around repeated calls to this; most callers want the batch form.
func (s *SiteRecord) UpdateOne(status int, host string) {
	s.updateOne(status, host, s.now())
}

func (s *SiteRecord) updateOne(status int, host string, now time.Time) {
	if status > 400 {
		rec, ok := s.record[host]
		if !ok {
			rec = newHostRecord(now, s.cfg.MaxFailed, s.cfg.Duration)
			s.record[host] = rec
		} else if _, offline := s.inactive[host]; offline {
			rec.update(0, now)
		} else if rec.count < s.cfg.MaxFailed {
			rec.update(1, now)
		} else {
			rec.update(0, now)
		}
		rec.setStatus(status)
		return
	}

	// Success.
	if rec, ok := s.record[host]; ok && rec.count > 0 {
		rec.update(-1, now)
	}
}

// Derive walks the current records and emits the actions this cycle
// produces, mutating inactive/record as a side effect. The iteration order
// over hosts is unspecified; the only inter-host coupling is the
// |inactive|+1 <= maxInactive check, evaluated against the live inactive
// set as it grows within this call.
func (s *SiteRecord) Derive() []Action {
	now := s.now()
	hosts := make([]string, 0, len(s.record))
	for host := range s.record {
		hosts = append(hosts, host)
	}

	var actions []Action
	for _, host := range hosts {
		rec := s.record[host]

		if rec.count >= s.cfg.MaxFailed {
			_, alreadyOffline := s.inactive[host]
			if alreadyOffline {
				if rec.isActionDue(now) {
					rec.armAction(now, s.cfg.AutoInterval)
					actions = append(actions, Action{Kind: Offline, Host: host, LastStatus: rec.lastStatus})
				}
				continue
			}

			if len(s.inactive)+1 <= s.cfg.MaxInactive {
				s.inactive[host] = struct{}{}
				rec.armAction(now, s.cfg.AutoInterval)
				actions = append(actions, Action{Kind: Offline, Host: host, LastStatus: rec.lastStatus})
			} else if rec.isNotifyDue(now) {
				rec.armNotify(now, s.cfg.AutoInterval)
				actions = append(actions, Action{Kind: Notify, Host: host, LastStatus: rec.lastStatus})
			}
			continue
		}

		// count < maxFailed
		if rec.count == 0 {
			if _, offline := s.inactive[host]; offline {
				delete(s.inactive, host)
				actions = append(actions, Action{Kind: Online, Host: host, LastStatus: rec.lastStatus})
			}
			delete(s.record, host)
		}
	}

	return actions
}

// ErrorHosts returns the union of currently-offline hosts and hosts whose
// failure count has reached maxFailed. It exists purely to build
// notification text; it does not affect engine state.
func (s *SiteRecord) ErrorHosts() map[string]struct{} {
	out := make(map[string]struct{}, len(s.inactive))
	for host := range s.inactive {
		out[host] = struct{}{}
	}
	for host, rec := range s.record {
		if rec.count >= s.cfg.MaxFailed {
			out[host] = struct{}{}
		}
	}
	return out
}

// Inactive returns a snapshot of the hosts currently believed offline.
func (s *SiteRecord) Inactive() map[string]struct{} {
	out := make(map[string]struct{}, len(s.inactive))
	for host := range s.inactive {
		out[host] = struct{}{}
	}
	return out
}

// Count returns the current failure count for a host, for tests and
// invariant checks. Returns 0 if the host has no record.
func (s *SiteRecord) Count(host string) int {
	if rec, ok := s.record[host]; ok {
		return rec.count
	}
	return 0
}

// SetClock overrides the record's time source. Intended for tests.
func (s *SiteRecord) SetClock(now func() time.Time) {
	s.now = now
}
