// Package siterecord implements the per-host window counter and the
// per-site decision engine that turns probe results into offline/notify/
// online actions.
package siterecord

import "time"

// HostRecord is the per-backend, per-site state: a failure counter bounded
// by maxFailed, a sliding expiry window, and two cooldown timers that
// debounce offline actions and notify-only messages for this host.
type HostRecord struct {
	count        int
	expireAt     time.Time
	nextActionAt time.Time // zero value means "due now"
	nextNotifyAt time.Time
	lastStatus   int

	maxFailed int
	duration  time.Duration
}

// newHostRecord creates a record for a host observed failing for the first
// time. The action/notify timers are left at the zero value (due
// immediately) rather than armed with a grace period, so a host that trips
// straight to maxFailed on its first update can still be actioned/notified
// in the same cycle.
func newHostRecord(now time.Time, maxFailed int, duration time.Duration) *HostRecord {
	return &HostRecord{
		count:     clamp(1, 0, maxFailed),
		expireAt:  now.Add(duration),
		maxFailed: maxFailed,
		duration:  duration,
	}
}

// update applies delta to the failure counter, sliding-window style: if now
// is still within the previous window, delta is added (and the result
// clamped to [0, maxFailed]); otherwise the window has expired and the
// counter is reset to delta, clamped the same way. The window is always extended from
// now regardless of which branch ran.
func (h *HostRecord) update(delta int, now time.Time) {
	if !now.After(h.expireAt) {
		h.count = clamp(h.count+delta, 0, h.maxFailed)
	} else {
		h.count = clamp(delta, 0, h.maxFailed)
	}
	h.expireAt = now.Add(h.duration)
}

// setStatus records the most recent probe status for this host.
func (h *HostRecord) setStatus(status int) {
	h.lastStatus = status
}

// isNotifyDue reports whether another notify-only message may be sent now.
func (h *HostRecord) isNotifyDue(now time.Time) bool {
	return h.nextNotifyAt.IsZero() || !h.nextNotifyAt.After(now)
}

// isActionDue reports whether another offline-style action may be taken now.
func (h *HostRecord) isActionDue(now time.Time) bool {
	return h.nextActionAt.IsZero() || !h.nextActionAt.After(now)
}

// armAction sets the action cooldown to fire again no earlier than
// now+autoInterval.
func (h *HostRecord) armAction(now time.Time, autoInterval time.Duration) {
	h.nextActionAt = now.Add(autoInterval)
}

// armNotify sets the notify cooldown to fire again no earlier than
// now+autoInterval.
func (h *HostRecord) armNotify(now time.Time, autoInterval time.Duration) {
	h.nextNotifyAt = now.Add(autoInterval)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
