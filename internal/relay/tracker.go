package relay

import (
	"sort"
	"time"

	"github.com/mossy-p/call-relay/internal/models"
)

// Tracker holds the start time of active calls keyed by identity.
// Owned by the hub goroutine; not safe for concurrent use.
type Tracker struct {
	active map[string]time.Time
	now    func() time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		active: make(map[string]time.Time),
		now:    now,
	}
}

// Begin records that identity's call started now. An existing record keeps
// its original start time. It reports whether a record was created.
func (t *Tracker) Begin(identity string) bool {
	if _, ok := t.active[identity]; ok {
		return false
	}
	t.active[identity] = t.now()
	return true
}

// End removes identity's record and returns how long the call lasted.
// ok is false when there was no active call.
func (t *Tracker) End(identity string) (time.Duration, bool) {
	start, ok := t.active[identity]
	if !ok {
		return 0, false
	}
	delete(t.active, identity)
	return t.now().Sub(start), true
}

// Forget drops identity's record if present. Safe to call repeatedly.
func (t *Tracker) Forget(identity string) bool {
	if _, ok := t.active[identity]; !ok {
		return false
	}
	delete(t.active, identity)
	return true
}

// Len is the number of active calls.
func (t *Tracker) Len() int { return len(t.active) }

// Active returns the active calls ordered by start time.
func (t *Tracker) Active() []models.ActiveCall {
	out := make([]models.ActiveCall, 0, len(t.active))
	for identity, start := range t.active {
		out = append(out, models.ActiveCall{Identity: identity, StartedAt: start})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
