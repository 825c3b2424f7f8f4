package relay

import (
	"context"
	"time"

	"github.com/mossy-p/call-relay/internal/metrics"
)

const (
	presenceQueueSize   = 256
	presenceSyncTimeout = 5 * time.Second
)

// PresenceStore mirrors which identities are online to an external store.
// It is never consulted for routing.
type PresenceStore interface {
	SetOnline(ctx context.Context, identity string) error
	SetOffline(ctx context.Context, identity string) error
	IsOnline(ctx context.Context, identity string) (bool, error)
	Reset(ctx context.Context) error
}

type presenceUpdate struct {
	identity string
	online   bool
}

// queuePresence hands an update to the sync worker without blocking the hub.
func (h *Hub) queuePresence(identity string, online bool) {
	if h.presence == nil {
		return
	}
	select {
	case h.presenceUpdates <- presenceUpdate{identity: identity, online: online}:
	default:
		h.metrics.Inc(metrics.PresenceSyncFailures)
		h.logger.Warn("presence queue full, dropping update", "identity", identity, "online", online)
	}
}

func (h *Hub) syncPresence(updates <-chan presenceUpdate, done chan<- struct{}) {
	defer close(done)
	for u := range updates {
		ctx, cancel := context.WithTimeout(context.Background(), presenceSyncTimeout)
		var err error
		if u.online {
			err = h.presence.SetOnline(ctx, u.identity)
		} else {
			err = h.presence.SetOffline(ctx, u.identity)
		}
		cancel()
		if err != nil {
			h.metrics.Inc(metrics.PresenceSyncFailures)
			h.logger.Warn("presence sync failed", "identity", u.identity, "online", u.online, "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceSyncTimeout)
	defer cancel()
	if err := h.presence.Reset(ctx); err != nil {
		h.logger.Warn("presence reset failed", "err", err)
	}
}
