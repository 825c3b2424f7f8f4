package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/models"
)

const defaultSendBufferSize = 256

// Options configures a Hub.
type Options struct {
	DuplicatePolicy DuplicatePolicy

	// TrackCallDuration starts an active-call record for both parties when a
	// call is answered. Off by default, in which case nothing ever begins a
	// record and endCall only reports that no call is active.
	TrackCallDuration bool

	SendBufferSize       int
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	Presence PresenceStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Request is one inbound event from a registered connection.
type Request struct {
	Event models.EventType
	From  *Client
	Data  models.InboundData
}

type registration struct {
	client *Client
	result chan error
}

// Hub owns the registry and the call tracker. Every mutation of either
// happens on the goroutine running Run, one event at a time.
type Hub struct {
	opts     Options
	registry *Registry
	tracker  *Tracker
	presence PresenceStore
	metrics  *metrics.Metrics
	logger   *slog.Logger

	register        chan registration
	unregister      chan *Client
	inbox           chan *Request
	queries         chan func()
	presenceUpdates chan presenceUpdate
	done            chan struct{}
}

func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBufferSize
	}
	return &Hub{
		opts:            opts,
		registry:        NewRegistry(opts.DuplicatePolicy),
		tracker:         NewTracker(opts.Now),
		presence:        opts.Presence,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		register:        make(chan registration),
		unregister:      make(chan *Client),
		inbox:           make(chan *Request),
		queries:         make(chan func()),
		presenceUpdates: make(chan presenceUpdate, presenceQueueSize),
		done:            make(chan struct{}),
	}
}

// Run processes registrations, releases, inbound events and queries until
// ctx is cancelled. On exit every client is released.
func (h *Hub) Run(ctx context.Context) {
	presenceDone := make(chan struct{})
	if h.presence != nil {
		go h.syncPresence(h.presenceUpdates, presenceDone)
	} else {
		close(presenceDone)
	}

	defer func() {
		h.stop()
		close(h.presenceUpdates)
		<-presenceDone
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case reg := <-h.register:
			reg.result <- h.admit(reg.client)
		case c := <-h.unregister:
			h.release(c)
		case req := <-h.inbox:
			h.dispatch(req)
		case q := <-h.queries:
			q()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Register admits c into the registry.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	reg := registration{client: c, result: make(chan error, 1)}
	select {
	case h.register <- reg:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reg.result
}

// Unregister releases c. Releasing an unknown or already released client is
// a no-op.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch hands an inbound event to the hub and waits until the hub has
// taken it, so events from one connection keep their order.
func (h *Hub) Dispatch(req *Request) error {
	select {
	case h.inbox <- req:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// query runs fn on the hub goroutine.
func (h *Hub) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Stats reports connection, identity and active-call counts.
func (h *Hub) Stats(ctx context.Context) (models.RelayStats, error) {
	var stats models.RelayStats
	err := h.query(ctx, func() {
		stats = models.RelayStats{
			Connections: h.registry.Connections(),
			Identities:  h.registry.Identities(),
			ActiveCalls: h.tracker.Len(),
		}
	})
	return stats, err
}

// ActiveCalls lists the tracked calls.
func (h *Hub) ActiveCalls(ctx context.Context) ([]models.ActiveCall, error) {
	var calls []models.ActiveCall
	err := h.query(ctx, func() { calls = h.tracker.Active() })
	return calls, err
}

// IsOnline reports whether identity has a registered connection.
func (h *Hub) IsOnline(ctx context.Context, identity string) (bool, error) {
	var online bool
	err := h.query(ctx, func() { online = h.registry.Online(identity) })
	return online, err
}

func (h *Hub) admit(c *Client) error {
	if err := h.registry.Admit(c); err != nil {
		h.metrics.Inc(metrics.ConnectionsRejected)
		h.logger.Info("connection rejected", "identity", c.Identity, "conn_id", c.ID, "err", err)
		return err
	}
	h.metrics.Inc(metrics.ConnectionsAdmitted)
	h.logger.Info("peer connected", "identity", c.Identity, "conn_id", c.ID)
	if len(h.registry.Lookup(c.Identity)) == 1 {
		h.queuePresence(c.Identity, true)
	}
	return nil
}

// release is the disconnect cleanup: the identity's active-call record is
// dropped, the connection leaves the address table and its send channel is
// closed.
func (h *Hub) release(c *Client) {
	found, last := h.registry.Release(c)
	if !found {
		return
	}
	if h.tracker.Forget(c.Identity) {
		h.metrics.Inc(metrics.CallsClearedOnLeave)
	}
	close(c.Send)
	h.metrics.Inc(metrics.ConnectionsReleased)
	h.logger.Info("peer disconnected", "identity", c.Identity, "conn_id", c.ID)
	if last {
		h.queuePresence(c.Identity, false)
	}
}

func (h *Hub) stop() {
	clients := h.registry.Drain()
	for _, c := range clients {
		h.tracker.Forget(c.Identity)
		close(c.Send)
	}
	if len(clients) > 0 {
		h.logger.Info("hub stopped, released connections", "count", len(clients))
	}
}

// dispatch is the single entry point for inbound events.
func (h *Hub) dispatch(req *Request) {
	if req.From == nil || !h.registry.Contains(req.From) {
		h.logger.Debug("dropping event from unregistered connection", "event", req.Event)
		return
	}
	h.metrics.Inc(metrics.Event(string(req.Event)))

	switch req.Event {
	case models.EventCall:
		h.routeCall(req)
	case models.EventAnswerCall:
		h.routeAnswer(req)
	case models.EventICECandidate:
		h.routeICECandidate(req)
	case models.EventEndCall:
		h.endCall(req.From.Identity)
	default:
		h.metrics.Inc(metrics.FramesUnknownEvent)
		h.logger.Warn("unknown event", "event", req.Event, "identity", req.From.Identity)
	}
}

func (h *Hub) endCall(identity string) {
	duration, ok := h.tracker.End(identity)
	if !ok {
		h.metrics.Inc(metrics.CallsEndedWithout)
		h.logger.Info("no active call to end", "identity", identity)
		return
	}
	h.metrics.Inc(metrics.CallsEnded)
	h.logger.Info("call ended", "identity", identity, "duration_seconds", duration.Seconds())
}
