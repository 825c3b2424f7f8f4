package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	h := NewHub(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func connect(t *testing.T, h *Hub, identity string) *Client {
	t.Helper()
	c := NewClient(h, identity)
	if err := h.Register(context.Background(), c); err != nil {
		t.Fatalf("register %s: %v", identity, err)
	}
	return c
}

// send dispatches an event and waits until the hub has processed it.
func send(t *testing.T, h *Hub, from *Client, event models.EventType, data models.InboundData) {
	t.Helper()
	if err := h.Dispatch(&Request{Event: event, From: from, Data: data}); err != nil {
		t.Fatalf("dispatch %s: %v", event, err)
	}
	flush(t, h)
}

// flush returns once every event queued before it has been handled.
func flush(t *testing.T, h *Hub) {
	t.Helper()
	if _, err := h.Stats(context.Background()); err != nil {
		t.Fatalf("stats: %v", err)
	}
}

func recv(t *testing.T, c *Client) *models.OutboundFrame {
	t.Helper()
	select {
	case f, ok := <-c.Send:
		if !ok {
			t.Fatalf("%s: send channel closed", c.Identity)
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("%s: timed out waiting for frame", c.Identity)
	}
	return nil
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case f, ok := <-c.Send:
		if ok {
			t.Fatalf("%s: unexpected frame %s", c.Identity, f.Event)
		}
		t.Fatalf("%s: send channel unexpectedly closed", c.Identity)
	default:
	}
}
