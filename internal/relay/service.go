package relay

import (
	"context"
	"errors"
	"sync"
)

// State is the lifecycle state of a Service.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Service owns the hub for the lifetime of the process:
// NewService -> Init -> Hub()... -> Shutdown.
type Service struct {
	opts Options

	mu     sync.Mutex
	state  State
	hub    *Hub
	cancel context.CancelFunc
}

func NewService(opts Options) *Service {
	return &Service{opts: opts}
}

// Init starts the hub. It may only be called once.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return errors.New("relay service already initialized")
	case StateClosed:
		return ErrClosed
	}

	hub := NewHub(s.opts)
	runCtx, cancel := context.WithCancel(ctx)
	go hub.Run(runCtx)

	s.hub = hub
	s.cancel = cancel
	s.state = StateReady
	return nil
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Hub returns the live hub, or ErrNotInitialized / ErrClosed.
func (s *Service) Hub() (*Hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
		return nil, ErrNotInitialized
	case StateClosed:
		return nil, ErrClosed
	}
	return s.hub, nil
}

// MustHub is Hub for startup code; asking before Init is an ordering bug.
func (s *Service) MustHub() *Hub {
	hub, err := s.Hub()
	if err != nil {
		panic(err)
	}
	return hub
}

// Shutdown stops the hub, releasing every connection, and waits for it to
// finish or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	hub, cancel := s.hub, s.cancel
	s.mu.Unlock()

	cancel()
	select {
	case <-hub.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
