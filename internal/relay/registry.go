package relay

import "fmt"

// DuplicatePolicy decides what happens when an identity connects twice.
type DuplicatePolicy string

const (
	// DuplicateFanout admits every connection; messages for the identity are
	// delivered to all of them in admission order.
	DuplicateFanout DuplicatePolicy = "fanout"

	// DuplicateReject refuses a connection while the identity is already live.
	DuplicateReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy validates a configured policy name. Empty means fanout.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicateFanout:
		return DuplicateFanout, nil
	case DuplicateReject:
		return DuplicateReject, nil
	default:
		return "", fmt.Errorf("unknown duplicate identity policy %q", s)
	}
}

// Registry is the address table mapping identities to live connections.
// It is owned by the hub goroutine and is not safe for concurrent use.
type Registry struct {
	policy     DuplicatePolicy
	byIdentity map[string][]*Client
	count      int
}

func NewRegistry(policy DuplicatePolicy) *Registry {
	if policy == "" {
		policy = DuplicateFanout
	}
	return &Registry{
		policy:     policy,
		byIdentity: make(map[string][]*Client),
	}
}

// Admit binds the client's identity to the client.
func (r *Registry) Admit(c *Client) error {
	if c.Identity == "" {
		return ErrInvalidIdentity
	}
	peers := r.byIdentity[c.Identity]
	for _, p := range peers {
		if p == c {
			return nil
		}
	}
	if len(peers) > 0 && r.policy == DuplicateReject {
		return ErrDuplicateIdentity
	}
	r.byIdentity[c.Identity] = append(peers, c)
	r.count++
	return nil
}

// Release unbinds exactly this client. found reports whether it was
// registered; last reports whether it was the identity's final connection.
func (r *Registry) Release(c *Client) (found, last bool) {
	peers := r.byIdentity[c.Identity]
	for i, p := range peers {
		if p != c {
			continue
		}
		rest := append(peers[:i:i], peers[i+1:]...)
		r.count--
		if len(rest) == 0 {
			delete(r.byIdentity, c.Identity)
			return true, true
		}
		r.byIdentity[c.Identity] = rest
		return true, false
	}
	return false, false
}

// Lookup returns the connections registered under identity, oldest first.
func (r *Registry) Lookup(identity string) []*Client {
	return r.byIdentity[identity]
}

// Contains reports whether this exact client is registered.
func (r *Registry) Contains(c *Client) bool {
	for _, p := range r.byIdentity[c.Identity] {
		if p == c {
			return true
		}
	}
	return false
}

// Online reports whether identity has at least one connection.
func (r *Registry) Online(identity string) bool {
	return len(r.byIdentity[identity]) > 0
}

// Connections is the number of registered connections.
func (r *Registry) Connections() int { return r.count }

// Identities is the number of distinct registered identities.
func (r *Registry) Identities() int { return len(r.byIdentity) }

// Drain removes every client and returns them.
func (r *Registry) Drain() []*Client {
	out := make([]*Client, 0, r.count)
	for _, peers := range r.byIdentity {
		out = append(out, peers...)
	}
	r.byIdentity = make(map[string][]*Client)
	r.count = 0
	return out
}
