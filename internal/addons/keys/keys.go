// Package keys implements the API-key quota pool add-on: a shared set of
// operator-configured provider API keys leased round-robin to users who
// don't supply their own.
package keys

import (
	"context"
	"fmt"
	"sync"
)

// Pool leases and releases shared provider API keys.
type Pool interface {
	Lease(ctx context.Context, userID int64) (apiKey string, err error)
	Release(ctx context.Context, userID int64, apiKey string) error
}

// RoundRobinPool cycles through an operator-configured key list, tracking
// which user currently holds which key so Release can validate the pair.
type RoundRobinPool struct {
	mu     sync.Mutex
	keys   []string
	next   int
	leased map[string]int64 // apiKey -> userID
}

func NewRoundRobinPool(pool []string) *RoundRobinPool {
	return &RoundRobinPool{
		keys:   pool,
		leased: make(map[string]int64),
	}
}

func (p *RoundRobinPool) Lease(_ context.Context, userID int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", fmt.Errorf("keys: pool is empty")
	}

	for i := 0; i < len(p.keys); i++ {
		candidate := p.keys[p.next]
		p.next = (p.next + 1) % len(p.keys)

		if _, inUse := p.leased[candidate]; !inUse {
			p.leased[candidate] = userID
			return candidate, nil
		}
	}

	return "", fmt.Errorf("keys: pool exhausted, all %d keys leased", len(p.keys))
}

func (p *RoundRobinPool) Release(_ context.Context, userID int64, apiKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	owner, ok := p.leased[apiKey]
	if !ok {
		return fmt.Errorf("keys: %q is not currently leased", apiKey)
	}
	if owner != userID {
		return fmt.Errorf("keys: %q is leased to a different user", apiKey)
	}

	delete(p.leased, apiKey)

	return nil
}
