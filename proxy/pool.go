// Package proxy selects, validates and rotates the egress proxies used by a
// harvest run.
package proxy

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Probe performs one test fetch through proxy.
type Probe func(ctx context.Context, proxy string) error

// Pool is the set of candidate proxies of one harvest run. Demoted proxies
// stay disabled for the life of the pool.
type Pool struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	proxies  []string
	disabled map[string]struct{}
}

// NewPool builds a pool from a candidate list. Duplicates are ignored; an
// empty list gives a pool that never selects anything.
func NewPool(proxies []string, rnd *rand.Rand) *Pool {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	seen := make(map[string]struct{}, len(proxies))
	list := make([]string, 0, len(proxies))
	for _, p := range proxies {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		list = append(list, p)
	}
	return &Pool{
		rnd:      rnd,
		proxies:  list,
		disabled: make(map[string]struct{}),
	}
}

// Select picks a uniformly random eligible proxy.
func (p *Pool) Select() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pick("")
}

// Rotate picks a new random proxy, avoiding current while another one is
// eligible.
func (p *Pool) Rotate(current string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pick(current)
}

func (p *Pool) pick(avoid string) (string, bool) {
	eligible := p.eligible()
	if len(eligible) > 1 && avoid != "" {
		filtered := eligible[:0:0]
		for _, e := range eligible {
			if e != avoid {
				filtered = append(filtered, e)
			}
		}
		eligible = filtered
	}
	if len(eligible) == 0 {
		return "", false
	}
	return eligible[p.rnd.Intn(len(eligible))], true
}

func (p *Pool) eligible() []string {
	out := make([]string, 0, len(p.proxies))
	for _, px := range p.proxies {
		if _, off := p.disabled[px]; !off {
			out = append(out, px)
		}
	}
	return out
}

// Validate runs probe through proxy and demotes the proxy if it fails.
func (p *Pool) Validate(ctx context.Context, proxy string, probe Probe) bool {
	if err := probe(ctx, proxy); err != nil {
		p.Demote(proxy)
		return false
	}
	return true
}

// Demote disables proxy for the rest of the run.
func (p *Pool) Demote(proxy string) {
	if proxy == "" {
		return
	}
	p.mu.Lock()
	p.disabled[proxy] = struct{}{}
	p.mu.Unlock()
}

// Eligible returns the number of proxies that can still be selected.
func (p *Pool) Eligible() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.eligible())
}

// Size returns the number of candidates the pool was built with.
func (p *Pool) Size() int {
	return len(p.proxies)
}
