package session

import (
	"errors"
	"fmt"
	"sync"
)

var ErrResourceExhausted = errors.New("no free display or proxy port")

// Triple is the set of numeric resources owned by one session.
type Triple struct {
	Display   int `json:"display"`
	RawPort   int `json:"raw_port"`
	ProxyPort int `json:"proxy_port"`
}

// Pool hands out display numbers and ports from two disjoint ranges of equal
// size. The display number is derived from the raw port, so the raw range also
// bounds the displays.
type Pool struct {
	mu        sync.Mutex
	rawBase   int
	proxyBase int
	offset    int
	rawUsed   []bool
	proxyUsed []bool
}

// NewPool creates a pool for size sessions with raw ports starting at rawBase,
// proxy ports starting at proxyBase and display numbers starting at offset.
func NewPool(rawBase, proxyBase, offset, size int) *Pool {
	return &Pool{
		rawBase:   rawBase,
		proxyBase: proxyBase,
		offset:    offset,
		rawUsed:   make([]bool, size),
		proxyUsed: make([]bool, size),
	}
}

// Allocate reserves the lowest free raw port and the lowest free proxy port.
// Nothing is reserved if either range is full.
func (p *Pool) Allocate() (Triple, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw := firstFree(p.rawUsed)
	if raw < 0 {
		return Triple{}, fmt.Errorf("%w: all %d display ports in use", ErrResourceExhausted, len(p.rawUsed))
	}
	proxy := firstFree(p.proxyUsed)
	if proxy < 0 {
		return Triple{}, fmt.Errorf("%w: all %d proxy ports in use", ErrResourceExhausted, len(p.proxyUsed))
	}
	p.rawUsed[raw] = true
	p.proxyUsed[proxy] = true

	rawPort := p.rawBase + raw
	return Triple{
		Display:   p.DisplayFor(rawPort),
		RawPort:   rawPort,
		ProxyPort: p.proxyBase + proxy,
	}, nil
}

// Release returns t's ports to the pool. Releasing ports outside the pool's
// ranges or already free is a no-op.
func (p *Pool) Release(t Triple) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := t.RawPort - p.rawBase; i >= 0 && i < len(p.rawUsed) {
		p.rawUsed[i] = false
	}
	if i := t.ProxyPort - p.proxyBase; i >= 0 && i < len(p.proxyUsed) {
		p.proxyUsed[i] = false
	}
}

// DisplayFor maps a raw port to its display number.
func (p *Pool) DisplayFor(rawPort int) int {
	return rawPort - p.rawBase + p.offset
}

// InUse returns the number of allocated triples.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, used := range p.rawUsed {
		if used {
			n++
		}
	}
	return n
}

// Capacity returns the maximum number of concurrent sessions.
func (p *Pool) Capacity() int {
	return len(p.rawUsed)
}

func firstFree(used []bool) int {
	for i, u := range used {
		if !u {
			return i
		}
	}
	return -1
}
