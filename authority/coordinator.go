// Package authority decides which connected client may create sessions.
package authority

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var ErrAuthorityDenied = errors.New("no master privilege")

// Client is a connected peer. OfferMaster must not block: it queues the
// offer on the client's outbound path and returns.
type Client interface {
	RemoteAddr() string
	OfferMaster()
}

// Coordinator tracks the connected clients and the single master among them.
// Every transition, including the offers it sends, happens under one lock.
type Coordinator struct {
	mu      sync.Mutex
	clients map[Client]struct{}
	order   []Client
	master  Client

	onEmpty func()
	log     zerolog.Logger
}

type Option func(c *Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// OnLastDisconnect sets the hook run after the last client leaves. It is
// called outside the lock, on the disconnecting client's goroutine.
func OnLastDisconnect(f func()) Option {
	return func(c *Coordinator) {
		c.onEmpty = f
	}
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		clients: make(map[Client]struct{}),
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect registers cl and offers it the master role if nobody holds it.
func (c *Coordinator) Connect(cl Client) (offered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.clients[cl]; ok {
		return false
	}
	c.clients[cl] = struct{}{}
	c.order = append(c.order, cl)
	c.log.Info().Str("remote", cl.RemoteAddr()).Int("clients", len(c.order)).Msg("client connected")

	if c.master == nil {
		cl.OfferMaster()
		return true
	}
	return false
}

// RequestMaster answers an offer. Accepting while nobody is master makes cl
// the master; accepting while another client is master is refused. Declining
// (or resigning, when cl is the master) re-offers the role to every other
// client. The returned value is whether cl is master afterwards.
func (c *Coordinator) RequestMaster(cl Client, accept bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.clients[cl]; !ok {
		return false
	}

	if accept {
		switch c.master {
		case nil:
			c.master = cl
			c.log.Info().Str("remote", cl.RemoteAddr()).Msg("master set")
			return true
		case cl:
			return true
		default:
			c.log.Warn().Str("remote", cl.RemoteAddr()).Msg("master already taken")
			return false
		}
	}

	if c.master == cl {
		c.log.Warn().Str("remote", cl.RemoteAddr()).Msg("master resigned")
		c.master = nil
	} else {
		c.log.Info().Str("remote", cl.RemoteAddr()).Msg("master role declined")
	}
	if c.master == nil {
		c.offerLocked(cl)
	}
	return false
}

// HasMaster reports whether some client holds the master role.
func (c *Coordinator) HasMaster() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master != nil
}

func (c *Coordinator) IsMaster(cl Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master != nil && c.master == cl
}

// Authorize returns ErrAuthorityDenied unless cl is the master.
func (c *Coordinator) Authorize(cl Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.master == nil {
		return fmt.Errorf("%w: no master connection (no connection that can make windows)", ErrAuthorityDenied)
	}
	if c.master != cl {
		return ErrAuthorityDenied
	}
	return nil
}

// Disconnect removes cl. If it was the master, the remaining clients are each
// offered the role once. If it was the last client, the OnLastDisconnect hook
// runs before Disconnect returns.
func (c *Coordinator) Disconnect(cl Client) {
	c.mu.Lock()
	if _, ok := c.clients[cl]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.clients, cl)
	for i, o := range c.order {
		if o == cl {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.master == cl {
		c.log.Warn().Str("remote", cl.RemoteAddr()).Msg("removing the master connection")
		c.master = nil
	}
	empty := len(c.order) == 0
	if !empty && c.master == nil {
		c.offerLocked(nil)
	}
	c.mu.Unlock()

	c.log.Info().Str("remote", cl.RemoteAddr()).Msg("client disconnected")
	if empty && c.onEmpty != nil {
		c.log.Info().Msg("no connections left, tearing down sessions")
		c.onEmpty()
	}
}

// Len returns the number of connected clients.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// offerLocked sends one offer to every client except skip, in connect order.
func (c *Coordinator) offerLocked(skip Client) {
	n := 0
	for _, o := range c.order {
		if o == skip {
			continue
		}
		o.OfferMaster()
		n++
	}
	if n > 0 {
		c.log.Info().Int("offers", n).Msg("asking other connections to become master")
	}
}
