package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"serve-chroot/protocol"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// client is one connected control channel. All writes go through writeLoop;
// gorilla/websocket allows only one concurrent writer.
type client struct {
	conn   *websocket.Conn
	remote string
	log    zerolog.Logger

	out       chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, remote string, log zerolog.Logger) *client {
	return &client{
		conn:   conn,
		remote: remote,
		log:    log.With().Str("remote", remote).Logger(),
		out:    make(chan protocol.Message, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) RemoteAddr() string { return c.remote }

// OfferMaster queues a mastership offer without blocking. A client too slow
// to take it is disconnected.
func (c *client) OfferMaster() {
	select {
	case c.out <- protocol.MasterOffer():
	case <-c.done:
	default:
		c.log.Warn().Msg("outbound queue full, dropping slow client")
		c.close()
	}
}

// send queues m, waiting for room. It returns false once the client is gone.
func (c *client) send(m protocol.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- m:
		return true
	case <-c.done:
		return false
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case m := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(m); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close shuts the connection down, which also ends the read loop.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
