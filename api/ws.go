package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"serve-chroot/pkgmgr"
	"serve-chroot/protocol"
	"serve-chroot/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, r.RemoteAddr, h.log)
	go c.writeLoop()

	// The status reply must be queued before any mastership offer.
	c.send(protocol.Connected())
	h.coord.Connect(c)
	defer func() {
		c.close()
		h.coord.Disconnect(c)
	}()

	// Requests are dispatched in arrival order; slow ones finish on workers.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(c, data)
	}
}

func (h *handler) dispatch(c *client, data []byte) {
	req, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad request")
		c.send(protocol.Error(err))
		return
	}
	c.log.Debug().Str("exec", req.Exec()).Msg("request")

	switch req := req.(type) {
	case protocol.SetMaster:
		c.send(protocol.SetMasterReply(h.coord.RequestMaster(c, req.Status)))
	case protocol.GetMaster:
		c.send(protocol.GetMasterReply(h.coord.HasMaster()))
	case protocol.Run:
		h.runSession(c, req.Name)
	case protocol.Kill:
		h.goSafe(c, "kill", func() { h.killSession(c, req.UUID) })
	case protocol.List:
		h.goSafe(c, "list", func() { h.listApps(c) })
	case protocol.Search:
		h.goSafe(c, "search", func() { h.searchPackages(c, req.Term) })
	case protocol.Install:
		h.goSafe(c, "install", func() {
			h.changePackages(c, req.Name, func(sink pkgmgr.Sink) error {
				return h.packages.Install(context.Background(), req.Name, sink)
			})
		})
	case protocol.Delete:
		h.goSafe(c, "delete", func() {
			h.changePackages(c, req.Name, func(sink pkgmgr.Sink) error {
				return h.packages.Delete(context.Background(), req.Name, req.Purge, sink)
			})
		})
	default:
		c.send(protocol.Error(fmt.Errorf("%w: unsupported exec %q", protocol.ErrMalformedMessage, req.Exec())))
	}
}

// runSession registers the session right away, tells the client where its
// proxy will listen and starts the processes on a worker. The outcome is
// reported with a load message carrying the same uuid.
func (h *handler) runSession(c *client, name string) {
	if err := h.coord.Authorize(c); err != nil {
		c.log.Error().Err(err).Str("name", name).Msg("run refused")
		c.send(protocol.Error(err))
		return
	}
	s, err := h.manager.Create(name)
	if err != nil {
		c.log.Error().Err(err).Str("name", name).Msg("couldn't create session")
		c.send(protocol.Error(err))
		return
	}
	c.send(protocol.Created(s.Name, s.ID, s.Triple.ProxyPort))

	h.goSafe(c, "run", func() {
		if err := s.Start(); err != nil {
			c.log.Error().Err(err).Str("session", s.ID).Msg("session failed to start")
			c.send(protocol.Error(err))
			c.send(protocol.Loaded(s.Name, s.ID, false))
			return
		}
		c.send(protocol.Loaded(s.Name, s.ID, true))
	})
}

func (h *handler) killSession(c *client, id string) {
	if err := h.manager.Kill(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.send(protocol.Error(fmt.Errorf("%w: %s", err, id)))
			return
		}
		c.log.Error().Err(err).Str("session", id).Msg("failed to kill session")
		c.send(protocol.Error(err))
		c.send(protocol.Killed(false))
		return
	}
	c.send(protocol.Killed(true))
}

func (h *handler) listApps(c *client) {
	list := h.directory.List()
	for _, app := range list {
		if !c.send(protocol.AppEntry(app)) {
			return
		}
	}
	c.send(protocol.ListDone())
}

func (h *handler) searchPackages(c *client, term string) {
	err := h.packages.Search(context.Background(), term, func(p pkgmgr.Package) {
		c.send(protocol.PackageEntry(p))
	})
	if err != nil {
		c.send(protocol.Error(err))
		return
	}
	c.send(protocol.SearchDone())
}

// changePackages runs an install or removal, streaming its progress, then
// reloads the application list whatever the outcome.
func (h *handler) changePackages(c *client, names string, run func(pkgmgr.Sink) error) {
	err := run(func(e pkgmgr.Event) {
		c.send(protocol.ProgressEvent(e))
	})
	if err != nil {
		c.log.Error().Err(err).Str("packages", names).Msg("package operation failed")
		c.send(protocol.Error(err))
	}
	if err := h.directory.Reload(); err != nil {
		c.log.Error().Err(err).Msg("failed to reload applications")
	}
}
