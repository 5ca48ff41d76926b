package api_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"serve-chroot/api"
	"serve-chroot/apps"
	"serve-chroot/authority"
	"serve-chroot/pkgmgr"
	"serve-chroot/session"
)

type fakeDirectory struct {
	apps    []apps.Application
	reloads atomic.Int32
}

func (d *fakeDirectory) List() []apps.Application { return d.apps }

func (d *fakeDirectory) Reload() error {
	d.reloads.Add(1)
	return nil
}

type fakePackages struct {
	mu        sync.Mutex
	searchErr error
	changeErr error
	calls     []string
}

func (p *fakePackages) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePackages) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePackages) fail(search, change error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searchErr, p.changeErr = search, change
}

func (p *fakePackages) errs() (search, change error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.searchErr, p.changeErr
}

func (p *fakePackages) Search(_ context.Context, term string, emit func(pkgmgr.Package)) error {
	p.record("search " + term)
	if err, _ := p.errs(); err != nil {
		return err
	}
	emit(pkgmgr.Package{Name: term, Description: "the " + term + " package"})
	emit(pkgmgr.Package{Name: term + "-doc", Description: "docs", Installed: true, Version: "1.0"})
	return nil
}

func (p *fakePackages) run(op pkgmgr.Stage, sink pkgmgr.Sink) error {
	sink(pkgmgr.Event{Stage: op, Phase: pkgmgr.PhaseStart})
	sink(pkgmgr.Event{Stage: op, Phase: pkgmgr.PhaseStatus, Progress: pkgmgr.Progress{Percent: 50, Item: "vim", Description: "Unpacking vim"}})
	sink(pkgmgr.Event{Stage: op, Phase: pkgmgr.PhaseFinish, Progress: pkgmgr.Progress{Percent: 100}})
	_, err := p.errs()
	return err
}

func (p *fakePackages) Install(_ context.Context, names string, sink pkgmgr.Sink) error {
	p.record("install " + names)
	return p.run(pkgmgr.StageInstall, sink)
}

func (p *fakePackages) Delete(_ context.Context, names string, purge bool, sink pkgmgr.Sink) error {
	if purge {
		p.record("purge " + names)
	} else {
		p.record("remove " + names)
	}
	return p.run(pkgmgr.StageDelete, sink)
}

type testEnv struct {
	srv      *httptest.Server
	manager  *session.Manager
	coord    *authority.Coordinator
	launcher *session.MockLauncher
	dir      *fakeDirectory
	packages *fakePackages
}

func newTestEnv(t *testing.T, maxSessions int, launcher *session.MockLauncher) *testEnv {
	t.Helper()
	if launcher == nil {
		launcher = &session.MockLauncher{}
	}
	manager := session.NewManager(session.NewPool(3310, 3410, 10, maxSessions), launcher,
		session.WithPoll(session.Poll{Interval: time.Millisecond, Attempts: 3}),
		session.WithLookPath(session.MockLookPath),
	)
	coord := authority.New(authority.OnLastDisconnect(func() { manager.KillAll() }))
	env := &testEnv{
		manager:  manager,
		coord:    coord,
		launcher: launcher,
		dir: &fakeDirectory{apps: []apps.Application{
			{Name: "gedit", FullName: "Editor", Exec: "gedit"},
			{Name: "xterm", FullName: "XTerm", Exec: "xterm"},
		}},
		packages: &fakePackages{},
	}
	env.srv = httptest.NewServer(api.RegisterRoutes(manager, coord, env.dir, env.packages, zerolog.Nop()))
	t.Cleanup(env.srv.Close)
	return env
}

// msg is the union of every outbound field the tests look at.
type msg struct {
	Exec        string         `json:"exec"`
	Status      *bool          `json:"status"`
	Name        string         `json:"name"`
	UUID        string         `json:"uuid"`
	Port        int            `json:"port"`
	Message     string         `json:"message"`
	App         map[string]any `json:"app"`
	Package     map[string]any `json:"package"`
	Percent     float64        `json:"percent"`
	Item        string         `json:"item"`
	Description string         `json:"description"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *wsClient) sendRaw(s string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(s)))
}

func (c *wsClient) read() msg {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m msg
	require.NoError(c.t, c.conn.ReadJSON(&m))
	return m
}

// expect reads the next message and checks its tag.
func (c *wsClient) expect(exec string) msg {
	c.t.Helper()
	m := c.read()
	require.Equal(c.t, exec, m.Exec, "message: %+v", m)
	return m
}

// connect dials and consumes the connect-time status message.
func (e *testEnv) connect(t *testing.T) *wsClient {
	t.Helper()
	c := e.dial(t)
	m := c.expect("status")
	require.NotNil(t, m.Status)
	require.True(t, *m.Status)
	return c
}

// becomeMaster connects a client that takes the master role.
func (e *testEnv) becomeMaster(t *testing.T) *wsClient {
	t.Helper()
	c := e.connect(t)
	c.expect("master")
	c.send(map[string]any{"exec": "set_master", "status": true})
	m := c.expect("set_master")
	require.True(t, *m.Status)
	return c
}

var errBroken = errors.New("apt is broken")
