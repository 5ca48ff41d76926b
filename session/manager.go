package session

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound           = errors.New("session not found")
	ErrInvalidName        = errors.New("session name must not be empty")
	ErrExecutableNotFound = errors.New("executable not found")
	ErrClosed             = errors.New("session manager is shutting down")
)

// Manager is the registry of live sessions. Creation and removal hold the lock
// across pool allocation/release so the registry and the pool never disagree.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	pool     *Pool
	launcher Launcher
	poll     Poll
	lookPath func(string) (string, error)
	log      zerolog.Logger
}

type Option func(m *Manager)

func WithPoll(p Poll) Option {
	return func(m *Manager) {
		m.poll = p
	}
}

// WithLookPath replaces the PATH lookup used to validate application commands.
func WithLookPath(f func(string) (string, error)) Option {
	return func(m *Manager) {
		m.lookPath = f
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

func NewManager(pool *Pool, launcher Launcher, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		pool:     pool,
		launcher: launcher,
		poll:     DefaultPoll,
		lookPath: exec.LookPath,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create registers a new session for the application command name and
// reserves its resources. It does not start any process; call Start on the
// returned session. Nothing is reserved when an error is returned.
func (m *Manager) Create(name string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	bin := strings.Fields(name)[0]
	if _, err := m.lookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: %s doesn't exist or isn't in the PATH env variable", ErrExecutableNotFound, bin)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	t, err := m.pool.Allocate()
	if err != nil {
		m.log.Warn().Err(err).Str("name", name).Msg("possibly ran out of usable displays")
		return nil, err
	}
	s := newSession(uuid.New().String(), name, t, m.launcher, m.poll, m.log)
	m.sessions[s.ID] = s
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns a snapshot of the live sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Kill removes the session, tears down its processes and only then returns
// its resources to the pool.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	err := s.Kill()
	m.pool.Release(s.Triple)
	if err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// KillAll tears down every live session in parallel and returns how many
// there were.
func (m *Manager) KillAll() int {
	return m.killAll(false)
}

// Close refuses every later Create and kills all live sessions. Sessions
// created before Close are included.
func (m *Manager) Close() int {
	return m.killAll(true)
}

func (m *Manager) killAll(closing bool) int {
	m.mu.Lock()
	if closing {
		m.closed = true
	}
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range all {
		g.Go(func() error {
			if err := s.Kill(); err != nil && !errors.Is(err, ErrNotRunning) {
				m.log.Error().Err(err).Str("session", s.ID).Msg("failed to kill session")
			}
			m.pool.Release(s.Triple)
			return nil
		})
	}
	_ = g.Wait()
	return len(all)
}

// Pool exposes the resource pool, mostly for status reporting.
func (m *Manager) Pool() *Pool {
	return m.pool
}
