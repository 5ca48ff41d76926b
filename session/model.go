package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"serve-chroot/process"
)

var (
	ErrProcessStartFailed = errors.New("process failed to start")
	ErrNotRunning         = errors.New("session is not running")
	ErrAlreadyStarted     = errors.New("session already started")
)

type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// Poll controls the bounded start confirmation loop.
type Poll struct {
	Interval time.Duration
	Attempts int
}

var DefaultPoll = Poll{Interval: 100 * time.Millisecond, Attempts: 50}

// killTimeout bounds the display-server kill command.
const killTimeout = 10 * time.Second

// Session is one display server plus its proxy. The process handles are only
// ever touched by the session itself.
type Session struct {
	ID        string
	Name      string
	Triple    Triple
	CreatedAt time.Time

	launcher Launcher
	poll     Poll
	log      zerolog.Logger

	// spawnMu is held from a spawn until its handle is stored.
	spawnMu sync.Mutex

	mu      sync.Mutex
	state   State
	proxied bool
	display process.Handle
	proxy   process.Handle
}

// Info is a point-in-time view of a session, safe to serialize.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Proxied   bool      `json:"proxied"`
	Display   int       `json:"display"`
	ProxyPort int       `json:"proxy_port"`
	CreatedAt time.Time `json:"created_at"`
}

func newSession(id, name string, t Triple, l Launcher, poll Poll, log zerolog.Logger) *Session {
	return &Session{
		ID:        id,
		Name:      name,
		Triple:    t,
		CreatedAt: time.Now(),
		launcher:  l,
		poll:      poll,
		log:       log.With().Str("session", id).Str("name", name).Int("display", t.Display).Logger(),
		state:     StateCreated,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Proxied reports whether the proxy came up as well as the display server.
func (s *Session) Proxied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxied
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Name:      s.Name,
		State:     s.state,
		Proxied:   s.proxied,
		Display:   s.Triple.Display,
		ProxyPort: s.Triple.ProxyPort,
		CreatedAt: s.CreatedAt,
	}
}

// Start launches the display server, waits for it to settle, then does the
// same for the proxy. It blocks for up to two poll windows. A Kill that
// arrives meanwhile makes Start return ErrNotRunning.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.log.Info().Int("port", s.Triple.RawPort).Msg("starting display server")
	display, ok, err := s.spawn(func() (process.Handle, error) {
		return s.launcher.StartDisplay(s.Name, s.Triple)
	}, func(h process.Handle) { s.display = h })
	if !ok {
		return ErrNotRunning
	}
	if err != nil {
		if !s.fail() {
			return ErrNotRunning
		}
		return fmt.Errorf("%w: display server: %v", ErrProcessStartFailed, err)
	}
	if !process.ConfirmStarted(display, s.poll.Interval, s.poll.Attempts) {
		if !s.fail() {
			return ErrNotRunning
		}
		code, _ := display.Exited()
		s.log.Error().Int("exit_code", code).Msg("display server failed to start")
		return fmt.Errorf("%w: display server exited with code %d", ErrProcessStartFailed, code)
	}
	if !s.transition(StateStarting, StateRunning) {
		return ErrNotRunning
	}

	s.log.Info().Int("proxy_port", s.Triple.ProxyPort).Msg("starting proxy")
	proxy, ok, err := s.spawn(func() (process.Handle, error) {
		return s.launcher.StartProxy(s.Triple)
	}, func(h process.Handle) { s.proxy = h })
	if !ok {
		return ErrNotRunning
	}
	if err != nil {
		if !s.fail() {
			return ErrNotRunning
		}
		return fmt.Errorf("%w: proxy: %v", ErrProcessStartFailed, err)
	}
	if !process.ConfirmStarted(proxy, s.poll.Interval, s.poll.Attempts) {
		if !s.fail() {
			return ErrNotRunning
		}
		code, _ := proxy.Exited()
		s.log.Error().Int("exit_code", code).Msg("proxy failed to start")
		return fmt.Errorf("%w: proxy exited with code %d", ErrProcessStartFailed, code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ErrNotRunning
	}
	s.proxied = true
	s.log.Info().Msg("session running")
	return nil
}

// Kill tears the session down. It is safe to call in any state and never
// fails because of a single process: errors are logged and teardown goes on.
// When it returns, every process the session spawned has been killed.
// Killing a stopped session returns ErrNotRunning.
func (s *Session) Kill() error {
	// Wait out a spawn in flight so its handle is torn down below, after the
	// display kill command, instead of surviving the kill.
	s.spawnMu.Lock()
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		s.spawnMu.Unlock()
		return ErrNotRunning
	}
	prev := s.state
	s.state = StateStopped
	s.proxied = false
	display, proxy := s.display, s.proxy
	s.mu.Unlock()
	s.spawnMu.Unlock()

	s.log.Info().Str("from", string(prev)).Msg("killing session")

	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := s.launcher.KillDisplay(ctx, s.Triple.Display); err != nil {
		s.log.Warn().Err(err).Msg("display kill command failed")
	}
	if err := process.KillBoth(s.log, display, proxy); err != nil {
		s.log.Warn().Err(err).Msg("couldn't clean up every process")
	}
	return nil
}

// spawn runs start and stores the handle while holding spawnMu, so a
// concurrent Kill either prevents the spawn or sees its handle. ok is false
// when the session was already stopped and nothing was spawned.
func (s *Session) spawn(start func() (process.Handle, error), store func(process.Handle)) (h process.Handle, ok bool, err error) {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()
	if s.State() == StateStopped {
		return nil, false, nil
	}
	h, err = start()
	if err != nil {
		return nil, true, err
	}
	s.mu.Lock()
	store(h)
	s.mu.Unlock()
	return h, true, nil
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// fail marks the session failed and force-kills whatever did start. It
// returns false if the session was stopped in the meantime.
func (s *Session) fail() bool {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return false
	}
	s.state = StateFailed
	display, proxy := s.display, s.proxy
	s.mu.Unlock()

	if err := process.KillBoth(s.log, display, proxy); err != nil {
		s.log.Warn().Err(err).Msg("couldn't clean up after failed start")
	}
	return true
}
