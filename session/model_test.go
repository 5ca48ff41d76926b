package session

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPoll = Poll{Interval: time.Millisecond, Attempts: 3}

func newTestSession(l Launcher) *Session {
	return newSession("id-1", "xterm", Triple{Display: 10, RawPort: 3310, ProxyPort: 3410}, l, fastPoll, zerolog.Nop())
}

func TestStartRunsDisplayThenProxy(t *testing.T) {
	l := &MockLauncher{}
	s := newTestSession(l)
	assert.Equal(t, StateCreated, s.State())

	require.NoError(t, s.Start())
	assert.Equal(t, StateRunning, s.State())
	assert.True(t, s.Proxied())

	displays, proxies := l.Spawned()
	assert.Equal(t, 1, displays)
	assert.Equal(t, 1, proxies)
}

func TestStartTwice(t *testing.T) {
	s := newTestSession(&MockLauncher{})
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
}

func TestStartDisplayExits(t *testing.T) {
	l := &MockLauncher{FailDisplay: true}
	s := newTestSession(l)

	err := s.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessStartFailed))
	assert.Equal(t, StateFailed, s.State())

	// The proxy is never spawned when the display server didn't come up.
	_, proxies := l.Spawned()
	assert.Zero(t, proxies)
}

func TestStartProxyExits(t *testing.T) {
	l := &MockLauncher{FailProxy: true}
	s := newTestSession(l)

	err := s.Start()
	assert.ErrorIs(t, err, ErrProcessStartFailed)
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, s.Proxied())

	// The display that did start is force-killed.
	require.Len(t, l.Displays(), 1)
	assert.True(t, l.Displays()[0].Killed())
}

func TestStartSpawnError(t *testing.T) {
	l := &MockLauncher{SpawnErr: errors.New("no such binary")}
	s := newTestSession(l)
	assert.ErrorIs(t, s.Start(), ErrProcessStartFailed)
	assert.Equal(t, StateFailed, s.State())
}

func TestKillRunningSession(t *testing.T) {
	l := &MockLauncher{}
	s := newTestSession(l)
	require.NoError(t, s.Start())

	require.NoError(t, s.Kill())
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []int{10}, l.KilledDisplays())
	assert.True(t, l.Displays()[0].Killed())
	assert.True(t, l.Proxies()[0].Killed())
}

func TestKillIsIdempotent(t *testing.T) {
	l := &MockLauncher{}
	s := newTestSession(l)
	require.NoError(t, s.Start())
	require.NoError(t, s.Kill())

	assert.ErrorIs(t, s.Kill(), ErrNotRunning)
	assert.Len(t, l.KilledDisplays(), 1)
}

func TestKillNeverStarted(t *testing.T) {
	l := &MockLauncher{}
	s := newTestSession(l)

	// No handles exist yet; the display kill command still runs.
	require.NoError(t, s.Kill())
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []int{10}, l.KilledDisplays())
}

func TestKillFailedSession(t *testing.T) {
	l := &MockLauncher{FailDisplay: true}
	s := newTestSession(l)
	require.Error(t, s.Start())

	require.NoError(t, s.Kill())
	assert.Equal(t, StateStopped, s.State())
}

func TestStartAfterKill(t *testing.T) {
	l := &MockLauncher{}
	s := newTestSession(l)
	require.NoError(t, s.Kill())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
	displays, _ := l.Spawned()
	assert.Zero(t, displays)
}

func TestInfo(t *testing.T) {
	s := newTestSession(&MockLauncher{})
	require.NoError(t, s.Start())
	info := s.Info()
	assert.Equal(t, "id-1", info.ID)
	assert.Equal(t, "xterm", info.Name)
	assert.Equal(t, StateRunning, info.State)
	assert.Equal(t, 10, info.Display)
	assert.Equal(t, 3410, info.ProxyPort)
	assert.True(t, info.Proxied)
}
