package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"serve-chroot/process"
)

var mockPid atomic.Int32

// MockHandle is an in-memory process handle. It stays alive until Kill or Exit.
type MockHandle struct {
	pid int

	mu     sync.Mutex
	exited bool
	code   int
	killed bool
}

func NewMockHandle() *MockHandle {
	return &MockHandle{pid: int(mockPid.Add(1)) + 10000}
}

func (h *MockHandle) Pid() int { return h.pid }

func (h *MockHandle) Exited() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.exited
}

func (h *MockHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	if !h.exited {
		h.exited = true
		h.code = -1
	}
	return nil
}

// Exit makes the process terminate with code.
func (h *MockHandle) Exit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited = true
	h.code = code
}

func (h *MockHandle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// MockLauncher is a Launcher that spawns no OS processes. Set FailDisplay or
// FailProxy to have the corresponding process exit immediately with code 1,
// or SpawnErr to have spawning itself fail.
type MockLauncher struct {
	FailDisplay bool
	FailProxy   bool
	SpawnErr    error

	mu             sync.Mutex
	displays       []*MockHandle
	proxies        []*MockHandle
	killedDisplays []int
}

func (l *MockLauncher) StartDisplay(name string, t Triple) (process.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SpawnErr != nil {
		return nil, l.SpawnErr
	}
	h := NewMockHandle()
	if l.FailDisplay {
		h.Exit(1)
	}
	l.displays = append(l.displays, h)
	return h, nil
}

func (l *MockLauncher) StartProxy(t Triple) (process.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SpawnErr != nil {
		return nil, l.SpawnErr
	}
	h := NewMockHandle()
	if l.FailProxy {
		h.Exit(1)
	}
	l.proxies = append(l.proxies, h)
	return h, nil
}

func (l *MockLauncher) KillDisplay(_ context.Context, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.killedDisplays = append(l.killedDisplays, n)
	return nil
}

// Spawned returns how many display and proxy processes were started.
func (l *MockLauncher) Spawned() (displays, proxies int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.displays), len(l.proxies)
}

func (l *MockLauncher) Displays() []*MockHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockHandle(nil), l.displays...)
}

func (l *MockLauncher) Proxies() []*MockHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockHandle(nil), l.proxies...)
}

// KilledDisplays lists the display numbers passed to KillDisplay.
func (l *MockLauncher) KilledDisplays() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.killedDisplays...)
}

// MockLookPath accepts every command, so tests don't depend on what is installed.
func MockLookPath(file string) (string, error) {
	if file == "" {
		return "", errors.New("empty command")
	}
	return "/usr/bin/" + file, nil
}
