// Package process spawns and supervises the external OS processes a session
// depends on. A Handle reports liveness without blocking, which is what the
// bounded start confirmation in ConfirmStarted needs.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoProcess is returned when signalling a handle that never started.
var ErrNoProcess = errors.New("process not started")

// Handle is a running (or finished) child process.
type Handle interface {
	Pid() int
	// Exited reports whether the process has terminated and, if so, its exit code.
	Exited() (code int, exited bool)
	Kill() error
}

// ConfirmStarted polls h every interval, at most maxAttempts times. A process
// that exits inside the window (with any code) did not start; one that is still
// alive when the window closes is a running daemon.
func ConfirmStarted(h Handle, interval time.Duration, maxAttempts int) bool {
	if h == nil {
		return false
	}
	for i := 0; i < maxAttempts; i++ {
		if _, exited := h.Exited(); exited {
			return false
		}
		time.Sleep(interval)
	}
	_, exited := h.Exited()
	return !exited
}

// Cmd is a Handle backed by os/exec. A goroutine reaps the child as soon as it
// exits so Exited never blocks.
type Cmd struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

// Start launches name with args and returns its handle.
func Start(name string, args ...string) (*Cmd, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	c := &Cmd{cmd: cmd, done: make(chan struct{}), exitCode: -1}
	go func() {
		err := cmd.Wait()
		code := cmd.ProcessState.ExitCode()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}
		c.mu.Lock()
		c.exitCode = code
		c.mu.Unlock()
		close(c.done)
	}()
	return c, nil
}

func (c *Cmd) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *Cmd) Exited() (int, bool) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.exitCode, true
	default:
		return 0, false
	}
}

// Done is closed once the process has been reaped.
func (c *Cmd) Done() <-chan struct{} {
	return c.done
}

// Kill sends SIGKILL to the process group so helpers forked by the child go
// too, even when the child itself has already exited. An empty group is not an
// error.
func (c *Cmd) Kill() error {
	if c.cmd.Process == nil {
		return ErrNoProcess
	}
	if err := syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// Fall back to the single pid if the group is gone or not ours.
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// Runner executes the short-lived helper commands used for teardown: the
// display-server kill command and process enumeration/termination by pattern.
type Runner interface {
	// Run executes name to completion and returns its exit code. err is only
	// set when the command could not be run at all.
	Run(ctx context.Context, name string, args ...string) (code int, output string, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (int, string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), string(out), nil
		}
		return -1, string(out), fmt.Errorf("running %s: %w", name, err)
	}
	return 0, string(out), nil
}

// CountMatching returns how many processes pgrep finds for pattern. pgrep exits
// 1 when nothing matches.
func CountMatching(ctx context.Context, r Runner, pattern string) (int, error) {
	code, out, err := r.Run(ctx, "pgrep", pattern)
	if err != nil {
		return 0, err
	}
	switch code {
	case 0:
	case 1:
		return 0, nil
	default:
		return 0, fmt.Errorf("pgrep %s exited with %d: %s", pattern, code, strings.TrimSpace(out))
	}

	n := 0
	for _, line := range strings.Split(out, "\n") {
		if _, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			n++
		}
	}
	return n, nil
}

// TerminateMatching sends SIGTERM to every process matching pattern. Nothing
// matching is not an error.
func TerminateMatching(ctx context.Context, r Runner, pattern string) error {
	code, out, err := r.Run(ctx, "pkill", "-15", pattern)
	if err != nil {
		return err
	}
	if code != 0 && code != 1 {
		return fmt.Errorf("pkill %s exited with %d: %s", pattern, code, strings.TrimSpace(out))
	}
	return nil
}

// KillBoth force-kills two handles, logging instead of stopping on the first
// failure. Nil handles are skipped.
func KillBoth(log zerolog.Logger, a, b Handle) error {
	var errs []error
	for _, h := range []Handle{a, b} {
		if h == nil {
			continue
		}
		if err := h.Kill(); err != nil {
			log.Warn().Err(err).Int("pid", h.Pid()).Msg("couldn't kill process")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
