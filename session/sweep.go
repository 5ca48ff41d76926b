package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"serve-chroot/process"
)

// Sweep tears down display servers and proxies left behind by an earlier run.
// It works from the process table rather than from a Manager, which is empty
// after a restart.
type Sweep struct {
	Runner         process.Runner
	Launcher       Launcher
	DisplayPattern string
	ProxyPattern   string
	// Offset is the first display number sessions are given.
	Offset int
	Log    zerolog.Logger
}

// Run counts the running display servers, asks the display server to kill
// that many displays starting at Offset, then sends SIGTERM to everything
// matching either pattern. It returns the number of display servers found.
func (s Sweep) Run(ctx context.Context) (int, error) {
	var errs []error

	n, err := process.CountMatching(ctx, s.Runner, s.DisplayPattern)
	if err != nil {
		s.Log.Warn().Err(err).Msg("couldn't count running display servers")
		errs = append(errs, err)
	}
	s.Log.Info().Int("instances", n).Msg("running display server instances")

	for d := s.Offset; d < s.Offset+n; d++ {
		if err := s.Launcher.KillDisplay(ctx, d); err != nil {
			s.Log.Error().Err(err).Int("display", d).Msg("failed to kill the display")
			continue
		}
		s.Log.Info().Int("display", d).Msg("killed display")
	}

	for _, pattern := range []string{s.DisplayPattern, s.ProxyPattern} {
		if pattern == "" {
			continue
		}
		if err := process.TerminateMatching(ctx, s.Runner, pattern); err != nil {
			s.Log.Warn().Err(err).Str("pattern", pattern).Msg("couldn't terminate processes")
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}
