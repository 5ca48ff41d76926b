package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"serve-chroot/api"
	"serve-chroot/apps"
	"serve-chroot/authority"
	"serve-chroot/logger"
	"serve-chroot/pkgmgr"
	"serve-chroot/process"
	"serve-chroot/session"
)

const shutdownTimeout = 5 * time.Second

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session orchestrator",
	Long: `Run the session orchestrator.

On start every display server and proxy left over from an earlier run is
killed, the application list is loaded and the control WebSocket is served on
"/". SIGINT or SIGTERM kills all sessions before the server stops.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (default :3300)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()
	log := logger.Component("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := process.ExecRunner{}
	launcher := newLauncher(cfg, runner)
	sweep := newSweep(cfg, launcher, runner)

	log.Info().Msg("killing all current instances")
	if _, err := sweep.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("startup cleanup was incomplete")
	}

	directory := apps.NewDirectory(cfg.Apps.Dirs, apps.IconResolver{
		Theme: cfg.Apps.IconTheme,
		Size:  cfg.Apps.IconSize,
		Dirs:  cfg.Apps.IconDirs,
	}, apps.WithLogger(logger.Component("apps")))
	if err := directory.Load(); err != nil {
		log.Error().Err(err).Msg("failed to load applications")
	}
	if cfg.Apps.Watch {
		if err := directory.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("not watching application directories")
		}
	}

	pool := session.NewPool(cfg.Display.BasePort, cfg.Proxy.BasePort, cfg.Display.Offset, cfg.Display.MaxSessions)
	manager := session.NewManager(pool, launcher,
		session.WithPoll(session.Poll{Interval: cfg.Startup.PollInterval(), Attempts: cfg.Startup.PollAttempts}),
		session.WithLogger(logger.Component("registry")),
	)
	coord := authority.New(
		authority.WithLogger(logger.Component("authority")),
		authority.OnLastDisconnect(func() {
			n := manager.KillAll()
			log.Info().Int("sessions", n).Msg("killed all sessions")
		}),
	)
	packages := pkgmgr.New(pkgmgr.WithLogger(logger.Component("packages")))

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.RegisterRoutes(manager, coord, directory, packages, logger.Component("api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		teardown(manager, sweep)
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("serving")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			teardown(manager, sweep)
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Sessions go first; nothing waits for them to drain. Connections stay
	// open until Shutdown, so later runs must be refused.
	n := manager.Close()
	log.Info().Int("sessions", n).Msg("killed all sessions")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

// teardown is the best-effort cleanup on a fatal error.
func teardown(manager *session.Manager, sweep session.Sweep) {
	manager.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if _, err := sweep.Run(ctx); err != nil {
		logger.Errorf("cleanup after fatal error: %v", err)
	}
}
