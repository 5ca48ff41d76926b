// Package cmd holds the serve-chroot command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"serve-chroot/config"
	"serve-chroot/logger"
	"serve-chroot/process"
	"serve-chroot/session"
)

var (
	configFile string
	logLevel   string
	devMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "serve-chroot",
	Short: "Run graphical applications in virtual displays and stream them to the browser",
	Long: `serve-chroot starts applications inside their own virtual display, proxies
each display over a WebSocket and lets one master client create and kill those
sessions over a JSON control channel. It can also list installed desktop
applications and install or remove packages.

Without a subcommand it behaves like "serve-chroot serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./serve-chroot.yaml or /etc/serve-chroot/serve-chroot.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "human readable console logging")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (default :3300)")
}

// setup loads the configuration and configures logging. The returned closer
// releases the log file.
func setup(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	v := config.New(configFile)
	for key, flag := range map[string]string{
		"log.level":     "log-level",
		"log.dev":       "dev",
		"server.listen": "listen",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, err
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}

	closer, err := logger.Configure(logger.Options{
		Level: logger.LogLevel(cfg.Log.Level),
		Dev:   cfg.Log.Dev,
		Dir:   cfg.Log.Dir,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Log.Dir != "" {
		n, err := logger.PruneOldFiles(cfg.Log.Dir, cfg.Log.Retention(), time.Now())
		if err != nil {
			logger.Warnf("failed to prune old log files: %v", err)
		} else if n > 0 {
			logger.Infof("deleted %d old log files", n)
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Infof("using config file %s", used)
	}
	logger.Debugf("listen %s, %d sessions on displays :%d and up, proxies from port %d",
		cfg.Server.Listen, cfg.Display.MaxSessions, cfg.Display.Offset, cfg.Proxy.BasePort)
	return cfg, closer, nil
}

func newLauncher(cfg *config.Config, runner process.Runner) *session.DisplayLauncher {
	return &session.DisplayLauncher{
		DisplayCommand: cfg.Display.Command,
		ProxyCommand:   cfg.Proxy.Command,
		StartupDir:     cfg.Startup.Dir,
		WindowManager:  cfg.Startup.WindowManager,
		Runner:         runner,
	}
}

func newSweep(cfg *config.Config, launcher session.Launcher, runner process.Runner) session.Sweep {
	return session.Sweep{
		Runner:         runner,
		Launcher:       launcher,
		DisplayPattern: cfg.Display.Pattern,
		ProxyPattern:   cfg.Proxy.Pattern,
		Offset:         cfg.Display.Offset,
		Log:            logger.Component("sweep"),
	}
}
