package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SERVE_CHROOT_DISPLAY_MAX_SESSIONS=20.
const EnvPrefix = "SERVE_CHROOT"

// Config is the complete orchestrator configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Display DisplayConfig `mapstructure:"display"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Startup StartupConfig `mapstructure:"startup"`
	Apps    AppsConfig    `mapstructure:"apps"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// DisplayConfig describes the display-server binary and the raw port range.
type DisplayConfig struct {
	Command string `mapstructure:"command"`
	// Pattern is matched against process names by pgrep/pkill on global teardown.
	Pattern     string `mapstructure:"pattern"`
	BasePort    int    `mapstructure:"base_port"`
	Offset      int    `mapstructure:"offset"`
	MaxSessions int    `mapstructure:"max_sessions"`
}

type ProxyConfig struct {
	Command  string `mapstructure:"command"`
	Pattern  string `mapstructure:"pattern"`
	BasePort int    `mapstructure:"base_port"`
}

type StartupConfig struct {
	Dir            string `mapstructure:"dir"`
	WindowManager  string `mapstructure:"window_manager"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	PollAttempts   int    `mapstructure:"poll_attempts"`
}

// PollInterval returns the start confirmation interval as a time.Duration
func (c StartupConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

type AppsConfig struct {
	Dirs      []string `mapstructure:"dirs"`
	IconTheme string   `mapstructure:"icon_theme"`
	IconSize  int      `mapstructure:"icon_size"`
	IconDirs  []string `mapstructure:"icon_dirs"`
	Watch     bool     `mapstructure:"watch"`
}

type LogConfig struct {
	Level         string `mapstructure:"level"`
	Dev           bool   `mapstructure:"dev"`
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Retention returns how long log files are kept.
func (c LogConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":3300"},
		Display: DisplayConfig{
			Command:     "vncserver",
			Pattern:     "vnc",
			BasePort:    3310,
			Offset:      10,
			MaxSessions: 100,
		},
		Proxy: ProxyConfig{
			Command:  "websockify",
			Pattern:  "websockify",
			BasePort: 3410,
		},
		Startup: StartupConfig{
			Dir:            "/tmp",
			WindowManager:  "i3 -c /etc/i3.conf",
			PollIntervalMs: 100,
			PollAttempts:   50,
		},
		Apps: AppsConfig{
			Dirs:      []string{"/usr/share/applications"},
			IconTheme: "Numix",
			IconSize:  256,
			IconDirs:  []string{"/usr/share/icons", "/usr/share/pixmaps"},
			Watch:     true,
		},
		Log: LogConfig{
			Level:         "info",
			RetentionDays: 5,
		},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.listen", d.Server.Listen)

	v.SetDefault("display.command", d.Display.Command)
	v.SetDefault("display.pattern", d.Display.Pattern)
	v.SetDefault("display.base_port", d.Display.BasePort)
	v.SetDefault("display.offset", d.Display.Offset)
	v.SetDefault("display.max_sessions", d.Display.MaxSessions)

	v.SetDefault("proxy.command", d.Proxy.Command)
	v.SetDefault("proxy.pattern", d.Proxy.Pattern)
	// 0 means "directly after the raw display range", resolved in Load.
	v.SetDefault("proxy.base_port", 0)

	v.SetDefault("startup.dir", d.Startup.Dir)
	v.SetDefault("startup.window_manager", d.Startup.WindowManager)
	v.SetDefault("startup.poll_interval_ms", d.Startup.PollIntervalMs)
	v.SetDefault("startup.poll_attempts", d.Startup.PollAttempts)

	v.SetDefault("apps.dirs", d.Apps.Dirs)
	v.SetDefault("apps.icon_theme", d.Apps.IconTheme)
	v.SetDefault("apps.icon_size", d.Apps.IconSize)
	v.SetDefault("apps.icon_dirs", d.Apps.IconDirs)
	v.SetDefault("apps.watch", d.Apps.Watch)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dev", d.Log.Dev)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.retention_days", d.Log.RetentionDays)
}

// New returns a viper instance with defaults, config search paths and
// environment overrides registered. configFile may be empty.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("serve-chroot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/serve-chroot")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (if any) and unmarshals the merged configuration.
// A missing config file is not an error unless it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Proxy.BasePort == 0 {
		cfg.Proxy.BasePort = cfg.Display.BasePort + cfg.Display.MaxSessions
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the port ranges and polling parameters.
func (c *Config) Validate() error {
	d, p := c.Display, c.Proxy
	switch {
	case d.MaxSessions <= 0:
		return fmt.Errorf("display.max_sessions must be positive, got %d", d.MaxSessions)
	case d.BasePort <= 0 || d.BasePort+d.MaxSessions > 65536:
		return fmt.Errorf("display port range [%d, %d) is out of bounds", d.BasePort, d.BasePort+d.MaxSessions)
	case p.BasePort <= 0 || p.BasePort+d.MaxSessions > 65536:
		return fmt.Errorf("proxy port range [%d, %d) is out of bounds", p.BasePort, p.BasePort+d.MaxSessions)
	case p.BasePort < d.BasePort+d.MaxSessions && d.BasePort < p.BasePort+d.MaxSessions:
		return fmt.Errorf("display ports [%d, %d) overlap proxy ports [%d, %d)",
			d.BasePort, d.BasePort+d.MaxSessions, p.BasePort, p.BasePort+d.MaxSessions)
	case d.Offset < 0:
		return fmt.Errorf("display.offset must not be negative, got %d", d.Offset)
	case c.Startup.PollIntervalMs <= 0 || c.Startup.PollAttempts <= 0:
		return errors.New("startup.poll_interval_ms and startup.poll_attempts must be positive")
	case d.Command == "" || c.Proxy.Command == "":
		return errors.New("display.command and proxy.command are required")
	}
	return nil
}
