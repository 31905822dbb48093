// Package config loads runtime settings from defaults, an optional config
// file and SIMPLEIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

// EnvPrefix prefixes every environment override, e.g. SIMPLEIO_POLL_INTERVAL.
const EnvPrefix = "SIMPLEIO"

// Config holds runtime settings.
type Config struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout"`
	Watch          bool          `mapstructure:"watch"`
	SandboxDir     string        `mapstructure:"sandbox_dir"`
	Log            LogConfig     `mapstructure:"log"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", tail.DefaultPollInterval)
	v.SetDefault("read_buffer_size", tail.DefaultReadBufferSize)
	v.SetDefault("launch_timeout", tail.DefaultLaunchTimeout)
	v.SetDefault("watch", true)
	v.SetDefault("sandbox_dir", defaultSandboxDir())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
}

func defaultSandboxDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "simpleio")
}

// Load reads configuration into a Config. file may be empty.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the tailer cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize))
	}
	if c.LaunchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("launch_timeout must be positive, got %s", c.LaunchTimeout))
	}
	if c.SandboxDir == "" {
		errs = append(errs, errors.New("sandbox_dir must not be empty"))
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.encoding must be json or console, got %q", c.Log.Encoding))
	}
	return errors.Join(errs...)
}

// RegistryOptions translates the settings into tail.Registry options.
func (c *Config) RegistryOptions(log *zap.Logger) []tail.Option {
	return []tail.Option{
		tail.WithLogger(log),
		tail.WithPollInterval(c.PollInterval),
		tail.WithReadBufferSize(c.ReadBufferSize),
		tail.WithLaunchTimeout(c.LaunchTimeout),
		tail.WithWatch(c.Watch),
	}
}
