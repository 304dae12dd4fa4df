// Package config loads server configuration from flags, environment, .env and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PARKD_HOLD_DURATION.
const EnvPrefix = "PARKD"

// Config is the resolved server configuration.
type Config struct {
	Addr          string
	DataDir       string
	StaticDir     string
	JWTSecret     string
	HoldDuration  time.Duration
	SweepInterval time.Duration
	BookRate      float64
	BookBurst     int
	RedisAddr     string
	RedisChannel  string
	LogLevel      string
	Metrics       bool
	ConfigFile    string
}

var defaults = map[string]any{
	"addr":           ":8080",
	"data-dir":       "./data",
	"static-dir":     "",
	"jwt-secret":     "",
	"hold-duration":  30 * time.Minute,
	"sweep-interval": 30 * time.Second,
	"book-rate":      1.0,
	"book-burst":     5,
	"redis-addr":     "",
	"redis-channel":  "parking:events",
	"log-level":      "info",
	"metrics":        true,
	"config":         "",
}

// AddFlags registers every configuration key as a flag on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("addr", defaults["addr"].(string), "HTTP listen address")
	fs.String("data-dir", defaults["data-dir"].(string), "directory holding the SQLite database")
	fs.String("static-dir", defaults["static-dir"].(string), "directory of static frontend files to serve (optional)")
	fs.String("jwt-secret", defaults["jwt-secret"].(string), "HS256 secret used to verify bearer tokens")
	fs.Duration("hold-duration", defaults["hold-duration"].(time.Duration), "how long a booking holds a slot")
	fs.Duration("sweep-interval", defaults["sweep-interval"].(time.Duration), "how often lapsed reservations are released")
	fs.Float64("book-rate", defaults["book-rate"].(float64), "booking requests per second allowed per identity")
	fs.Int("book-burst", defaults["book-burst"].(int), "booking burst allowed per identity")
	fs.String("redis-addr", defaults["redis-addr"].(string), "Redis address for relaying events between instances (optional)")
	fs.String("redis-channel", defaults["redis-channel"].(string), "Redis pub/sub channel for relayed events")
	fs.String("log-level", defaults["log-level"].(string), "log level (trace, debug, info, warn, error)")
	fs.Bool("metrics", defaults["metrics"].(bool), "expose Prometheus metrics on /metrics")
	fs.String("config", defaults["config"].(string), "path to a YAML, TOML or JSON config file")
}

// NewViper returns a viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads environment variables from the given .env files, or ./.env
// when none are given. Missing files are ignored and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load binds fs to v, reads the config file if one is set and resolves the configuration.
// Precedence is flag, environment, config file, default.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	cfgFile := strings.TrimSpace(v.GetString("config"))
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", cfgFile, err)
		}
	}

	return &Config{
		Addr:          v.GetString("addr"),
		DataDir:       v.GetString("data-dir"),
		StaticDir:     v.GetString("static-dir"),
		JWTSecret:     v.GetString("jwt-secret"),
		HoldDuration:  v.GetDuration("hold-duration"),
		SweepInterval: v.GetDuration("sweep-interval"),
		BookRate:      v.GetFloat64("book-rate"),
		BookBurst:     v.GetInt("book-burst"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisChannel:  v.GetString("redis-channel"),
		LogLevel:      v.GetString("log-level"),
		Metrics:       v.GetBool("metrics"),
		ConfigFile:    cfgFile,
	}, nil
}

// Validate checks the configuration needed to serve requests.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data-dir is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt-secret is required"))
	}
	if c.HoldDuration <= 0 {
		errs = append(errs, errors.New("hold-duration must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep-interval must be positive"))
	}
	if c.BookRate <= 0 {
		errs = append(errs, errors.New("book-rate must be positive"))
	}
	if c.BookBurst < 1 {
		errs = append(errs, errors.New("book-burst must be at least 1"))
	}
	if c.RedisAddr != "" && strings.TrimSpace(c.RedisChannel) == "" {
		errs = append(errs, errors.New("redis-channel is required when redis-addr is set"))
	}
	return errors.Join(errs...)
}

// DBPath returns the SQLite database file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "parking.db")
}
