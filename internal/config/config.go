// Package config loads the server configuration from a config file,
// EPHEMERIS_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalsfoundry/ephemeris-server/internal/dataset"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
	"github.com/signalsfoundry/ephemeris-server/internal/observability"
	"github.com/signalsfoundry/ephemeris-server/internal/protocol"
	"github.com/signalsfoundry/ephemeris-server/internal/server"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EPHEMERIS_SERVER_PORT.
const EnvPrefix = "EPHEMERIS"

// FileName is the config file searched for when no path is given.
const FileName = "ephemeris-server"

const (
	DefaultVersionURL = "https://spiftp.esac.esa.int/data/SPICE/HERA/misc/skd/version.txt"
	DefaultArchiveURL = "https://spiftp.esac.esa.int/data/SPICE/HERA/misc/skd/HERA.zip"
)

// DefaultMetaKernels are loaded in order: trajectory and attitude, then
// operations, then planning.
var DefaultMetaKernels = []string{"hera_crema_2_1.tm", "hera_ops.tm", "hera_plan.tm"}

// Config is the full runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	Dataset DatasetConfig `mapstructure:"dataset" yaml:"dataset"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

type ServerConfig struct {
	Port            int       `mapstructure:"port" yaml:"port"`
	Path            string    `mapstructure:"path" yaml:"path"`
	MaxMessageBytes int       `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	TLS             TLSConfig `mapstructure:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Key        string `mapstructure:"key" yaml:"key"`
	Cert       string `mapstructure:"cert" yaml:"cert"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
	Watch      bool   `mapstructure:"watch" yaml:"watch"`
}

type AdminConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	GRPCAddr    string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
}

type DatasetConfig struct {
	// Root is the project root holding data/. Empty means the parent of the
	// executable's directory.
	Root        string   `mapstructure:"root" yaml:"root"`
	Name        string   `mapstructure:"name" yaml:"name"`
	ArchiveRoot string   `mapstructure:"archive_root" yaml:"archive_root"`
	VersionURL  string   `mapstructure:"version_url" yaml:"version_url"`
	ArchiveURL  string   `mapstructure:"archive_url" yaml:"archive_url"`
	MetaKernels []string `mapstructure:"meta_kernels" yaml:"meta_kernels"`
	PathToken   string   `mapstructure:"path_token" yaml:"path_token"`
	Cleanup     []string `mapstructure:"cleanup" yaml:"cleanup"`
}

type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Schedule is a cron expression; when set it overrides Interval.
	Schedule        string        `mapstructure:"schedule" yaml:"schedule"`
	VersionTimeout  time.Duration `mapstructure:"version_timeout" yaml:"version_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	// Journal is the SQLite history path, relative to the data directory
	// unless absolute. Empty disables the journal.
	Journal string `mapstructure:"journal" yaml:"journal"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter    string  `mapstructure:"exporter" yaml:"exporter"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// SetDefaults registers every key, which also makes each one reachable
// through its environment variable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9002)
	v.SetDefault("server.path", server.DefaultPath)
	v.SetDefault("server.max_message_bytes", server.DefaultMaxMessageBytes)
	v.SetDefault("server.tls.key", "")
	v.SetDefault("server.tls.cert", "")
	v.SetDefault("server.tls.passphrase", "")
	v.SetDefault("server.tls.watch", false)

	v.SetDefault("admin.metrics_addr", ":9090")
	v.SetDefault("admin.grpc_addr", ":9091")

	v.SetDefault("dataset.root", "")
	v.SetDefault("dataset.name", "hera")
	v.SetDefault("dataset.archive_root", "HERA")
	v.SetDefault("dataset.version_url", DefaultVersionURL)
	v.SetDefault("dataset.archive_url", DefaultArchiveURL)
	v.SetDefault("dataset.meta_kernels", DefaultMetaKernels)
	v.SetDefault("dataset.path_token", dataset.DefaultPathToken)
	v.SetDefault("dataset.cleanup", dataset.DefaultCleanup)

	v.SetDefault("sync.interval", 24*time.Hour)
	v.SetDefault("sync.schedule", "")
	v.SetDefault("sync.version_timeout", 10*time.Second)
	v.SetDefault("sync.download_timeout", 30*time.Minute)
	v.SetDefault("sync.journal", "sync.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", observability.DefaultServiceName)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads path into v. With an empty path it searches the working
// directory and the user config directory for ephemeris-server.{yaml,toml},
// and a missing file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName(FileName)
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, FileName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes v and fills in the dataset root when unset.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Dataset.Root == "" {
		root, err := dataset.DefaultRoot()
		if err != nil {
			return Config{}, err
		}
		cfg.Dataset.Root = root
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		add("server.path %q must start with /", c.Server.Path)
	}
	if c.Server.MaxMessageBytes < protocol.RequestSize {
		add("server.max_message_bytes %d is smaller than a request", c.Server.MaxMessageBytes)
	}
	if (c.Server.TLS.Key == "") != (c.Server.TLS.Cert == "") {
		add("server.tls.key and server.tls.cert must be set together")
	}
	for key, addr := range map[string]string{"admin.metrics_addr": c.Admin.MetricsAddr, "admin.grpc_addr": c.Admin.GRPCAddr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add("%s %q: %v", key, addr, err)
		}
	}

	if err := c.Layout().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Dataset.VersionURL == "" || c.Dataset.ArchiveURL == "" {
		add("dataset.version_url and dataset.archive_url are required")
	}
	if len(c.Dataset.MetaKernels) == 0 {
		add("dataset.meta_kernels is empty")
	}
	if c.Dataset.PathToken == "" {
		add("dataset.path_token is empty")
	}

	if _, err := dataset.NewSchedule(c.Sync.Interval, c.Sync.Schedule); err != nil {
		errs = append(errs, err)
	}
	if c.Sync.VersionTimeout <= 0 || c.Sync.DownloadTimeout <= 0 {
		add("sync timeouts must be positive")
	}

	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		add("log.format: %v", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			add("tracing.exporter %q is not stdout or otlp", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		add("tracing.sample_ratio %v is outside [0, 1]", c.Tracing.SampleRatio)
	}
	return errors.Join(errs...)
}

// ListenAddr is the WebSocket listen address.
func (c Config) ListenAddr() string { return fmt.Sprintf(":%d", c.Server.Port) }

// ServerSettings converts to the connection layer settings.
func (c Config) ServerSettings() server.Config {
	return server.Config{
		Addr:            c.ListenAddr(),
		Path:            c.Server.Path,
		MaxMessageBytes: c.Server.MaxMessageBytes,
		TLS: server.TLSConfig{
			CertFile:   c.Server.TLS.Cert,
			KeyFile:    c.Server.TLS.Key,
			Passphrase: c.Server.TLS.Passphrase,
			Watch:      c.Server.TLS.Watch,
		},
	}
}

// Layout returns the on-disk dataset layout.
func (c Config) Layout() dataset.Layout {
	return dataset.Layout{Root: c.Dataset.Root, Name: c.Dataset.Name, ArchiveRoot: c.Dataset.ArchiveRoot}
}

// JournalPath resolves Sync.Journal against the data directory.
func (c Config) JournalPath() string {
	if c.Sync.Journal == "" || filepath.IsAbs(c.Sync.Journal) {
		return c.Sync.Journal
	}
	return filepath.Join(c.Layout().DataDir(), c.Sync.Journal)
}

// LogSettings returns the logger settings.
func (c Config) LogSettings() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// TracingSettings returns the tracer settings.
func (c Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
