// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/graphstore/internal/access"
	"github.com/xkilldash9x/graphstore/internal/codec"
)

// EnvPrefix is the prefix of every environment override, e.g.
// GRAPHSTORE_LOGGER_LEVEL.
const EnvPrefix = "GRAPHSTORE"

// Config is the root configuration of a graphstore process.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Access    AccessConfig    `mapstructure:"access" yaml:"access"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Backup    BackupConfig    `mapstructure:"backup" yaml:"backup"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RegistryConfig tunes the graph registry.
type RegistryConfig struct {
	// TrackLocks records the holder of every graph lock, for deadlock hunting.
	TrackLocks bool `mapstructure:"track_locks" yaml:"track_locks"`
	// LockTimeout bounds how long CLI operations wait for a graph lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
}

// AccessConfig decides what a caller without attached grants may do.
type AccessConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DefaultGrants are capability strings in "kind action name" form,
	// e.g. "graph read http://example.org/*" or "all".
	DefaultGrants []string `mapstructure:"default_grants" yaml:"default_grants"`
}

// NotifyConfig tunes change notification.
type NotifyConfig struct {
	// DefaultDelay batches events delivered to watchers.
	DefaultDelay time.Duration `mapstructure:"default_delay" yaml:"default_delay"`
}

type ProvidersConfig struct {
	Memory   MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	File     FileConfig     `mapstructure:"file" yaml:"file"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

type MemoryConfig struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	Weight    int      `mapstructure:"weight" yaml:"weight"`
	Prefixes  []string `mapstructure:"prefixes" yaml:"prefixes"`
	Protected []string `mapstructure:"protected" yaml:"protected"`
}

type FileConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Weight    int    `mapstructure:"weight" yaml:"weight"`
	IndexPath string `mapstructure:"index_path" yaml:"index_path"`
}

type PostgresConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Weight    int           `mapstructure:"weight" yaml:"weight"`
	URL       string        `mapstructure:"url" yaml:"url"`
	Migrate   bool          `mapstructure:"migrate" yaml:"migrate"`
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Weight    int           `mapstructure:"weight" yaml:"weight"`
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db"`
	Prefix    string        `mapstructure:"prefix" yaml:"prefix"`
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

// BackupConfig tunes export and restore.
type BackupConfig struct {
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	MediaType   string `mapstructure:"media_type" yaml:"media_type"`
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "graphstore")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Registry & Access --
	v.SetDefault("registry.track_locks", false)
	v.SetDefault("registry.lock_timeout", "30s")
	v.SetDefault("access.enabled", false)
	v.SetDefault("access.default_grants", []string{access.KindAll})
	v.SetDefault("notify.default_delay", "0s")

	// -- Providers --
	v.SetDefault("providers.memory.enabled", true)
	v.SetDefault("providers.memory.weight", 0)
	v.SetDefault("providers.file.enabled", true)
	v.SetDefault("providers.file.weight", 300)
	v.SetDefault("providers.file.index_path", "~/.graphstore/graphs.index")
	v.SetDefault("providers.postgres.enabled", false)
	v.SetDefault("providers.postgres.weight", 100)
	v.SetDefault("providers.postgres.migrate", true)
	v.SetDefault("providers.postgres.op_timeout", "10s")
	v.SetDefault("providers.redis.enabled", false)
	v.SetDefault("providers.redis.weight", 50)
	v.SetDefault("providers.redis.addr", "localhost:6379")
	v.SetDefault("providers.redis.db", 0)
	v.SetDefault("providers.redis.prefix", "graphstore")
	v.SetDefault("providers.redis.op_timeout", "5s")

	// -- Backup --
	v.SetDefault("backup.concurrency", 4)
	v.SetDefault("backup.media_type", codec.MediaTypeNQuads)
}

// NewDefaultConfig returns a Config populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshalling defaults into a struct whose shape they were written for
	// cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
// Secrets are bound directly to their environment variables.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("providers.postgres.url", EnvPrefix+"_POSTGRES_URL"); err != nil {
		return nil, fmt.Errorf("error binding postgres url env var: %w", err)
	}
	if err := v.BindEnv("providers.redis.password", EnvPrefix+"_REDIS_PASSWORD"); err != nil {
		return nil, fmt.Errorf("error binding redis password env var: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Providers.File.IndexPath, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be 'console' or 'json', got %q", c.Logger.Format)
	}
	if c.Registry.LockTimeout < 0 {
		return fmt.Errorf("registry.lock_timeout cannot be negative")
	}
	if c.Notify.DefaultDelay < 0 {
		return fmt.Errorf("notify.default_delay cannot be negative")
	}
	if err := c.Access.Validate(); err != nil {
		return err
	}
	if err := c.Providers.Validate(); err != nil {
		return err
	}
	if c.Backup.Concurrency <= 0 {
		return fmt.Errorf("backup.concurrency must be a positive integer")
	}
	if !codec.Supported(c.Backup.MediaType) {
		return fmt.Errorf("backup.media_type %q is not a supported format", c.Backup.MediaType)
	}
	return nil
}

// Validate checks that every default grant parses.
func (a *AccessConfig) Validate() error {
	if _, err := a.Grants(); err != nil {
		return fmt.Errorf("access.default_grants: %w", err)
	}
	return nil
}

// Grants parses DefaultGrants.
func (a *AccessConfig) Grants() ([]access.Capability, error) {
	out := make([]access.Capability, 0, len(a.DefaultGrants))
	for _, s := range a.DefaultGrants {
		c, err := access.ParseCapability(s)
		if err != nil {
			return nil, fmt.Errorf("invalid grant %q: %w", s, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Validate checks the enabled providers.
func (p *ProvidersConfig) Validate() error {
	if !p.Memory.Enabled && !p.File.Enabled && !p.Postgres.Enabled && !p.Redis.Enabled {
		return fmt.Errorf("at least one provider must be enabled")
	}
	if p.File.Enabled && p.File.IndexPath == "" {
		return fmt.Errorf("providers.file.index_path is required when the file provider is enabled")
	}
	if p.Postgres.Enabled {
		if p.Postgres.URL == "" {
			return fmt.Errorf("providers.postgres.url is required when the postgres provider is enabled")
		}
		if p.Postgres.OpTimeout <= 0 {
			return fmt.Errorf("providers.postgres.op_timeout must be positive")
		}
	}
	if p.Redis.Enabled {
		if p.Redis.Addr == "" || p.Redis.Prefix == "" {
			return fmt.Errorf("providers.redis.addr and providers.redis.prefix are required when the redis provider is enabled")
		}
		if p.Redis.OpTimeout <= 0 {
			return fmt.Errorf("providers.redis.op_timeout must be positive")
		}
	}
	return nil
}
