// Package config resolves runtime settings and loads task and build
// definition files.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings are the runtime knobs for the server and CLI. They resolve
// from defaults, then an optional buildgraph.yaml, then BUILDGRAPH_*
// environment variables, in rising order of precedence.
type Settings struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	// DatabaseURL selects the postgres store when set; the in-memory
	// store is used otherwise.
	DatabaseURL string `mapstructure:"database_url"`

	// PoolMaxConns caps the postgres pool. Zero keeps the driver
	// default.
	PoolMaxConns int32 `mapstructure:"pool_max_conns"`

	// CacheDir is the directory for the badger-backed result cache.
	// Empty keeps the cache in memory.
	CacheDir string `mapstructure:"cache_dir"`

	// CacheTTL is the lifetime of cached sorted results.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is text or json.
	LogFormat string `mapstructure:"log_format"`

	// ConfigDir holds the task and build definition files.
	ConfigDir string `mapstructure:"config_dir"`

	// TasksFile and BuildsFile are file names inside ConfigDir.
	TasksFile  string `mapstructure:"tasks_file"`
	BuildsFile string `mapstructure:"builds_file"`

	// Watch re-applies definition files when they change on disk.
	Watch bool `mapstructure:"watch"`

	// StepDelay paces task status transitions during an execution.
	StepDelay time.Duration `mapstructure:"step_delay"`
}

// TasksPath is the resolved path of the task definition file.
func (s *Settings) TasksPath() string { return filepath.Join(s.ConfigDir, s.TasksFile) }

// BuildsPath is the resolved path of the build definition file.
func (s *Settings) BuildsPath() string { return filepath.Join(s.ConfigDir, s.BuildsFile) }

// Load resolves settings with buildgraph.yaml searched in the working
// directory.
func Load() (*Settings, error) {
	return LoadFrom(".")
}

// LoadFrom resolves settings with buildgraph.yaml searched in dir. A
// missing file is fine; a malformed one is not.
func LoadFrom(dir string) (*Settings, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":3000")
	v.SetDefault("database_url", "")
	v.SetDefault("pool_max_conns", 0)
	v.SetDefault("cache_dir", "")
	v.SetDefault("cache_ttl", time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("config_dir", "./config")
	v.SetDefault("tasks_file", "tasks.yaml")
	v.SetDefault("builds_file", "builds.yaml")
	v.SetDefault("watch", false)
	v.SetDefault("step_delay", time.Duration(0))

	v.SetConfigName("buildgraph")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("BUILDGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("buildgraph: read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("buildgraph: parse settings: %w", err)
	}
	return &s, nil
}
