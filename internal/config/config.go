package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/m3u-dvr/pkg/logger"
)

const envPrefix = "M3U_DVR"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Folders  FoldersConfig   `mapstructure:"folders"`
	Scripts  ScriptsConfig   `mapstructure:"scripts"`
	Launcher LauncherConfig  `mapstructure:"launcher"`
	Cleanup  CleanupConfig   `mapstructure:"cleanup"`
	Live     LiveConfig      `mapstructure:"live"`
	Services []ServiceConfig `mapstructure:"services"`
	Playlist PlaylistConfig  `mapstructure:"playlist"`
	Apprise  AppriseConfig   `mapstructure:"apprise"`
	Queue    QueueConfig     `mapstructure:"queue"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// BaseURL is handed to workers so they can call back on completion.
	BaseURL string `mapstructure:"base_url"`
	// LogLevel overrides the server log level; applied on reload too.
	LogLevel string `mapstructure:"log_level"`
}

// FoldersConfig holds the four artifact namespaces.
type FoldersConfig struct {
	Cache string `mapstructure:"cache"` // Short-lived playlist entries awaiting a job
	Jobs  string `mapstructure:"jobs"`  // Live job records and info records
	Work  string `mapstructure:"work"`  // Partial media, worker logs and status files
	Media string `mapstructure:"media"` // Finalized media with sidecar info JSON
}

type ScriptsConfig struct {
	Record   string `mapstructure:"record"`
	Download string `mapstructure:"download"`
	Live     string `mapstructure:"live"`
	Movie    string `mapstructure:"movie"`
	Stop     string `mapstructure:"stop"`
	// Shell runs the composed command line, e.g. "/bin/sh".
	Shell    string `mapstructure:"shell"`
	LogLevel string `mapstructure:"log_level"`
}

type LauncherConfig struct {
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"` // 0 = no limit
}

type CleanupConfig struct {
	MinAge      time.Duration `mapstructure:"min_age"`
	DanglingAge time.Duration `mapstructure:"dangling_age"`
	Schedule    string        `mapstructure:"schedule"` // cron spec, e.g. "@every 1h"
}

type LiveConfig struct {
	ViewerTimeout time.Duration `mapstructure:"viewer_timeout"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// ServiceConfig describes a streaming service and its concurrency budget.
type ServiceConfig struct {
	ID             string `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	ServerURL      string `mapstructure:"server_url"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"` // 0 = unlimited
}

type PlaylistConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimitRPM int           `mapstructure:"rate_limit_rpm"`
}

type AppriseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"` // Apprise API URL
	Key     string `mapstructure:"key"`      // Apprise config key
	Tag     string `mapstructure:"tag"`      // Tag to filter services
}

type QueueConfig struct {
	MaxRetries   int `mapstructure:"max_retries"`    // Max finalize attempts per job
	RetryDelayMs int `mapstructure:"retry_delay_ms"` // Delay between retries
}

// LookupService returns the service whose server URL prefixes rawURL.
func (c *Config) LookupService(rawURL string) (ServiceConfig, bool) {
	for _, s := range c.Services {
		if s.ServerURL == "" {
			continue
		}
		if strings.HasPrefix(rawURL, strings.TrimRight(s.ServerURL, "/")) {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

// ServiceByID returns the service registered under id.
func (c *Config) ServiceByID(id string) (ServiceConfig, bool) {
	for _, s := range c.Services {
		if s.ID == id {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")

	v.SetDefault("folders.cache", "/data/cache")
	v.SetDefault("folders.jobs", "/data/jobs")
	v.SetDefault("folders.work", "/data/work")
	v.SetDefault("folders.media", "/data/media")

	v.SetDefault("scripts.record", "/app/scripts/record.sh")
	v.SetDefault("scripts.download", "/app/scripts/download.sh")
	v.SetDefault("scripts.live", "/app/scripts/live.sh")
	v.SetDefault("scripts.movie", "/app/scripts/download.sh")
	v.SetDefault("scripts.stop", "/app/scripts/stop.sh")
	v.SetDefault("scripts.shell", "/bin/sh")
	v.SetDefault("scripts.log_level", "info")

	v.SetDefault("cleanup.min_age", "6h")
	v.SetDefault("cleanup.dangling_age", "24h")
	v.SetDefault("cleanup.schedule", "@every 1h")

	v.SetDefault("live.viewer_timeout", "15s")
	v.SetDefault("live.watch_interval", "10s")

	v.SetDefault("playlist.timeout", "30s")

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay_ms", 5000)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// ChangeCallback is called when config changes.
type ChangeCallback func(old, new *Config)

// Manager handles config loading and hot-reload.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	cfg       *Config
	callbacks []ChangeCallback
	stop      chan struct{}
	stopOnce  sync.Once

	path        string
	lastModTime time.Time
}

// NewManager creates a config manager with hot-reload support via polling.
func NewManager(path string) (*Manager, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	var lastMod time.Time
	if stat, err := os.Stat(path); err == nil {
		lastMod = stat.ModTime()
	}

	m := &Manager{
		v:           v,
		cfg:         &cfg,
		stop:        make(chan struct{}),
		path:        path,
		lastModTime: lastMod,
	}

	go m.pollForChanges(10 * time.Second)

	logger.Infof("📋 Config loaded (polling every 10s for changes)")

	return m, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) pollForChanges(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			stat, err := os.Stat(m.path)
			if err != nil {
				continue
			}

			m.mu.RLock()
			lastMod := m.lastModTime
			m.mu.RUnlock()

			if stat.ModTime().After(lastMod) {
				logger.Infof("🔄 Config file changed, reloading...")

				if err := m.v.ReadInConfig(); err != nil {
					logger.Errorf("❌ Failed to re-read config: %v", err)
					continue
				}

				m.mu.Lock()
				m.lastModTime = stat.ModTime()
				m.mu.Unlock()

				m.reload()
			}
		}
	}
}

func (m *Manager) reload() {
	var newCfg Config
	if err := m.v.Unmarshal(&newCfg); err != nil {
		logger.Errorf("❌ Failed to reload config: %v", err)
		return
	}

	m.mu.Lock()
	oldCfg := m.cfg
	m.cfg = &newCfg
	callbacks := m.callbacks
	m.mu.Unlock()

	logChanges(oldCfg, &newCfg, "")

	for _, cb := range callbacks {
		cb(oldCfg, &newCfg)
	}
}

func logChanges(old, cur any, prefix string) {
	oldVal := reflect.ValueOf(old)
	newVal := reflect.ValueOf(cur)

	if oldVal.Kind() == reflect.Ptr {
		oldVal = oldVal.Elem()
	}
	if newVal.Kind() == reflect.Ptr {
		newVal = newVal.Elem()
	}

	if oldVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		fieldName := field.Name
		if prefix != "" {
			fieldName = prefix + "." + fieldName
		}

		if oldField.Kind() == reflect.Struct {
			logChanges(oldField.Interface(), newField.Interface(), fieldName)
			continue
		}

		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			// Credentials live in the services list; never echo them.
			if fieldName == "Services" {
				logger.Infof("  📝 %s: changed", fieldName)
				continue
			}
			logger.Infof("  📝 %s: %v → %v", fieldName, oldField.Interface(), newField.Interface())
		}
	}
}

// Load is a convenience function for one-time loading.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}
