package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Debrid    DebridConfig    `mapstructure:"debrid"`
	Trakt     TraktConfig     `mapstructure:"trakt"`
	Overseerr OverseerrConfig `mapstructure:"overseerr"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DebridConfig holds settings for the debrid manager web app and its
// OAuth token endpoint.
type DebridConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TokenURL       string `mapstructure:"token_url"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	RefreshToken   string `mapstructure:"refresh_token"`
	Headless       bool   `mapstructure:"headless"`
	FilterRegex    string `mapstructure:"filter_regex"`
	MaxMovieSizeGB string `mapstructure:"max_movie_size_gb"`
	MaxEpisodeGB   string `mapstructure:"max_episode_size_gb"`
	EncryptionPIN  string `mapstructure:"encryption_pin"`
}

// TraktConfig holds metadata source configuration.
type TraktConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"`
}

// OverseerrConfig holds fulfillment system configuration.
type OverseerrConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"`
}

// QueueConfig holds request queue configuration.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// MatchingConfig holds title matching thresholds. The defaults are the
// empirically tuned values carried over from production use; they are
// configurable, not derived.
type MatchingConfig struct {
	SearchThreshold     int `mapstructure:"search_threshold"`
	CachedThreshold     int `mapstructure:"cached_threshold"`
	SingleWordThreshold int `mapstructure:"single_word_threshold"`
}

// TasksConfig holds scheduled task configuration.
type TasksConfig struct {
	RefreshIntervalMinutes int  `mapstructure:"refresh_interval_minutes"`
	EnableRequestRecheck   bool `mapstructure:"enable_request_recheck"`
	EnableSubscriptions    bool `mapstructure:"enable_subscriptions"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.bridgearr")
	}

	v.SetEnvPrefix("BRIDGEARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8777)

	v.SetDefault("database.path", "./data/bridgearr.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "./logs")

	v.SetDefault("debrid.base_url", "https://debridmediamanager.com")
	v.SetDefault("debrid.token_url", "https://api.real-debrid.com/oauth/v2/token")
	v.SetDefault("debrid.headless", true)
	v.SetDefault("debrid.filter_regex", "^(?!.*【.*】)")
	v.SetDefault("debrid.max_movie_size_gb", "60")
	v.SetDefault("debrid.max_episode_size_gb", "5")

	v.SetDefault("trakt.base_url", "https://api.trakt.tv")
	v.SetDefault("trakt.timeout", 10)

	v.SetDefault("overseerr.timeout", 15)

	v.SetDefault("queue.capacity", 500)

	v.SetDefault("matching.search_threshold", 75)
	v.SetDefault("matching.cached_threshold", 65)
	v.SetDefault("matching.single_word_threshold", 60)

	v.SetDefault("tasks.refresh_interval_minutes", 60)
	v.SetDefault("tasks.enable_request_recheck", false)
	v.SetDefault("tasks.enable_subscriptions", false)
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Trakt.APIKey == "" {
		return fmt.Errorf("trakt.api_key is required")
	}
	if c.Overseerr.BaseURL == "" {
		return fmt.Errorf("overseerr.base_url is required")
	}
	if c.Overseerr.APIKey == "" {
		return fmt.Errorf("overseerr.api_key is required")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
