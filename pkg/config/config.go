package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the control plane's runtime configuration
type Config struct {
	DataDir    string `mapstructure:"data_dir"`
	ListenAddr string `mapstructure:"listen_addr"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// MonitorInterval is how often the heartbeat monitor sweeps;
	// StaleAfter is how long a host may go silent before it flips offline.
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`

	// ExcludeHostID skips one host from stale detection
	ExcludeHostID string `mapstructure:"exclude_host_id"`

	// ProxySyncURL is the edge proxy webhook; empty disables route syncing
	ProxySyncURL string `mapstructure:"proxy_sync_url"`

	// JoinTokenTTL is the validity window for minted host join tokens
	JoinTokenTTL time.Duration `mapstructure:"join_token_ttl"`

	// MetricsInterval is how often fleet gauges are refreshed
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

// Load reads configuration from an optional YAML file and CORDON_* env
// vars. Env vars win over file values; both win over defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "/var/lib/cordon")
	v.SetDefault("listen_addr", ":8420")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("monitor_interval", time.Minute)
	v.SetDefault("stale_after", 2*time.Minute)
	v.SetDefault("exclude_host_id", "")
	v.SetDefault("proxy_sync_url", "")
	v.SetDefault("join_token_ttl", time.Hour)
	v.SetDefault("metrics_interval", 30*time.Second)

	v.SetEnvPrefix("CORDON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the control plane cannot run with
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive")
	}
	if c.StaleAfter < c.MonitorInterval {
		return fmt.Errorf("stale_after (%s) must be at least the monitor interval (%s)", c.StaleAfter, c.MonitorInterval)
	}
	return nil
}
