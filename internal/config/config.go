package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`  // Rotate log file above this size (default: 50)
	MaxBackups int    `mapstructure:"maxBackups"` // Number of rotated log files to keep (default: 5)
}

type SchedulerConfig struct {
	TickSeconds        int `mapstructure:"tickSeconds"`        // Allocation loop interval, default 2
	VetoStepSeconds    int `mapstructure:"vetoStepSeconds"`    // Per-step veto timeout, default 120; negative auto-resolves immediately
	RconTimeoutSeconds int `mapstructure:"rconTimeoutSeconds"` // Per-command RCON deadline, default 3
	RconRetries        int `mapstructure:"rconRetries"`        // Config push attempts per command, default 3
	ProbeAfterMinutes  int `mapstructure:"probeAfterMinutes"`  // Probe loaded matches silent this long, default 5
}

type Config struct {
	APIToken    string `mapstructure:"apiToken"`    // Operator bearer token
	ServerToken string `mapstructure:"serverToken"` // Shared secret for plugin webhooks
	SteamAPIKey string `mapstructure:"steamApiKey"` // Optional; empty disables /api/steam/resolve
	BaseURL     string `mapstructure:"baseUrl"`     // Public base URL the plugin uses to reach us
	DataDir     string `mapstructure:"dataDir"`
	DemoDir     string `mapstructure:"demoDir"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetConfigName("matchzy-tournament")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	viper.BindEnv("apiToken", "API_TOKEN")
	viper.BindEnv("serverToken", "SERVER_TOKEN")
	viper.BindEnv("steamApiKey", "STEAM_API_KEY")
	viper.BindEnv("baseUrl", "BASE_URL")
	viper.BindEnv("dataDir", "DATA_DIR")
	viper.BindEnv("demoDir", "DEMO_DIR")

	// Try YAML first, then TOML; a missing file is fine as long as the
	// required values arrive through the environment.
	viper.SetConfigType("yml")
	if err := viper.ReadInConfig(); err != nil {
		viper.SetConfigType("toml")
		viper.ReadInConfig()
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "pb_data"
	}
	if c.DemoDir == "" {
		c.DemoDir = "demos"
	}
	if c.Scheduler.TickSeconds <= 0 {
		c.Scheduler.TickSeconds = 2
	}
	if c.Scheduler.VetoStepSeconds == 0 {
		c.Scheduler.VetoStepSeconds = 120
	}
	if c.Scheduler.RconTimeoutSeconds <= 0 {
		c.Scheduler.RconTimeoutSeconds = 3
	}
	if c.Scheduler.RconRetries <= 0 {
		c.Scheduler.RconRetries = 3
	}
	if c.Scheduler.ProbeAfterMinutes <= 0 {
		c.Scheduler.ProbeAfterMinutes = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
}

// Validate checks that the tokens the control plane cannot run without are set.
func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("API_TOKEN is not set")
	}
	if c.ServerToken == "" {
		return fmt.Errorf("SERVER_TOKEN is not set")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is not set")
	}
	return nil
}

// Durations derived from the integer tunables.

func (c *Config) Tick() time.Duration        { return time.Duration(c.Scheduler.TickSeconds) * time.Second }
func (c *Config) VetoStep() time.Duration    { return time.Duration(c.Scheduler.VetoStepSeconds) * time.Second }
func (c *Config) RconTimeout() time.Duration { return time.Duration(c.Scheduler.RconTimeoutSeconds) * time.Second }
func (c *Config) ProbeAfter() time.Duration  { return time.Duration(c.Scheduler.ProbeAfterMinutes) * time.Minute }

// Exists checks if a config file is present in the working directory.
func Exists() bool {
	for _, name := range []string{"matchzy-tournament.yml", "matchzy-tournament.yaml", "matchzy-tournament.toml"} {
		if _, err := os.Stat(name); err == nil {
			return true
		}
	}
	return false
}
