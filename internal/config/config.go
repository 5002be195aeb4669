package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default service endpoints. Override at build time with:
// go build -ldflags "-X github.com/smartparent/companion/internal/config.DefaultAPIBaseURL=http://localhost:8000"
var (
	DefaultAPIBaseURL          = "https://api.smartparent.app"
	DefaultTriageBaseURL       = "https://pediatrician.smartparent.app"
	DefaultPsychologistBaseURL = "https://psychologist.smartparent.app"
	DefaultHistoryBaseURL      = "https://sql.smartparent.app"
)

// Config represents the application configuration, including the stored
// credentials of the signed-in account.
type Config struct {
	APIBaseURL          string `yaml:"api_base_url" mapstructure:"api_base_url"`
	TriageBaseURL       string `yaml:"triage_base_url" mapstructure:"triage_base_url"`
	PsychologistBaseURL string `yaml:"psychologist_base_url" mapstructure:"psychologist_base_url"`
	HistoryBaseURL      string `yaml:"history_base_url" mapstructure:"history_base_url"`

	AccessToken  string `yaml:"access_token,omitempty" mapstructure:"access_token"`
	RefreshToken string `yaml:"refresh_token,omitempty" mapstructure:"refresh_token"`
	TokenExpiry  int64  `yaml:"token_expiry,omitempty" mapstructure:"token_expiry"` // Unix timestamp
	UserID       string `yaml:"user_id,omitempty" mapstructure:"user_id"`
	UserEmail    string `yaml:"user_email,omitempty" mapstructure:"user_email"`

	// Seconds of inactivity before the chat screen signs the user out.
	InactivityTimeout int `yaml:"inactivity_timeout" mapstructure:"inactivity_timeout"`
}

// DefaultInactivityTimeout mirrors the web client's five minute default.
const DefaultInactivityTimeout = 300

var (
	configPath string
	configDir  string
)

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
	configDir = filepath.Join(home, ".smartparent")
	configPath = filepath.Join(configDir, "config.yaml")
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() string {
	return configPath
}

// GetConfigDir returns the config directory.
func GetConfigDir() string {
	return configDir
}

// SessionPath returns the path of the session scratch file. It lives next to
// the config and is wiped on sign-out.
func SessionPath() string {
	return filepath.Join(configDir, "session.json")
}

// Load loads the configuration from file, creating a default one on first run.
func Load() (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := defaults()
		if err := Save(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fillDefaults(&cfg)
	return &cfg, nil
}

// Save saves the configuration to file with secure permissions.
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ClearCredentials drops the stored tokens and account identity, keeping the
// endpoint configuration.
func (c *Config) ClearCredentials() {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.TokenExpiry = 0
	c.UserID = ""
	c.UserEmail = ""
}

func defaults() *Config {
	return &Config{
		APIBaseURL:          DefaultAPIBaseURL,
		TriageBaseURL:       DefaultTriageBaseURL,
		PsychologistBaseURL: DefaultPsychologistBaseURL,
		HistoryBaseURL:      DefaultHistoryBaseURL,
		InactivityTimeout:   DefaultInactivityTimeout,
	}
}

func fillDefaults(cfg *Config) {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.TriageBaseURL == "" {
		cfg.TriageBaseURL = DefaultTriageBaseURL
	}
	if cfg.PsychologistBaseURL == "" {
		cfg.PsychologistBaseURL = DefaultPsychologistBaseURL
	}
	if cfg.HistoryBaseURL == "" {
		cfg.HistoryBaseURL = DefaultHistoryBaseURL
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
}
