package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the respec configuration
type Config struct {
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
	MaxChunks   int               `json:"maxChunks,omitempty" yaml:"maxChunks,omitempty"`
	BaseURL     string            `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // Default headers for all requests
	ValidateSSL *bool             `json:"validateSSL,omitempty" yaml:"validateSSL,omitempty"`
	Verbose     *bool             `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	NoColor     *bool             `json:"noColor,omitempty" yaml:"noColor,omitempty"`
	LogLevel    string            `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFormat   string            `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
	MockPort    int               `json:"mockPort,omitempty" yaml:"mockPort,omitempty"`
	SSEInterval int               `json:"sseInterval,omitempty" yaml:"sseInterval,omitempty"` // milliseconds
	MetricsFile string            `json:"metricsFile,omitempty" yaml:"metricsFile,omitempty"`
	HistoryFile string            `json:"historyFile,omitempty" yaml:"historyFile,omitempty"` // SQLite run history
}

// BoolPtr returns a pointer to b, for the tri-state flags.
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetValidateSSL returns the validate SSL setting, defaulting to true
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// TimeoutDuration returns Timeout as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// SSEIntervalDuration returns SSEInterval as a duration.
func (c *Config) SSEIntervalDuration() time.Duration {
	return time.Duration(c.SSEInterval) * time.Millisecond
}

// ConfigFilenames contains the possible config file names, in search order.
var ConfigFilenames = []string{
	".respec.yml",
	".respec.yaml",
	".respec.json",
	"respec.config.json",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}

	// Search for config file in current directory
	return FindAndLoadConfig(".")
}

// FindConfig returns the first config file present in dir, or "".
func FindConfig(dir string) string {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}
	return ""
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	if path := FindConfig(dir); path != "" {
		return loadConfigFromFile(path)
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

// loadConfigFromFile loads configuration from a specific file. The format
// follows the extension: .yml and .yaml are YAML, anything else JSON.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return config, config.Validate()
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.Timeout)
	}
	if c.MaxChunks < 0 {
		return fmt.Errorf("maxChunks must not be negative, got %d", c.MaxChunks)
	}
	if c.MockPort < 0 || c.MockPort > 65535 {
		return fmt.Errorf("mockPort out of range: %d", c.MockPort)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logFormat %q (use text or json)", c.LogFormat)
	}
	return nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.MaxChunks > 0 {
		result.MaxChunks = other.MaxChunks
	}
	if other.BaseURL != "" {
		result.BaseURL = other.BaseURL
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		result.LogFormat = other.LogFormat
	}
	if other.MockPort > 0 {
		result.MockPort = other.MockPort
	}
	if other.SSEInterval > 0 {
		result.SSEInterval = other.SSEInterval
	}
	if other.MetricsFile != "" {
		result.MetricsFile = other.MetricsFile
	}
	if other.HistoryFile != "" {
		result.HistoryFile = other.HistoryFile
	}

	// Boolean flags - only override if explicitly set in other config
	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	// Merge headers
	if len(other.Headers) > 0 {
		headers := make(map[string]string, len(result.Headers)+len(other.Headers))
		for k, v := range result.Headers {
			headers[k] = v
		}
		for k, v := range other.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}

	return &result
}

// SaveConfig saves the configuration to a file, as YAML or JSON by extension.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
