package config

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Timeout:     5000, // 5 seconds
		MaxChunks:   1,
		BaseURL:     "",
		Headers:     nil,
		ValidateSSL: BoolPtr(true),
		Verbose:     BoolPtr(false),
		NoColor:     BoolPtr(false),
		LogLevel:    "warn",
		LogFormat:   "text",
		MockPort:    3000,
		SSEInterval: 500,
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	defaults := DefaultConfig()
	return c.Timeout == defaults.Timeout &&
		c.MaxChunks == defaults.MaxChunks &&
		c.BaseURL == defaults.BaseURL &&
		len(c.Headers) == 0 &&
		c.GetValidateSSL() == defaults.GetValidateSSL() &&
		c.GetVerbose() == defaults.GetVerbose() &&
		c.GetNoColor() == defaults.GetNoColor() &&
		c.LogLevel == defaults.LogLevel &&
		c.LogFormat == defaults.LogFormat &&
		c.MockPort == defaults.MockPort &&
		c.SSEInterval == defaults.SSEInterval &&
		c.MetricsFile == defaults.MetricsFile &&
		c.HistoryFile == defaults.HistoryFile
}
