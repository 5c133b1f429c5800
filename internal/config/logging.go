package config

// LoggingConfig configures categorized file logging.
// The logging package reads this section straight from harness.yaml to
// avoid a circular import, so the yaml tags here must stay in sync.
type LoggingConfig struct {
	Level      string          `yaml:"level"`       // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`  // Master toggle - false = no log files
	Categories map[string]bool `yaml:"categories"`  // Per-category toggles
	JSONFormat bool            `yaml:"json_format"` // Structured JSON lines instead of text
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false.
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}
