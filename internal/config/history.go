package config

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	// Enabled persists runs to the history database.
	Enabled bool `yaml:"enabled"`
	// DatabasePath locates the SQLite file (relative to the workspace).
	DatabasePath string `yaml:"database_path"`
	// RetentionDays prunes runs older than this (0 = keep forever).
	RetentionDays int `yaml:"retention_days"`
}

// DefaultHistoryConfig returns defaults for the run history store.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:       true,
		DatabasePath:  ".harness/history.db",
		RetentionDays: 30,
	}
}
