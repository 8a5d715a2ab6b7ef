package taxonomy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML config file into a Config. Collaborator and
// store overrides cannot be expressed in a file; wire those on the
// returned value before calling New.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = ":memory:"
	}
	if c.RootLabel == "" {
		c.RootLabel = "root"
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.RollbackBudget == 0 {
		c.RollbackBudget = 15 * time.Minute
	}
}
