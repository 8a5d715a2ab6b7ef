package taxonomy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	content := `db_path: /var/lib/taxonomy/graph.db
root_label: topics
allow_multi_root: true
lock_timeout: 2s
rollback_budget: 10m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.DBPath != "/var/lib/taxonomy/graph.db" {
		t.Errorf("DBPath mismatch: %s", cfg.DBPath)
	}
	if cfg.RootLabel != "topics" || !cfg.AllowMultiRoot {
		t.Errorf("Field mismatch: %+v", cfg)
	}
	if cfg.LockTimeout != 2*time.Second || cfg.RollbackBudget != 10*time.Minute {
		t.Errorf("Duration mismatch: %v / %v", cfg.LockTimeout, cfg.RollbackBudget)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/taxonomy.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.DBPath != ":memory:" || cfg.RootLabel != "root" {
		t.Errorf("Default mismatch: %+v", cfg)
	}
	if cfg.LockTimeout != 5*time.Second || cfg.RollbackBudget != 15*time.Minute {
		t.Errorf("Default duration mismatch: %v / %v", cfg.LockTimeout, cfg.RollbackBudget)
	}
}
