package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/xbzone/pkg/engine"
)

func TestDefaultAppConfig(t *testing.T) {
	cfg := DefaultAppConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	timeouts := cfg.LockTimeouts()
	if timeouts[engine.LockTimeoutVPlexBackendExport] != 10*time.Minute {
		t.Errorf("unexpected backend export timeout: %v", timeouts[engine.LockTimeoutVPlexBackendExport])
	}
}

func TestLoadAppConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xbzone.yaml")
	content := `
store:
  path: /var/lib/xbzone/state.db
locks:
  backend: memory
  timeouts:
    vplex_backend_export: 90s
placement:
  director_count: 4
workflow:
  max_parallel: 8
telemetry:
  logging:
    level: debug
    format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Store.Path != "/var/lib/xbzone/state.db" || cfg.Store.MaxOpenConns != 25 {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Locks.Backend != LockBackendMemory {
		t.Errorf("unexpected lock backend %s", cfg.Locks.Backend)
	}
	timeouts := cfg.LockTimeouts()
	if timeouts[engine.LockTimeoutVPlexBackendExport] != 90*time.Second {
		t.Errorf("expected 90s, got %v", timeouts[engine.LockTimeoutVPlexBackendExport])
	}
	if timeouts[engine.LockTimeoutDefault] != 5*time.Minute {
		t.Errorf("expected default timeout to survive, got %v", timeouts[engine.LockTimeoutDefault])
	}
	if cfg.Placement.DirectorCount != 4 || cfg.Workflow.MaxParallel != 8 {
		t.Errorf("unexpected placement/workflow config: %+v %+v", cfg.Placement, cfg.Workflow)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.ServiceName != "xbzone" {
		t.Errorf("unexpected telemetry config: %+v", cfg.Telemetry.Logging)
	}
}

func TestLoadAppConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad backend":  "locks:\n  backend: etcd\n",
		"bad parallel": "workflow:\n  max_parallel: 0\n",
		"bad yaml":     "store: [",
		"bad log":      "telemetry:\n  logging:\n    level: loud\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "xbzone.yaml")
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadAppConfig(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadAppConfig_Defaults(t *testing.T) {
	cfg, err := LoadAppConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Path != "xbzone.db" {
		t.Errorf("unexpected store path %s", cfg.Store.Path)
	}
}
