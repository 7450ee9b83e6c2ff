package buddy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxCASSpins <= 0 {
		t.Fatal("DefaultConfig: MaxCASSpins must be positive")
	}
	if cfg.BackendMinVersion == "" {
		t.Fatal("DefaultConfig: BackendMinVersion must be set")
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buddy.json")

	written := &Config{MaxCASSpins: 128, YieldOnContention: false, BackendMinVersion: ">=1.0.0"}
	data, err := json.Marshal(written)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.MaxCASSpins != 128 || loaded.YieldOnContention != false {
		t.Fatalf("LoadConfig: got %+v", loaded)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error loading missing config file")
	}
}

func TestCheckBackendVersionRejectsIncompatible(t *testing.T) {
	cfg := &Config{BackendMinVersion: ">=2.0.0"}
	if err := checkBackendVersion(cfg, "1.0.0"); err == nil {
		t.Fatal("expected incompatible backend version to be rejected")
	}
}

func TestCheckBackendVersionAcceptsCompatible(t *testing.T) {
	cfg := &Config{BackendMinVersion: ">=1.0.0, <2.0.0"}
	if err := checkBackendVersion(cfg, "1.0.0"); err != nil {
		t.Fatalf("expected compatible backend version to pass, got %v", err)
	}
}

func TestCheckBackendVersionEmptyConstraintAlwaysPasses(t *testing.T) {
	cfg := &Config{BackendMinVersion: ""}
	if err := checkBackendVersion(cfg, "anything"); err != nil {
		t.Fatalf("empty constraint must always pass, got %v", err)
	}
}

func TestConfigWatcherHotReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buddy.json")

	initial := &Config{MaxCASSpins: 10, YieldOnContention: true, BackendMinVersion: ">=1.0.0"}
	data, err := json.Marshal(initial)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cw, err := WatchConfig(path, nil)
	if err != nil {
		t.Skip("fsnotify not supported on this platform: ", err)
	}
	defer cw.Close()

	if got := cw.Config().MaxCASSpins; got != 10 {
		t.Fatalf("initial load: MaxCASSpins = %d, want 10", got)
	}

	updated := &Config{MaxCASSpins: 99, YieldOnContention: true, BackendMinVersion: ">=1.0.0"}
	data, err = json.Marshal(updated)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		if cw.Config().MaxCASSpins == 99 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for config hot-reload to observe the rewritten file")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
