package buddy

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	semver "github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
)

// Config carries the allocator's tunable knobs. None of its fields
// change the algorithm's outcome; they govern CAS-retry scheduler
// friendliness and backend ABI compatibility.
type Config struct {
	// MaxCASSpins is the number of busy CAS attempts a retry loop makes
	// before calling runtime.Gosched(). Zero is treated as one: with
	// YieldOnContention set, every retry yields.
	MaxCASSpins int `json:"max_cas_spins"`

	// YieldOnContention enables the Gosched() call above.
	YieldOnContention bool `json:"yield_on_contention"`

	// BackendMinVersion is a semver constraint a Backend.Version() must
	// satisfy at Construct time, e.g. ">=1.0.0, <2.0.0".
	BackendMinVersion string `json:"backend_min_version"`
}

// DefaultConfig returns the configuration Construct uses when the
// caller passes a nil *Config.
func DefaultConfig() *Config {
	return &Config{
		MaxCASSpins:       64,
		YieldOnContention: true,
		BackendMinVersion: ">=1.0.0, <2.0.0",
	}
}

// LoadConfig reads and parses a JSON config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("buddy: read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("buddy: parse config %s: %w", path, err)
	}

	return cfg, nil
}

// checkBackendVersion validates a Backend's reported version against
// cfg.BackendMinVersion. An empty constraint always passes.
func checkBackendVersion(cfg *Config, backendVersion string) error {
	if cfg.BackendMinVersion == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(cfg.BackendMinVersion)
	if err != nil {
		return fmt.Errorf("buddy: backend_min_version %q: %w", cfg.BackendMinVersion, err)
	}

	v, err := semver.NewVersion(backendVersion)
	if err != nil {
		return fmt.Errorf("buddy: backend version %q: %w", backendVersion, err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("buddy: backend version %s does not satisfy %s", backendVersion, cfg.BackendMinVersion)
	}

	return nil
}

// ConfigWatcher hot-reloads a Config from disk whenever the underlying
// file changes, publishing the new value through an atomic pointer
// that Config reads. An Allocator copies its CAS-spin policy once in
// Construct and does not read a ConfigWatcher afterwards.
type ConfigWatcher struct {
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	path    string
	logger  *log.Logger
	done    chan struct{}
}

// WatchConfig loads path once and then watches its containing
// directory for rewrites, reloading on every Write/Create event that
// targets path. The returned watcher must be closed by the caller.
func WatchConfig(path string, logger *log.Logger) (*ConfigWatcher, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("buddy: config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("buddy: watch %s: %w", dir, err)
	}

	if logger == nil {
		logger = log.New(os.Stderr, "buddy: ", log.LstdFlags)
	}

	cw := &ConfigWatcher{
		watcher: w,
		path:    filepath.Clean(path),
		logger:  logger,
		done:    make(chan struct{}),
	}
	cw.current.Store(cfg)

	go cw.loop()

	return cw, nil
}

func (cw *ConfigWatcher) loop() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				cw.logger.Printf("config reload failed: %v", err)
				continue
			}
			cw.current.Store(cfg)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Printf("config watch error: %v", err)
		case <-cw.done:
			return
		}
	}
}

// Config returns the most recently loaded configuration.
func (cw *ConfigWatcher) Config() *Config {
	return cw.current.Load()
}

// Close stops watching and releases the underlying fsnotify handle.
func (cw *ConfigWatcher) Close() error {
	close(cw.done)
	return cw.watcher.Close()
}
