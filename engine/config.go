package engine

import (
	"fmt"
	"io/ioutil"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/scaupdb/scaup/kv"
)

// OpenOptions are the options recognized at open, spec.md §6, plus the
// ambient additions SPEC_FULL.md §4.J documents (config file loading and
// hot-reload, logging, metrics registerer).
type OpenOptions struct {
	// Name identifies this database for the registry and the change
	// broadcaster.
	Name string
	// Driver selects the backend; Path is the driver-specific location
	// (a file path for bbolt, an arbitrary string for memory).
	Driver kv.Driver
	Path   string
	// Registry is the process-wide handle cache to open through.
	// Defaults to kv.DefaultRegistry.
	Registry *kv.Registry
	// CreateIfMissing mirrors spec.md's option of the same name.
	// Defaults to true.
	CreateIfMissing *bool
	// NoMigrate is accepted for interface compatibility; this engine
	// never migrates pre-existing databases regardless (spec.md §1
	// Out of scope), so the flag has no effect.
	NoMigrate bool
	// AutoCompaction enables the inline auto-compaction step of
	// bulk_write (spec.md §4.D stage 6).
	AutoCompaction bool
	// ConfigFile, if set, is a YAML file loaded over these options
	// before Open proceeds (component M). Fields present in the file
	// override the corresponding struct field.
	ConfigFile string
	// WatchConfig, combined with ConfigFile, reloads AutoCompaction
	// from the file on every write to it, without requiring a
	// restart.
	WatchConfig bool
	// Logger is the zap logger threaded through every operation.
	// Defaults to zap.NewNop().
	Logger *zap.Logger
	// Registerer receives this database's Prometheus metrics.
	// A nil Registerer disables metrics registration (the metrics
	// objects still exist and are updated, just not exported).
	Registerer prometheus.Registerer
}

// fileConfig is the subset of OpenOptions that may be supplied or
// overridden via YAML, component M.
type fileConfig struct {
	AutoCompaction *bool `yaml:"auto_compaction"`
}

func (o *OpenOptions) applyConfigFile() error {
	if o.ConfigFile == "" {
		return nil
	}

	data, err := ioutil.ReadFile(o.ConfigFile)
	if err != nil {
		return fmt.Errorf("scaup: read config file %q: %w", o.ConfigFile, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("scaup: parse config file %q: %w", o.ConfigFile, err)
	}

	if cfg.AutoCompaction != nil {
		o.AutoCompaction = *cfg.AutoCompaction
	}

	return nil
}

// configWatcher hot-reloads AutoCompaction from OpenOptions.ConfigFile
// whenever the file changes, per SPEC_FULL.md §4.J. It is purely an
// operational convenience: no spec.md invariant depends on it, and a
// watcher that fails to start does not fail Open.
type configWatcher struct {
	watcher *fsnotify.Watcher
	db      *DB
	done    chan struct{}
}

func startConfigWatcher(db *DB, path string) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		w.Close()

		return nil, err
	}

	cw := &configWatcher{watcher: w, db: db, done: make(chan struct{})}
	go cw.run(path)

	return cw, nil
}

func (cw *configWatcher) run(path string) {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			data, err := ioutil.ReadFile(path)
			if err != nil {
				cw.db.logger.Warn("config reload: read failed", zap.Error(err))

				continue
			}

			var cfg fileConfig
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				cw.db.logger.Warn("config reload: parse failed", zap.Error(err))

				continue
			}

			if cfg.AutoCompaction != nil {
				old := atomic.SwapInt32(&cw.db.autoCompaction, boolToInt32(*cfg.AutoCompaction))
				cw.db.logger.Info("config reload: auto_compaction updated",
					zap.Bool("was", old == 1), zap.Bool("now", *cfg.AutoCompaction))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}

			cw.db.logger.Warn("config watcher error", zap.Error(err))
		case <-cw.done:
			return
		}
	}
}

func (cw *configWatcher) Close() error {
	close(cw.done)

	return cw.watcher.Close()
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}

	return 0
}
