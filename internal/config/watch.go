package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cryptotrader/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Runtime is the subset of the configuration that can change without a
// restart.
type Runtime struct {
	Version  int64
	LoadedAt time.Time
	LogLevel string
	Retry    RetryConfig
}

func runtimeOf(cfg *Config) Runtime {
	return Runtime{LogLevel: cfg.App.LogLevel, Retry: cfg.Retry}
}

// RuntimeListener is called after every successful reload.
type RuntimeListener func(Runtime)

// Watcher reloads the configuration file when it changes and pushes the
// runtime-tunable settings to listeners. A reload that fails to parse or
// validate keeps the previous settings.
type Watcher struct {
	path string

	mu        sync.RWMutex
	current   Runtime
	listeners []RuntimeListener
	stopped   bool
}

// Watch starts watching path. initial is the configuration already loaded
// from it.
func Watch(path string, initial *Config) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	if initial == nil {
		return nil, fmt.Errorf("config watcher requires the initial config")
	}
	w := newWatcher(path, initial)
	v := viper.New()
	v.SetConfigFile(path)
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("Config: reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return w, nil
}

func newWatcher(path string, initial *Config) *Watcher {
	rt := runtimeOf(initial)
	rt.Version = 1
	rt.LoadedAt = time.Now()
	return &Watcher{path: path, current: rt}
}

func (w *Watcher) Current() Runtime {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers fn. It does not receive the current settings.
func (w *Watcher) Subscribe(fn RuntimeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Stop detaches the listeners; later file changes are ignored.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.listeners = nil
	w.mu.Unlock()
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	next := runtimeOf(cfg)
	if next.LogLevel == w.current.LogLevel && next.Retry == w.current.Retry {
		w.mu.Unlock()
		return nil
	}
	next.Version = w.current.Version + 1
	next.LoadedAt = time.Now()
	w.current = next
	listeners := append([]RuntimeListener(nil), w.listeners...)
	w.mu.Unlock()

	logger.Infof("Config: reloaded %s (version %d, log_level=%s, retry.max_attempts=%d)",
		filepath.Base(w.path), next.Version, next.LogLevel, next.Retry.MaxAttempts)
	for _, fn := range listeners {
		func(cb RuntimeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Config: listener panic: %v", r)
				}
			}()
			cb(next)
		}(fn)
	}
	return nil
}
