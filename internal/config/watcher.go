package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes and hands the parsed
// result to OnReload. Rapid rewrites are debounced; files that fail to
// parse or validate are reported and the previous configuration stays
// in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*Config)
	onError  func(error)

	watcher  *fsnotify.Watcher
	running  atomic.Bool
	reloadCh chan struct{}

	mu    sync.Mutex
	stats WatcherStats
}

// WatcherStats tracks reload outcomes.
type WatcherStats struct {
	ReloadsTotal   int64     `json:"reloads_total"`
	ReloadsSuccess int64     `json:"reloads_success"`
	ReloadsFailed  int64     `json:"reloads_failed"`
	LastReload     time.Time `json:"last_reload,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// NewWatcher prepares a watcher for path. onError may be nil.
func NewWatcher(path string, debounce time.Duration, onReload func(*Config), onError func(error)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if onReload == nil {
		return nil, fmt.Errorf("reload callback is required")
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		onReload: onReload,
		onError:  onError,
		reloadCh: make(chan struct{}, 1),
	}, nil
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.watcher = fsw

	// Watch the directory: editors and config-management tools replace
	// the file rather than writing it in place.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		w.running.Store(false)
		return fmt.Errorf("watching config directory: %w", err)
	}

	go w.processEvents(ctx)
	go w.processReloads(ctx)
	return nil
}

// Stop ends watching. Safe to call once after Start.
func (w *Watcher) Stop() {
	if w.running.CompareAndSwap(true, false) && w.watcher != nil {
		w.watcher.Close()
	}
}

// Stats returns a copy of the reload counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.reloadCh <- struct{}{}:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) processReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.reloadCh:
			if !ok {
				return
			}
			// Absorb rewrite bursts before reading.
			timer := time.NewTimer(w.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)

	w.mu.Lock()
	w.stats.ReloadsTotal++
	w.stats.LastReload = time.Now().UTC()
	if err != nil {
		w.stats.ReloadsFailed++
		w.stats.LastError = err.Error()
	} else {
		w.stats.ReloadsSuccess++
		w.stats.LastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.onReload(cfg)
}
