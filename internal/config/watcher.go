package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// MarketWatcher reloads a Markets table when its YAML file changes.
// It watches the parent directory so editor rename-and-replace saves are seen.
type MarketWatcher struct {
	path    string
	markets *Markets
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	onReload []func(*Markets)
	done     chan struct{}
}

// NewMarketWatcher prepares a watcher for path that updates markets in place.
func NewMarketWatcher(path string, markets *Markets, logger *zap.Logger) (*MarketWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return &MarketWatcher{path: abs, markets: markets, logger: logger, watcher: w, done: make(chan struct{})}, nil
}

// OnReload registers a callback run after every successful reload.
func (mw *MarketWatcher) OnReload(fn func(*Markets)) {
	mw.mu.Lock()
	mw.onReload = append(mw.onReload, fn)
	mw.mu.Unlock()
}

// Start begins watching until ctx is cancelled or Stop is called.
func (mw *MarketWatcher) Start(ctx context.Context) error {
	if err := mw.watcher.Add(filepath.Dir(mw.path)); err != nil {
		return fmt.Errorf("failed to watch markets directory: %w", err)
	}
	go mw.loop(ctx)
	mw.logger.Info("Markets watcher started", zap.String("path", mw.path))
	return nil
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (mw *MarketWatcher) Stop() error {
	err := mw.watcher.Close()
	<-mw.done
	return err
}

func (mw *MarketWatcher) loop(ctx context.Context) {
	defer close(mw.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != mw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mw.reload()
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.logger.Warn("Markets watcher error", zap.Error(err))
		}
	}
}

func (mw *MarketWatcher) reload() {
	next, err := LoadMarkets(mw.path)
	if err != nil {
		mw.logger.Warn("Keeping previous markets table after failed reload", zap.String("path", mw.path), zap.Error(err))
		return
	}
	mw.markets.Replace(next)
	mw.logger.Info("Markets table reloaded", zap.Strings("authorities", mw.markets.Codes()))

	mw.mu.Lock()
	handlers := append([]func(*Markets){}, mw.onReload...)
	mw.mu.Unlock()
	for _, fn := range handlers {
		fn(mw.markets)
	}
}
