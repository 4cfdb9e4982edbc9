// Package watcher triggers index rebuilds when the guidance corpus changes.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last change before a rebuild.
const DefaultDebounce = 2 * time.Second

var defaultExtensions = []string{".md", ".markdown", ".txt"}

// Watcher collapses bursts of corpus changes into single rebuild triggers.
type Watcher struct {
	fs         *fsnotify.Watcher
	root       string
	debounce   time.Duration
	extensions []string
	trigger    func()
	logger     *zap.Logger
}

// New watches root and its subdirectories. trigger is called from the Run
// goroutine once changes settle.
func New(root string, debounce time.Duration, trigger func(), logger *zap.Logger) (*Watcher, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}

	w := &Watcher{
		fs:         fw,
		root:       root,
		debounce:   debounce,
		extensions: defaultExtensions,
		trigger:    trigger,
		logger:     logger.With(zap.String("component", "watcher"), zap.String("root", root)),
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers triggers until ctx is done and then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.logger.Info("watching corpus for changes", zap.Duration("debounce", w.debounce))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("corpus changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fs watcher error", zap.Error(err))
		case <-timer.C:
			w.logger.Info("corpus changes settled, triggering rebuild")
			w.trigger()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("new directory not watched", zap.String("path", event.Name), zap.Error(err))
			}
			return true
		}
	}

	// Removed directories have no extension and still affect the corpus.
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == "" && event.Has(fsnotify.Remove|fsnotify.Rename) || slices.Contains(w.extensions, ext)
}
