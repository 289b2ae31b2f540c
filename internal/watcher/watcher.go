// Package watcher reports which chats changed in an on-disk store, so derived
// outputs can be rebuilt after fetches or edits made by another process.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 2 * time.Second
	recordExt       = ".yaml"
)

// Watcher watches a store directory laid out as <chat>/<stage>/<key>.yaml and
// calls onChange once per chat after its records stop changing for the debounce
// interval.
type Watcher struct {
	root     string
	onChange func(chat string)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	pending  map[string]*time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger // optional
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a chat must stay quiet before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher returns a watcher for the store rooted at root.
func NewWatcher(root string, onChange func(chat string), opts ...Option) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		onChange: onChange,
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It returns once every existing directory is watched and
// keeps running until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addTree(fw, w.root); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher started", zap.String("root", w.root), zap.Duration("debounce", w.debounce))
	}
	go w.run(ctx, fw)
	return nil
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New chat or stage directory: records may already be inside.
			if err := addTree(fw, ev.Name); err != nil && w.logger != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", ev.Name), zap.Error(err))
			}
			if chat := ChatOf(w.root, ev.Name); chat != "" {
				w.schedule(chat)
			}
			return
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if filepath.Ext(ev.Name) != recordExt {
		return
	}
	if chat := ChatOf(w.root, ev.Name); chat != "" {
		if w.logger != nil {
			w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
		}
		w.schedule(chat)
	}
}

// ChatOf returns the chat slug a path under root belongs to, or "" when path is
// root itself or outside it.
func ChatOf(root, path string) string {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	chat, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return chat
}

func (w *Watcher) schedule(chat string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[chat]; ok {
		t.Stop()
	}
	w.pending[chat] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, chat)
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.Debug("chat changed", zap.String("chat", chat))
		}
		if w.onChange != nil {
			w.onChange(chat)
		}
	})
}

// Stop stops watching and drops pending notifications.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for chat, t := range w.pending {
		t.Stop()
		delete(w.pending, chat)
	}
	_ = w.watcher.Close()
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
