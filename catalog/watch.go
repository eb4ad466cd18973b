package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/onnwee/overlay-bot/source"
)

// Reloader is anything backed by a document that can be re-read on change.
// Catalogs and cooldown phrase pools both qualify.
type Reloader interface {
	URI() string
	Reload(ctx context.Context) error
}

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads file-backed documents when they change on disk. Remote and
// in-memory sources are ignored.
type Watcher struct {
	debounce time.Duration
	targets  map[string][]Reloader // absolute path -> reloaders

	// OnReload, if set, is called after every reload attempt.
	OnReload func(path string, err error)
}

// NewWatcher returns a watcher over the local sources among rs.
func NewWatcher(rs ...Reloader) *Watcher {
	w := &Watcher{debounce: defaultDebounce, targets: make(map[string][]Reloader)}
	for _, r := range rs {
		uri := r.URI()
		if uri == "" || source.IsRemote(uri) {
			continue
		}
		abs, err := filepath.Abs(uri)
		if err != nil {
			abs = filepath.Clean(uri)
		}
		w.targets[abs] = append(w.targets[abs], r)
	}
	return w
}

// Len returns the number of distinct files being watched.
func (w *Watcher) Len() int { return len(w.targets) }

// Run blocks until ctx is cancelled. Directories are watched rather than files
// so editors that replace files on save keep triggering events.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.targets) == 0 {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck

	dirs := make(map[string]struct{})
	for p := range w.targets {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	log := slog.Default().With(slog.String("component", "catalog_watch"))
	log.Info("watching catalog files", slog.Int("files", len(w.targets)))

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Stop()
		}
		timers[path] = time.AfterFunc(w.debounce, func() { w.reload(ctx, log, path) })
	}
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := w.targets[abs]; ok {
				log.Debug("catalog change detected", slog.String("path", abs))
				schedule(abs)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", slog.Any("err", err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context, log *slog.Logger, path string) {
	if ctx.Err() != nil {
		return
	}
	var firstErr error
	for _, r := range w.targets[path] {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := r.Reload(rctx)
		cancel()
		if err != nil {
			log.Warn("reload failed; keeping previous entries", slog.String("path", path), slog.Any("err", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if w.OnReload != nil {
		w.OnReload(path, firstErr)
	}
}
