package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/gitk-web/internal/debounce"
)

const DefaultDelay = 350 * time.Millisecond

// Watcher reports changes to a repository's git directory. Bursts of
// filesystem events are coalesced into one notification per delay.
type Watcher struct {
	mu       sync.Mutex
	root     string
	delay    time.Duration
	subs     []func()
	debounce *debounce.Debouncer
}

func New(repoPath string, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Watcher{root: repoPath, delay: delay}
}

// Subscribe registers fn to run after every debounced change. Subscribers
// run sequentially on the debouncer's goroutine.
func (w *Watcher) Subscribe(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	for path := range watchPaths(w.root) {
		slog.Debug("adding path to FS watcher", slog.String("path", path))
		if err := fw.Add(path); err != nil {
			err := errors.Join(err, fw.Close())
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	w.mu.Lock()
	d := debounce.Ensure(&w.debounce, w.delay, w.notify)
	w.mu.Unlock()
	defer func() {
		d.Stop()
		if err := fw.Close(); err != nil {
			slog.Error("watcher close", slog.Any("error", err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnoreWatchPath(ev.Name) {
				continue
			}
			slog.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := fw.Add(ev.Name); err != nil {
						slog.Warn("watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
					}
				}
			}
			d.Trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) notify() {
	w.mu.Lock()
	subs := append([]func(){}, w.subs...)
	w.mu.Unlock()
	slog.Debug("repository changed", slog.Int("subscribers", len(subs)))
	for _, fn := range subs {
		fn()
	}
}

// watchPaths yields the git directory and every directory below its refs,
// since fsnotify does not recurse. A root without a .git directory is
// treated as a bare repository.
func watchPaths(root string) iter.Seq[string] {
	if root == "" {
		return func(func(string) bool) {}
	}
	uniquePaths := map[string]struct{}{}
	gitDir := filepath.Join(root, ".git")
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		gitDir = root
	}
	uniquePaths[gitDir] = struct{}{}
	_ = filepath.WalkDir(filepath.Join(gitDir, "refs"), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			uniquePaths[p] = struct{}{}
		}
		return nil
	})
	return maps.Keys(uniquePaths)
}

func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}
