package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives the base names of files that changed during one debounce window,
// sorted and deduplicated.
type Handler func(ctx context.Context, changed []string)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the directory must stay quiet before Handler runs.
	Debounce time.Duration
	// Include filters base names; nil accepts every non-hidden file.
	Include func(name string) bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher reports changes to the files of one or more flat directories.
type Watcher struct {
	dirs     []string
	handler  Handler
	debounce time.Duration
	include  func(string) bool
	logger   *slog.Logger
}

// New constructs a Watcher over dirs. Subdirectories are not watched.
func New(handler Handler, opts Options, dirs ...string) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("watch handler is required")
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one directory is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		dirs:     dedupeDirs(dirs),
		handler:  handler,
		debounce: opts.Debounce,
		include:  opts.Include,
		logger:   opts.Logger,
	}, nil
}

// Run watches until ctx is cancelled. Handler calls are serialized on the Run goroutine,
// so events arriving while it runs are batched into the next call.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.logger.Info("watching for dataset changes", slog.Any("dirs", w.dirs), slog.Duration("debounce", w.debounce))

	pending := make(map[string]struct{})
	var timerC <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !w.accepts(name) || event.Op == fsnotify.Chmod {
				continue
			}
			pending[name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		case <-timerC:
			timerC = nil
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			clear(pending)
			sort.Strings(changed)
			w.logger.Debug("dataset changes settled", slog.Any("files", changed))
			w.handler(ctx, changed)
		}
	}
}

func (w *Watcher) accepts(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return false
	}
	if w.include == nil {
		return true
	}
	return w.include(name)
}

func dedupeDirs(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		clean := filepath.Clean(d)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}
