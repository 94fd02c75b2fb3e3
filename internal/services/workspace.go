package services

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miradorstack/corrscan/internal/config"
	"github.com/miradorstack/corrscan/internal/dataset"
	"github.com/miradorstack/corrscan/internal/utils"
)

// Workspace keeps a dataset store in step with an input directory and its column map.
type Workspace struct {
	dataDir   string
	columnMap string
	store     *dataset.Store
	logger    *slog.Logger

	mu     sync.Mutex
	stamps map[string]fileStamp
}

// fileStamp identifies one version of a dataset file.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// NewWorkspace binds store to dataDir and the column map file at columnMap.
func NewWorkspace(dataDir, columnMap string, store *dataset.Store, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		dataDir:   dataDir,
		columnMap: columnMap,
		store:     store,
		logger:    logger,
		stamps:    make(map[string]fileStamp),
	}
}

// Store returns the underlying dataset store.
func (w *Workspace) Store() *dataset.Store {
	return w.store
}

// Refresh rediscovers the input directory, reloads the column map, and syncs the store.
// Every discovered dataset must have a column mapping. Datasets whose file size or
// modification time changed since the previous Refresh are invalidated.
func (w *Workspace) Refresh(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	names, err := dataset.Discover(w.dataDir)
	if err != nil {
		return nil, utils.ConfigError("services.Refresh", "discover datasets in "+w.dataDir, err)
	}
	mappings, err := config.LoadColumnMap(w.columnMap)
	if err != nil {
		return nil, err
	}
	if err := w.store.Sync(names, mappings); err != nil {
		return nil, err
	}
	w.invalidateModified(names)
	w.logger.Debug("workspace refreshed", slog.Int("datasets", len(names)))
	return names, nil
}

func (w *Workspace) invalidateModified(names []string) {
	seen := make(map[string]fileStamp, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(w.dataDir, name))
		if err != nil {
			// Vanished between Discover and Stat; the next load reports it.
			w.store.Invalidate(name)
			continue
		}
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
		seen[name] = stamp
		if prev, ok := w.stamps[name]; ok && (prev.size != stamp.size || !prev.modTime.Equal(stamp.modTime)) {
			w.logger.Info("dataset modified", slog.String("dataset", name))
			w.store.Invalidate(name)
		}
	}
	w.stamps = seen
}

// Invalidate drops memoized series for changed files so the next run re-reads them.
func (w *Workspace) Invalidate(names []string) {
	for _, name := range names {
		w.store.Invalidate(name)
	}
}
