package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/corrscan/internal/metrics"
	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// Store registers datasets and memoizes their normalized series.
type Store struct {
	source Source
	logger *slog.Logger

	mu          sync.RWMutex
	entries     map[string]*entry
	generations uint64
	group       singleflight.Group
	loads       atomic.Int64
}

type entry struct {
	mapping    models.ColumnMapping
	generation uint64
	series     *models.Series
}

// NewStore constructs a Store reading datasets from source.
func NewStore(source Source, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source:  source,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register records a dataset and its column mapping. Registering the same mapping twice
// is a no-op; a different mapping for a known name is a configuration error.
func (s *Store) Register(name, dateColumn, valueColumn string) error {
	mapping, err := validateMapping(name, dateColumn, valueColumn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[name]; ok {
		if existing.mapping == mapping {
			return nil
		}
		return utils.ConfigError("dataset.Register",
			fmt.Sprintf("%s already registered as [%s, %s]; use Reregister to change it",
				name, existing.mapping.DateColumn, existing.mapping.ValueColumn), nil)
	}
	s.entries[name] = &entry{mapping: mapping, generation: s.nextGeneration()}
	return nil
}

// Reregister replaces a dataset's column mapping, discarding any memoized series.
func (s *Store) Reregister(name, dateColumn, valueColumn string) error {
	mapping, err := validateMapping(name, dateColumn, valueColumn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[name]; ok && existing.mapping != mapping {
		s.logger.Info("dataset mapping changed", slog.String("dataset", name),
			slog.String("date_column", dateColumn), slog.String("value_column", valueColumn))
	}
	s.entries[name] = &entry{mapping: mapping, generation: s.nextGeneration()}
	return nil
}

// Invalidate drops the memoized series for name so the next GetSeries re-reads the source.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[name]; ok {
		s.entries[name] = &entry{mapping: existing.mapping, generation: s.nextGeneration()}
	}
}

// nextGeneration must be called with mu held.
func (s *Store) nextGeneration() uint64 {
	s.generations++
	return s.generations
}

// Prune unregisters every dataset not listed in keep and returns the removed names.
func (s *Store) Prune(keep []string) []string {
	wanted := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		wanted[name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for name := range s.entries {
		if _, ok := wanted[name]; !ok {
			delete(s.entries, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Sync makes the registry match names and mappings: every name must have a mapping,
// changed mappings are re-registered, and datasets absent from names are pruned.
// Validation happens before any change is applied.
func (s *Store) Sync(names []string, mappings map[string]models.ColumnMapping) error {
	var missing []string
	for _, name := range names {
		if _, ok := mappings[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return utils.ConfigError("dataset.Sync", fmt.Sprintf("no column mapping for %v", missing), nil)
	}
	for _, name := range names {
		m := mappings[name]
		if _, err := validateMapping(name, m.DateColumn, m.ValueColumn); err != nil {
			return err
		}
	}

	for _, name := range names {
		m := mappings[name]
		current, ok := s.Mapping(name)
		switch {
		case !ok:
			if err := s.Register(name, m.DateColumn, m.ValueColumn); err != nil {
				return err
			}
		case current != m:
			if err := s.Reregister(name, m.DateColumn, m.ValueColumn); err != nil {
				return err
			}
		}
	}
	if removed := s.Prune(names); len(removed) > 0 {
		s.logger.Info("datasets unregistered", slog.Any("datasets", removed))
	}
	return nil
}

// Names returns the registered dataset names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mapping returns the registered column mapping for name.
func (s *Store) Mapping(name string) (models.ColumnMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return models.ColumnMapping{}, false
	}
	return e.mapping, true
}

// Registered reports whether name is known to the store.
func (s *Store) Registered(name string) bool {
	_, ok := s.Mapping(name)
	return ok
}

// Loads returns how many times a source has been read.
func (s *Store) Loads() int {
	return int(s.loads.Load())
}

// GetSeries returns the normalized series for name, loading it on first use.
// Concurrent first calls share a single load. Failed loads are not memoized.
func (s *Store) GetSeries(name string) (*models.Series, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	var (
		mapping    models.ColumnMapping
		generation uint64
		cached     *models.Series
	)
	if ok {
		mapping, generation, cached = e.mapping, e.generation, e.series
	}
	s.mu.RUnlock()

	if !ok {
		return nil, utils.ConfigError("dataset.GetSeries", fmt.Sprintf("dataset %s is not registered", name), nil)
	}
	if cached != nil {
		return cached, nil
	}

	key := fmt.Sprintf("%s#%d", name, generation)
	v, err, _ := s.group.Do(key, func() (any, error) {
		// Double-check inside singleflight
		s.mu.RLock()
		if current, ok := s.entries[name]; ok && current.generation == generation && current.series != nil {
			s.mu.RUnlock()
			return current.series, nil
		}
		s.mu.RUnlock()

		series, err := s.load(name, mapping)
		if err != nil {
			metrics.ObserveSeriesLoad(metrics.OutcomeError)
			s.logger.Warn("dataset load failed", slog.String("dataset", name), slog.Any("error", err))
			return nil, err
		}
		metrics.ObserveSeriesLoad(metrics.OutcomeSuccess)

		s.mu.Lock()
		if current, ok := s.entries[name]; ok && current.generation == generation {
			current.series = series
		}
		s.mu.Unlock()

		s.logger.Debug("dataset loaded",
			slog.String("dataset", name),
			slog.Int("points", series.Len()),
			slog.Int("dropped_rows", series.DroppedRows),
			slog.String("fingerprint", series.Fingerprint[:12]))
		return series, nil
	})
	if err != nil {
		return nil, err
	}

	series, ok := v.(*models.Series)
	if !ok {
		return nil, fmt.Errorf("unexpected type from singleflight group: got %T", v)
	}
	return series, nil
}

func (s *Store) load(name string, mapping models.ColumnMapping) (*models.Series, error) {
	format, ok := FormatOf(name)
	if !ok {
		return nil, utils.LoadError("dataset.load", fmt.Sprintf("%s: unsupported file format", name), nil)
	}
	decoder, ok := DecoderFor(format)
	if !ok {
		return nil, utils.LoadError("dataset.load", fmt.Sprintf("%s: no decoder for %s", name, format), nil)
	}
	if s.source == nil {
		return nil, utils.LoadError("dataset.load", "no source configured", nil)
	}

	s.loads.Add(1)
	raw, err := s.source.ReadSource(name)
	if err != nil {
		return nil, utils.LoadError("dataset.load", fmt.Sprintf("%s: read source", name), err)
	}

	table, err := decoder.Decode(raw)
	if err != nil {
		return nil, utils.LoadError("dataset.load", fmt.Sprintf("%s: decode %s", name, format), err)
	}

	series, err := Normalize(name, format, mapping, table)
	if err != nil {
		return nil, err
	}
	series.SourceDigest = SourceDigest(raw)
	return series, nil
}

func validateMapping(name, dateColumn, valueColumn string) (models.ColumnMapping, error) {
	var problems []error
	if name == "" {
		problems = append(problems, errors.New("name is empty"))
	}
	if dateColumn == "" {
		problems = append(problems, errors.New("date column is empty"))
	}
	if valueColumn == "" {
		problems = append(problems, errors.New("value column is empty"))
	}
	if len(problems) > 0 {
		return models.ColumnMapping{}, utils.ConfigError("dataset.Register", fmt.Sprintf("invalid mapping for %q", name), errors.Join(problems...))
	}
	return models.ColumnMapping{DateColumn: dateColumn, ValueColumn: valueColumn}, nil
}
