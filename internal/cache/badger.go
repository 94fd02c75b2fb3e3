package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for a badger-backed provider.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
	// GCInterval is how often value log GC runs; 0 disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the minimum garbage ratio before a value log file is rewritten.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns durable defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerProvider implements Provider on an embedded badger database.
type BadgerProvider struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

// OpenBadger opens the database described by cfg and starts value log GC when configured.
func OpenBadger(cfg BadgerConfig) (*BadgerProvider, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &BadgerProvider{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		p.stopGC = make(chan struct{})
		p.gcDone = make(chan struct{})
		go p.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent or expired.
func (p *BadgerProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return value, nil
}

// Set stores bytes with the provided TTL.
func (p *BadgerProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

// SetNX stores the value only when the key is absent. A transaction conflict means a
// concurrent writer got there first and is reported as not stored.
func (p *BadgerProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	stored := false
	err := p.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(newEntry(key, value, ttl)); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger setnx: %w", err)
	}
	return stored, nil
}

// Del removes the key.
func (p *BadgerProvider) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (p *BadgerProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stopGC != nil {
			close(p.stopGC)
			<-p.gcDone
		}
		err = p.db.Close()
	})
	return err
}

func (p *BadgerProvider) runGC(interval time.Duration, ratio float64) {
	defer close(p.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			if err := p.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				p.logger.Warn("badger value log GC error", slog.Any("error", err))
			}
		}
	}
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}
