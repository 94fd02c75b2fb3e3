package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Provider defines the byte-level key/value operations the result cache needs.
// Implementations must make Set and SetNX atomic per key.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// Backend names a Provider implementation.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
	BackendNone   Backend = "none"
)

// Options selects and configures a Provider.
type Options struct {
	Backend Backend
	Dir     string
	Logger  *slog.Logger
}

// Open builds the Provider named by opts.Backend. An empty backend means fs.
func Open(opts Options) (Provider, error) {
	switch opts.Backend {
	case BackendFS, "":
		return NewFileProvider(opts.Dir)
	case BackendBadger:
		cfg := DefaultBadgerConfig()
		cfg.Path = opts.Dir
		cfg.Logger = opts.Logger
		return OpenBadger(cfg)
	case BackendMemory:
		return NewMemoryProvider(), nil
	case BackendNone:
		return NoopProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends to store the value and reports success.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
