package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const fileHeaderSize = 8

// FileProvider stores one file per key under a directory, sharded by the first two
// characters of the file name. Each file starts with an 8-byte big-endian expiry in
// Unix nanoseconds (0 means no expiry) followed by the value.
//
// Writes go to a temp file in the shard directory which is fsynced and then renamed
// (Set) or hard-linked (SetNX) into place, so readers never observe a partial entry.
type FileProvider struct {
	dir string
	now func() time.Time
}

// NewFileProvider creates dir if needed and returns a provider rooted there.
func NewFileProvider(dir string) (*FileProvider, error) {
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &FileProvider{dir: dir, now: time.Now}, nil
}

// Dir returns the root directory.
func (p *FileProvider) Dir() string {
	return p.dir
}

// Get reads the entry for key. A file too short to hold the header is returned as an
// empty value so callers can treat it as corrupt.
func (p *FileProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	if len(raw) < fileHeaderSize {
		return []byte{}, nil
	}
	if p.expired(raw) {
		return nil, ErrCacheMiss
	}
	return raw[fileHeaderSize:], nil
}

// Set atomically replaces the entry for key.
func (p *FileProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := p.writeTemp(key, value, ttl)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, p.path(key)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// SetNX writes the entry only if no live entry exists. An expired entry is replaced.
func (p *FileProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tmp, err := p.writeTemp(key, value, ttl)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	target := p.path(key)
	for attempt := 0; attempt < 2; attempt++ {
		err = os.Link(tmp, target)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return false, fmt.Errorf("commit cache entry: %w", err)
		}
		raw, readErr := os.ReadFile(target)
		if readErr != nil || len(raw) < fileHeaderSize || !p.expired(raw) {
			return false, nil
		}
		if rmErr := os.Remove(target); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return false, fmt.Errorf("evict expired cache entry: %w", rmErr)
		}
	}
	return false, nil
}

// Del removes the entry for key. Missing entries are not an error.
func (p *FileProvider) Del(_ context.Context, key string) error {
	err := os.Remove(p.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Close is a no-op.
func (p *FileProvider) Close() error { return nil }

func (p *FileProvider) writeTemp(key string, value []byte, ttl time.Duration) (string, error) {
	shard := filepath.Dir(p.path(key))
	if err := os.MkdirAll(shard, 0o750); err != nil {
		return "", fmt.Errorf("create cache shard: %w", err)
	}
	f, err := os.CreateTemp(shard, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create cache temp file: %w", err)
	}

	var header [fileHeaderSize]byte
	if ttl > 0 {
		binary.BigEndian.PutUint64(header[:], uint64(p.now().Add(ttl).UnixNano()))
	}
	_, err = f.Write(header[:])
	if err == nil {
		_, err = f.Write(value)
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write cache temp file: %w", err)
	}
	return f.Name(), nil
}

func (p *FileProvider) expired(raw []byte) bool {
	expires := binary.BigEndian.Uint64(raw[:fileHeaderSize])
	return expires != 0 && p.now().UnixNano() > int64(expires)
}

// path maps a key to <dir>/<shard>/<name>.entry. Keys made only of [0-9A-Za-z_-] are
// used verbatim; anything else is hashed.
func (p *FileProvider) path(key string) string {
	name := key
	if !safeFileKey(key) {
		sum := sha256.Sum256([]byte(key))
		name = hex.EncodeToString(sum[:])
	}
	return filepath.Join(p.dir, name[:2], name+".entry")
}

func safeFileKey(key string) bool {
	if len(key) < 2 || len(key) > 128 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
