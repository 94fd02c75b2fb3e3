package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/corrscan/internal/metrics"
	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// EntryVersion tags the cache entry layout and the key derivation. Bump it when either changes.
const EntryVersion = "corrscan/result/v1"

// Entry is the persisted form of one pair's findings.
type Entry struct {
	Version    string                    `json:"version"`
	Key        string                    `json:"key"`
	Pair       models.DatasetPair        `json:"pair"`
	Parameters models.AnalysisParameters `json:"parameters"`
	ComputedAt time.Time                 `json:"computedAt"`
	Findings   []models.Finding          `json:"findings"`
}

// ComputeFunc produces findings on a cache miss.
type ComputeFunc func() ([]models.Finding, error)

// ResultCache memoizes per-pair findings in a Provider keyed by content fingerprint.
type ResultCache struct {
	provider Provider
	ttl      time.Duration
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

type lookup struct {
	findings []models.Finding
	hit      bool
}

// NewResultCache wraps provider. A nil provider disables persistence.
func NewResultCache(provider Provider, ttl time.Duration, logger *slog.Logger) *ResultCache {
	if provider == nil {
		provider = NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{provider: provider, ttl: ttl, logger: logger, now: time.Now}
}

// Fingerprint derives the cache key for analysing pair with params. It depends only on
// the pair names, the normalized content of both series, and the parameters.
func Fingerprint(pair models.DatasetPair, a, b *models.Series, params models.AnalysisParameters) string {
	h := sha256.New()
	for _, field := range []string{
		EntryVersion,
		pair.A, a.Fingerprint,
		pair.B, b.Fingerprint,
		strconv.Itoa(params.WindowSize),
		strconv.FormatFloat(params.Threshold, 'g', -1, 64),
	} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrCompute returns the cached findings for the pair, or runs compute and stores its
// result. The boolean reports a cache hit. Compute errors are returned and never stored.
// Storage failures are logged and do not fail the call.
func (c *ResultCache) GetOrCompute(ctx context.Context, pair models.DatasetPair, a, b *models.Series, params models.AnalysisParameters, compute ComputeFunc) ([]models.Finding, bool, error) {
	key := Fingerprint(pair, a, b, params)

	v, err, _ := c.group.Do(key, func() (any, error) {
		corrupt := false
		raw, err := c.provider.Get(ctx, key)
		switch {
		case err == nil:
			findings, decodeErr := decodeEntry(raw, key)
			if decodeErr == nil {
				metrics.ObserveCacheLookup(metrics.CacheHit)
				return lookup{findings: findings, hit: true}, nil
			}
			corrupt = true
			metrics.ObserveCacheLookup(metrics.CacheCorrupt)
			c.logger.Warn("discarding corrupt cache entry",
				slog.String("pair", pair.String()),
				slog.String("key", key),
				slog.Any("error", decodeErr))
		case errors.Is(err, ErrCacheMiss):
			metrics.ObserveCacheLookup(metrics.CacheMiss)
		default:
			metrics.ObserveCacheLookup(metrics.CacheMiss)
			c.logger.Warn("cache lookup failed", slog.String("pair", pair.String()), slog.Any("error", err))
		}

		findings, err := compute()
		if err != nil {
			return nil, err
		}
		if findings == nil {
			findings = []models.Finding{}
		}
		c.store(ctx, key, pair, params, findings, corrupt)
		return lookup{findings: findings}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res, ok := v.(lookup)
	if !ok {
		return nil, false, fmt.Errorf("unexpected type from singleflight group: got %T", v)
	}
	return res.findings, res.hit, nil
}

// Invalidate removes the entry for the pair.
func (c *ResultCache) Invalidate(ctx context.Context, pair models.DatasetPair, a, b *models.Series, params models.AnalysisParameters) error {
	return c.provider.Del(ctx, Fingerprint(pair, a, b, params))
}

func (c *ResultCache) store(ctx context.Context, key string, pair models.DatasetPair, params models.AnalysisParameters, findings []models.Finding, overwrite bool) {
	payload, err := json.Marshal(Entry{
		Version:    EntryVersion,
		Key:        key,
		Pair:       pair,
		Parameters: params,
		ComputedAt: c.now().UTC(),
		Findings:   findings,
	})
	if err != nil {
		c.logger.Warn("encode cache entry", slog.String("pair", pair.String()), slog.Any("error", err))
		return
	}

	if overwrite {
		err = c.provider.Set(ctx, key, payload, c.ttl)
	} else {
		var stored bool
		stored, err = c.provider.SetNX(ctx, key, payload, c.ttl)
		if err == nil && !stored {
			c.logger.Debug("cache entry already present", slog.String("pair", pair.String()))
		}
	}
	if err != nil {
		c.logger.Warn("persist cache entry", slog.String("pair", pair.String()), slog.Any("error", err))
	}
}

func decodeEntry(raw []byte, key string) ([]models.Finding, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, utils.CacheCorruptionError("cache.decode", "undecodable entry", err)
	}
	if entry.Version != EntryVersion {
		return nil, utils.CacheCorruptionError("cache.decode",
			fmt.Sprintf("entry version %q, want %q", entry.Version, EntryVersion), nil)
	}
	if entry.Key != key {
		return nil, utils.CacheCorruptionError("cache.decode", "entry key mismatch", nil)
	}
	if entry.Findings == nil {
		entry.Findings = []models.Finding{}
	}
	return entry.Findings, nil
}
