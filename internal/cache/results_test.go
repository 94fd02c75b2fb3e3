package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/corrscan/internal/models"
)

func testSeries(name, fingerprint string) *models.Series {
	return &models.Series{Name: name, Fingerprint: fingerprint}
}

func sampleFindings(pair models.DatasetPair, params models.AnalysisParameters) []models.Finding {
	start := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	return []models.Finding{
		{Pair: pair, WindowStart: start, WindowEnd: start.AddDate(0, 0, 29), StartIndex: 0, Coefficient: 0.9132471, Parameters: params},
		{Pair: pair, WindowStart: start.AddDate(0, 0, 1), WindowEnd: start.AddDate(0, 0, 30), StartIndex: 1, Coefficient: -0.7000001, Parameters: params},
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	pair := models.NewPair("a.csv", "b.csv")
	a, b := testSeries("a.csv", "fa"), testSeries("b.csv", "fb")
	params := models.DefaultParameters()
	base := Fingerprint(pair, a, b, params)

	assert.Equal(t, base, Fingerprint(pair, testSeries("a.csv", "fa"), testSeries("b.csv", "fb"), params), "key must be stable")
	assert.Len(t, base, 64)

	assert.NotEqual(t, base, Fingerprint(pair, testSeries("a.csv", "fa2"), b, params), "series content")
	assert.NotEqual(t, base, Fingerprint(pair, a, b, models.AnalysisParameters{WindowSize: 31, Threshold: 0.7}), "window size")
	assert.NotEqual(t, base, Fingerprint(pair, a, b, models.AnalysisParameters{WindowSize: 30, Threshold: 0.71}), "threshold")
	assert.NotEqual(t, base, Fingerprint(models.NewPair("a.csv", "c.csv"), a, b, params), "pair names")
	assert.NotEqual(t,
		Fingerprint(models.DatasetPair{A: "ab", B: "c"}, a, b, params),
		Fingerprint(models.DatasetPair{A: "a", B: "bc"}, a, b, params),
		"field boundaries")
}

func TestGetOrComputeHitSkipsCompute(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(NewMemoryProvider(), 0, nil)
	pair := models.NewPair("a.csv", "b.csv")
	a, b := testSeries("a.csv", "fa"), testSeries("b.csv", "fb")
	params := models.DefaultParameters()
	want := sampleFindings(pair, params)

	calls := 0
	compute := func() ([]models.Finding, error) {
		calls++
		return want, nil
	}

	first, hit, err := rc.GetOrCompute(ctx, pair, a, b, params, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, want, first)

	second, hit, err := rc.GetOrCompute(ctx, pair, a, b, params, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, want, second)
}

func TestGetOrComputeEmptyFindingsAreCached(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(NewMemoryProvider(), 0, nil)
	pair := models.NewPair("a.csv", "b.csv")
	a, b := testSeries("a.csv", "fa"), testSeries("b.csv", "fb")

	calls := 0
	compute := func() ([]models.Finding, error) {
		calls++
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		findings, _, err := rc.GetOrCompute(ctx, pair, a, b, models.DefaultParameters(), compute)
		require.NoError(t, err)
		assert.NotNil(t, findings)
		assert.Empty(t, findings)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeErrorNotStored(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryProvider()
	rc := NewResultCache(provider, 0, nil)
	pair := models.NewPair("a.csv", "b.csv")
	a, b := testSeries("a.csv", "fa"), testSeries("b.csv", "fb")

	boom := errors.New("boom")
	_, _, err := rc.GetOrCompute(ctx, pair, a, b, models.DefaultParameters(), func() ([]models.Finding, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, provider.Len())
}

func TestGetOrComputeRecoversFromCorruption(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryProvider()
	rc := NewResultCache(provider, 0, nil)
	pair := models.NewPair("a.csv", "b.csv")
	a, b := testSeries("a.csv", "fa"), testSeries("b.csv", "fb")
	params := models.DefaultParameters()
	key := Fingerprint(pair, a, b, params)
	want := sampleFindings(pair, params)

	cases := map[string][]byte{
		"truncated":     []byte(`{"version":"corrscan/result/v1","findings":[`),
		"wrong version": []byte(`{"version":"corrscan/result/v0","key":"` + key + `","findings":[]}`),
		"wrong key":     []byte(`{"version":"corrscan/result/v1","key":"other","findings":[]}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, provider.Set(ctx, key, payload, 0))

			calls := 0
			got, hit, err := rc.GetOrCompute(ctx, pair, a, b, params, func() ([]models.Finding, error) {
				calls++
				return want, nil
			})
			require.NoError(t, err)
			assert.False(t, hit)
			assert.Equal(t, 1, calls)
			assert.Equal(t, want, got)

			// The corrupt entry was overwritten.
			got, hit, err = rc.GetOrCompute(ctx, pair, a, b, params, func() ([]models.Finding, error) {
				t.Fatal("compute called after repair")
				return nil, nil
			})
			require.NoError(t, err)
			assert.True(t, hit)
			assert.Equal(t, want, got)
		})
	}
}

func TestGetOrComputeConcurrentMissesComputeOnce(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(NewMemoryProvider(), 0, nil)
	pair := models.NewPair("a.csv", "b.csv")
	a, b := testSeries("a.csv", "fa"), testSeries("b.csv", "fb")
	params := models.DefaultParameters()
	want := sampleFindings(pair, params)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() ([]models.Finding, error) {
		calls.Add(1)
		<-release
		return want, nil
	}

	var wg sync.WaitGroup
	results := make([][]models.Finding, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, _, err := rc.GetOrCompute(ctx, pair, a, b, params, compute)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

type failingProvider struct {
	NoopProvider
}

func (failingProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("disk full")
}

func TestGetOrComputePersistFailureIsNotFatal(t *testing.T) {
	rc := NewResultCache(failingProvider{}, 0, nil)
	pair := models.NewPair("a.csv", "b.csv")
	want := sampleFindings(pair, models.DefaultParameters())

	got, hit, err := rc.GetOrCompute(context.Background(), pair, testSeries("a.csv", "fa"), testSeries("b.csv", "fb"),
		models.DefaultParameters(), func() ([]models.Finding, error) { return want, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, want, got)
}

func TestResultCacheAcrossFileProviders(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pair := models.NewPair("a.csv", "b.csv")
	a, b := testSeries("a.csv", "fa"), testSeries("b.csv", "fb")
	params := models.DefaultParameters()
	want := sampleFindings(pair, params)

	first, err := NewFileProvider(dir)
	require.NoError(t, err)
	_, _, err = NewResultCache(first, 0, nil).GetOrCompute(ctx, pair, a, b, params, func() ([]models.Finding, error) {
		return want, nil
	})
	require.NoError(t, err)

	// A fresh provider on the same directory stands in for a second process.
	second, err := NewFileProvider(dir)
	require.NoError(t, err)
	got, hit, err := NewResultCache(second, 0, nil).GetOrCompute(ctx, pair, a, b, params, func() ([]models.Finding, error) {
		t.Fatal("compute called despite persisted entry")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)
}
