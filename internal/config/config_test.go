package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CORRSCAN_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultParameters(), cfg.Parameters())
	assert.Equal(t, "fs", cfg.Cache.Backend)
	assert.Equal(t, ":50051", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data:
  dir: /srv/datasets
  columnMap: /srv/column_map.json
analysis:
  windowSize: 14
  threshold: 0.8
cache:
  backend: badger
  dir: /var/cache/corrscan
  ttl: 24h
`), 0o600))
	t.Setenv("CORRSCAN_THRESHOLD", "0.9")
	t.Setenv("CORRSCAN_WORKERS", "3")
	t.Setenv("CORRSCAN_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/datasets", cfg.Data.Dir)
	assert.Equal(t, 14, cfg.Analysis.WindowSize)
	assert.Equal(t, 0.9, cfg.Analysis.Threshold)
	assert.Equal(t, 3, cfg.Analysis.Workers)
	assert.Equal(t, "badger", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"window":    "analysis:\n  windowSize: 0\n",
		"threshold": "analysis:\n  threshold: 1.5\n",
		"backend":   "cache:\n  backend: redis\n",
		"cache dir": "cache:\n  backend: fs\n  dir: \"\"\n",
		"yaml":      "analysis: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "corrscan.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			require.ErrorIs(t, err, utils.ErrConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, utils.ErrConfig)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemoryBackendNeedsNoDir(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = "memory"
	cfg.Cache.Dir = ""
	require.NoError(t, cfg.Validate())
}

func TestParseColumnMap(t *testing.T) {
	mappings, err := ParseColumnMap([]byte(`{
		"rainfall.csv": ["date", "mm"],
		"sales.parquet": {"dateColumn": "day", "valueColumn": "units"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, models.ColumnMapping{DateColumn: "date", ValueColumn: "mm"}, mappings["rainfall.csv"])
	assert.Equal(t, models.ColumnMapping{DateColumn: "day", ValueColumn: "units"}, mappings["sales.parquet"])
}

func TestParseColumnMapMalformed(t *testing.T) {
	cases := []string{
		`["date", "value"]`,
		`{"a.csv": ["date"]}`,
		`{"a.csv": ["date", "value", "extra"]}`,
		`{"a.csv": [1, 2]}`,
		`{"a.csv": "date,value"}`,
		`{"a.csv": ["", "value"]}`,
		`not json`,
	}
	for _, body := range cases {
		_, err := ParseColumnMap([]byte(body))
		assert.ErrorIs(t, err, utils.ErrConfig, body)
	}
}

func TestLoadColumnMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "column_map.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a.csv": ["Date", "Close"]}`), 0o600))
	mappings, err := LoadColumnMap(path)
	require.NoError(t, err)
	assert.Len(t, mappings, 1)

	_, err = LoadColumnMap(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, utils.ErrConfig)
}
