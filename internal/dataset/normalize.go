package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// seriesFingerprintVersion is bumped whenever normalization semantics change.
const seriesFingerprintVersion = "corrscan/series/v1"

type point struct {
	ts    time.Time
	value float64
}

// Normalize extracts the mapped columns from a table, drops unparseable rows,
// sorts by timestamp (stable, so ties keep row order), and keeps the first row per timestamp.
func Normalize(name string, format models.Format, mapping models.ColumnMapping, table *Table) (*models.Series, error) {
	dateIdx := table.ColumnIndex(mapping.DateColumn)
	valueIdx := table.ColumnIndex(mapping.ValueColumn)
	var missing []string
	if dateIdx < 0 {
		missing = append(missing, mapping.DateColumn)
	}
	if valueIdx < 0 {
		missing = append(missing, mapping.ValueColumn)
	}
	if len(missing) > 0 {
		return nil, utils.SchemaError("dataset.Normalize",
			fmt.Sprintf("%s: missing column(s) %s (available: %s)", name, strings.Join(missing, ", "), strings.Join(table.Columns, ", ")), nil)
	}

	points := make([]point, 0, len(table.Rows))
	dropped := 0
	for _, row := range table.Rows {
		ts, ok := cellTime(row[dateIdx])
		if !ok {
			dropped++
			continue
		}
		v, ok := cellFloat(row[valueIdx])
		if !ok {
			dropped++
			continue
		}
		points = append(points, point{ts: ts, value: v})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].ts.Before(points[j].ts)
	})

	series := &models.Series{
		Name:       name,
		Format:     format,
		Mapping:    mapping,
		Timestamps: make([]time.Time, 0, len(points)),
		Values:     make([]float64, 0, len(points)),
	}
	for i, p := range points {
		if i > 0 && p.ts.Equal(points[i-1].ts) {
			dropped++
			continue
		}
		series.Timestamps = append(series.Timestamps, p.ts)
		series.Values = append(series.Values, p.value)
	}
	series.DroppedRows = dropped
	series.Fingerprint = SeriesFingerprint(mapping, series.Timestamps, series.Values)
	return series, nil
}

// SeriesFingerprint digests the column mapping and the normalized points.
func SeriesFingerprint(mapping models.ColumnMapping, timestamps []time.Time, values []float64) string {
	h := sha256.New()
	h.Write([]byte(seriesFingerprintVersion))
	h.Write([]byte{0})
	h.Write([]byte(mapping.DateColumn))
	h.Write([]byte{0})
	h.Write([]byte(mapping.ValueColumn))
	h.Write([]byte{0})

	var buf [20]byte
	for i := range values {
		binary.BigEndian.PutUint64(buf[0:8], uint64(timestamps[i].Unix()))
		binary.BigEndian.PutUint32(buf[8:12], uint32(timestamps[i].Nanosecond()))
		binary.BigEndian.PutUint64(buf[12:20], math.Float64bits(values[i]))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SourceDigest digests raw source bytes.
func SourceDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func cellTime(cell any) (time.Time, bool) {
	switch v := cell.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v.UTC(), true
	case string:
		t, err := utils.ParseTimestamp(v)
		return t, err == nil
	case json.Number:
		t, err := utils.ParseTimestamp(v.String())
		return t, err == nil
	case float64:
		t, err := utils.NumericTimestamp(v)
		return t, err == nil
	case int64:
		t, err := utils.NumericTimestamp(float64(v))
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func cellFloat(cell any) (float64, bool) {
	var f float64
	switch v := cell.(type) {
	case nil:
		return 0, false
	case float64:
		f = v
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(strings.Trim(v, "\""))
		switch strings.ToLower(s) {
		case "", "na", "n/a", "nan", "null", "none", "***", "-":
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
