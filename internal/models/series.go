package models

import "time"

// Format enumerates supported dataset encodings.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// ColumnMapping names the date and value columns of a dataset.
type ColumnMapping struct {
	DateColumn  string `json:"dateColumn"`
	ValueColumn string `json:"valueColumn"`
}

// Series is a normalized (timestamp, value) sequence derived from one dataset.
// Timestamps are UTC and strictly increasing; values are finite. A Series is
// shared between workers and must be treated as read-only once returned by the store.
type Series struct {
	Name       string
	Format     Format
	Mapping    ColumnMapping
	Timestamps []time.Time
	Values     []float64
	// Fingerprint digests the mapping and the normalized points; it feeds result cache keys.
	Fingerprint string
	// SourceDigest digests the raw source bytes.
	SourceDigest string
	// DroppedRows counts rows discarded for unparseable dates or values.
	DroppedRows int
}

// Len returns the number of points.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Values)
}

// Span returns the first and last timestamps, or zero times for an empty series.
func (s *Series) Span() (time.Time, time.Time) {
	if s.Len() == 0 {
		return time.Time{}, time.Time{}
	}
	return s.Timestamps[0], s.Timestamps[len(s.Timestamps)-1]
}
