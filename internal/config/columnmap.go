package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// LoadColumnMap reads a column map file of the form
//
//	{"rainfall.csv": ["date", "mm"], "sales.parquet": {"dateColumn": "day", "valueColumn": "units"}}
//
// Entries must name exactly a date column and a value column.
func LoadColumnMap(path string) (map[string]models.ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.ConfigError("config.LoadColumnMap", fmt.Sprintf("read column map %s", path), err)
	}
	return ParseColumnMap(data)
}

// ParseColumnMap decodes column map JSON. Malformed entries are collected and reported
// together as one configuration error.
func ParseColumnMap(data []byte) (map[string]models.ColumnMapping, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, utils.ConfigError("config.ParseColumnMap", "column map must be a JSON object", err)
	}

	mappings := make(map[string]models.ColumnMapping, len(raw))
	var problems []string
	for name, entry := range raw {
		m, err := parseColumnEntry(entry)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		mappings[name] = m
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, utils.ConfigError("config.ParseColumnMap", fmt.Sprintf("malformed entries %v", problems), nil)
	}
	return mappings, nil
}

func parseColumnEntry(entry json.RawMessage) (models.ColumnMapping, error) {
	trimmed := bytes.TrimSpace(entry)
	var m models.ColumnMapping
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		var pair []string
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return m, fmt.Errorf("want [date, value] strings: %w", err)
		}
		if len(pair) != 2 {
			return m, fmt.Errorf("want 2 columns, got %d", len(pair))
		}
		m = models.ColumnMapping{DateColumn: pair[0], ValueColumn: pair[1]}
	case bytes.HasPrefix(trimmed, []byte("{")):
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return m, fmt.Errorf("want {dateColumn, valueColumn}: %w", err)
		}
	default:
		return m, fmt.Errorf("want [date, value] or {dateColumn, valueColumn}")
	}
	if m.DateColumn == "" || m.ValueColumn == "" {
		return m, fmt.Errorf("column names must not be empty")
	}
	return m, nil
}
