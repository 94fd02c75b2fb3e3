package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/miradorstack/corrscan/internal/models"
)

// Table is the format-independent view of a decoded dataset. Cells hold strings,
// json.Number, float64, int64, bool, time.Time, or nil.
type Table struct {
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Decoder turns raw bytes into a Table.
type Decoder interface {
	Decode(data []byte) (*Table, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(data []byte) (*Table, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(data []byte) (*Table, error) {
	return f(data)
}

var decoders = map[models.Format]Decoder{
	models.FormatCSV:     DecoderFunc(decodeCSV),
	models.FormatJSON:    DecoderFunc(decodeJSON),
	models.FormatParquet: DecoderFunc(decodeParquet),
}

// DecoderFor returns the decoder registered for a format.
func DecoderFor(format models.Format) (Decoder, bool) {
	d, ok := decoders[format]
	return d, ok
}

func decodeCSV(data []byte) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv has no header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	table := &Table{Columns: make([]string, len(header))}
	for i, h := range header {
		table.Columns[i] = strings.TrimSpace(h)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make([]any, len(table.Columns))
		for i := range row {
			if i < len(record) {
				row[i] = record[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// decodeJSON accepts either an array of records or an object of equal-length column arrays.
func decodeJSON(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	switch v := doc.(type) {
	case []any:
		return jsonRecords(v)
	case map[string]any:
		return jsonColumns(v)
	default:
		return nil, fmt.Errorf("unsupported json document of type %T", doc)
	}
}

func jsonRecords(records []any) (*Table, error) {
	seen := make(map[string]struct{})
	objects := make([]map[string]any, 0, len(records))
	for i, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, want object", i, rec)
		}
		for k := range obj {
			seen[k] = struct{}{}
		}
		objects = append(objects, obj)
	}

	table := &Table{Columns: sortedKeys(seen)}
	for _, obj := range objects {
		row := make([]any, len(table.Columns))
		for i, col := range table.Columns {
			row[i] = obj[col]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func jsonColumns(columns map[string]any) (*Table, error) {
	keys := make(map[string]struct{}, len(columns))
	for k := range columns {
		keys[k] = struct{}{}
	}
	table := &Table{Columns: sortedKeys(keys)}

	length := -1
	arrays := make([][]any, len(table.Columns))
	for i, col := range table.Columns {
		arr, ok := columns[col].([]any)
		if !ok {
			return nil, fmt.Errorf("column %q is %T, want array", col, columns[col])
		}
		if length >= 0 && len(arr) != length {
			return nil, fmt.Errorf("column %q has %d values, want %d", col, len(arr), length)
		}
		length = len(arr)
		arrays[i] = arr
	}

	for r := 0; r < length; r++ {
		row := make([]any, len(table.Columns))
		for c := range table.Columns {
			row[c] = arrays[c][r]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func decodeParquet(data []byte) (*Table, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	schema := file.Schema()
	paths := schema.Columns()
	table := &Table{Columns: make([]string, len(paths))}
	position := make(map[int]int, len(paths))
	nodes := make([]parquet.Node, len(paths))
	for i, path := range paths {
		leaf, ok := schema.Lookup(path...)
		if !ok {
			return nil, fmt.Errorf("parquet column %v not found in schema", path)
		}
		table.Columns[i] = strings.Join(path, ".")
		position[leaf.ColumnIndex] = i
		nodes[i] = leaf.Node
	}

	buf := make([]parquet.Row, 256)
	for _, group := range file.RowGroups() {
		if err := readRowGroup(group, buf, position, nodes, table); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func readRowGroup(group parquet.RowGroup, buf []parquet.Row, position map[int]int, nodes []parquet.Node, table *Table) error {
	rows := group.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			cells := make([]any, len(table.Columns))
			for _, value := range row {
				idx, ok := position[value.Column()]
				if !ok {
					continue
				}
				cells[idx] = parquetCell(value, nodes[idx])
			}
			table.Rows = append(table.Rows, cells)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

func parquetCell(v parquet.Value, node parquet.Node) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		if lt := node.Type().LogicalType(); lt != nil && lt.Date != nil {
			return time.Unix(int64(v.Int32())*86400, 0).UTC()
		}
		return int64(v.Int32())
	case parquet.Int64:
		if lt := node.Type().LogicalType(); lt != nil && lt.Timestamp != nil {
			n := v.Int64()
			switch {
			case lt.Timestamp.Unit.Nanos != nil:
				return time.Unix(0, n).UTC()
			case lt.Timestamp.Unit.Micros != nil:
				return time.UnixMicro(n).UTC()
			default:
				return time.UnixMilli(n).UTC()
			}
		}
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
