package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/miradorstack/corrscan/internal/models"
)

// Source reads the raw bytes of a named dataset.
type Source interface {
	ReadSource(name string) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(name string) ([]byte, error)

// ReadSource implements Source.
func (f SourceFunc) ReadSource(name string) ([]byte, error) {
	return f(name)
}

// DirSource resolves dataset names as file names inside Dir.
type DirSource struct {
	Dir string
}

// ReadSource implements Source. Names containing path separators are rejected.
func (d DirSource) ReadSource(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid dataset name %q", name)
	}
	return os.ReadFile(filepath.Join(d.Dir, name))
}

// Discover lists the supported dataset files in dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := FormatOf(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// FormatOf infers the dataset format from the file extension.
func FormatOf(name string) (models.Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return models.FormatCSV, true
	case ".json":
		return models.FormatJSON, true
	case ".parquet", ".pq":
		return models.FormatParquet, true
	default:
		return "", false
	}
}
