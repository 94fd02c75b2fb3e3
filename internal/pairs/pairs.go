// Package pairs enumerates the unordered dataset pairs of an analysis run.
package pairs

import (
	"fmt"
	"sort"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// Pairs returns every 2-combination of the distinct names, n(n-1)/2 in total,
// ordered lexicographically by (A, B). Fewer than two distinct names is a configuration error.
func Pairs(names []string) ([]models.DatasetPair, error) {
	distinct := Distinct(names)
	if len(distinct) < 2 {
		return nil, utils.ConfigError("pairs.Pairs",
			fmt.Sprintf("need at least two datasets, got %d", len(distinct)), nil)
	}

	out := make([]models.DatasetPair, 0, Count(len(distinct)))
	for i := 0; i < len(distinct); i++ {
		for j := i + 1; j < len(distinct); j++ {
			out = append(out, models.DatasetPair{A: distinct[i], B: distinct[j]})
		}
	}
	return out, nil
}

// Count returns n(n-1)/2.
func Count(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// Distinct returns the sorted, de-duplicated, non-empty names.
func Distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
