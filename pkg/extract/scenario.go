package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArchiveExt is the file extension of scenario result archives.
const ArchiveExt = ".zip"

// Scenario is one simulation result archive.
type Scenario struct {
	Name    string
	Archive string
}

// DiscoverScenarios resolves scenario names to archives under dir. With no
// names, every archive in dir is a scenario, sorted by name.
func DiscoverScenarios(dir string, names []string) ([]Scenario, error) {
	if len(names) > 0 {
		out := make([]Scenario, 0, len(names))
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			n = strings.TrimSuffix(strings.TrimSpace(n), ArchiveExt)
			if n == "" {
				return nil, fmt.Errorf("empty scenario name")
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, Scenario{Name: n, Archive: filepath.Join(dir, n+ArchiveExt)})
		}
		return out, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover scenarios: %w", err)
	}
	var out []Scenario
	for _, ent := range entries {
		if ent.IsDir() || !strings.EqualFold(filepath.Ext(ent.Name()), ArchiveExt) {
			continue
		}
		name := strings.TrimSuffix(ent.Name(), filepath.Ext(ent.Name()))
		out = append(out, Scenario{Name: name, Archive: filepath.Join(dir, ent.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
