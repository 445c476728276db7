package consolidate

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/HatiCode/solpivot/pkg/catalog"
)

var legacyNameRE = regexp.MustCompile(`^collection_(\d+)_property_(\d+)\.csv$`)

// Rename is the outcome for one legacy file.
type Rename struct {
	From string
	To   string
	// Skipped is set when the target already exists or the pair is not in the catalog.
	Skipped bool
	Reason  string
	Err     error
}

// RenameLegacy renames collection_<c>_property_<p>.csv files under root to
// the dataset names the catalog assigns. An existing target is never
// overwritten.
func RenameLegacy(root string, cat *catalog.Catalog, logger *slog.Logger) ([]Rename, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var out []Rename
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := legacyNameRE.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		col, _ := strconv.Atoi(m[1])
		prop, _ := strconv.Atoi(m[2])
		r := Rename{From: path}

		name, err := cat.Dataset(catalog.Key{Collection: col, Property: prop})
		if err != nil {
			r.Skipped = true
			r.Reason = "not in catalog"
			logger.Warn("legacy file not in catalog", "path", path, "collection", col, "property", prop)
			out = append(out, r)
			return nil
		}

		r.To = filepath.Join(filepath.Dir(path), name+".csv")
		if _, err := os.Stat(r.To); err == nil {
			r.Skipped = true
			r.Reason = "target exists"
			logger.Warn("rename target exists, leaving legacy file", "from", path, "to", r.To)
			out = append(out, r)
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			r.Err = err
			out = append(out, r)
			return nil
		}

		if err := os.Rename(path, r.To); err != nil {
			r.Err = fmt.Errorf("rename %s: %w", path, err)
			logger.Error("rename failed", "from", path, "to", r.To, "error", err)
		} else {
			logger.Info("renamed legacy dataset", "from", path, "to", r.To)
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("rename under %s: %w", root, err)
	}
	return out, nil
}
