package catalog

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
)

var enumLineRE = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(\d+)\s*(?:#.*)?$`)

// EnumEntry is one named collection id from an engine enum listing.
type EnumEntry struct {
	Name string
	ID   int
}

// ParseCollectionEnum reads "Name = id" lines from an engine enum listing.
// Lines of any other shape are ignored. A name listed twice is an error.
// Entries are returned in id order.
func ParseCollectionEnum(r io.Reader) ([]EnumEntry, error) {
	seen := make(map[string]int)
	var out []EnumEntry

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		m := enumLineRE.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if prev, dup := seen[m[1]]; dup {
			return nil, fmt.Errorf("line %d: %s defined twice (ids %d and %d)", line, m[1], prev, id)
		}
		seen[m[1]] = id
		out = append(out, EnumEntry{Name: m[1], ID: id})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b EnumEntry) int { return a.ID - b.ID })
	return out, nil
}
