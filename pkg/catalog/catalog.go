// Package catalog holds the static tables that drive an extraction: which
// collections exist, which of their properties are extracted, and the dataset
// each (collection, property) pair is written to.
//
// A catalog is validated once when it is built. Lookups afterwards never see
// a half-valid table, and an unknown key is reported with ErrUnknownKey.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrUnknownKey is returned for a collection, property or pair the catalog does not define.
var ErrUnknownKey = errors.New("unknown catalog key")

// DefaultParent is the parent object queries are filtered on when a
// collection does not name one.
const DefaultParent = "System"

var datasetNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Key identifies one extracted property.
type Key struct {
	Collection int
	Property   int
}

func (k Key) String() string {
	return fmt.Sprintf("collection %d property %d", k.Collection, k.Property)
}

// Collection describes one engine collection.
type Collection struct {
	ID   int
	Name string
	// Parent filters queries on this collection's parent object.
	Parent string
	// Windowed marks collections whose interval results are too large for a
	// single query and must be split by time window.
	Windowed bool
	// Properties maps property names to their ids within the collection.
	Properties map[string]int
}

// Dataset binds a key to an output dataset name.
type Dataset struct {
	Key  Key
	Name string
}

// Catalog is a validated, read-only set of tables.
type Catalog struct {
	collections map[int]Collection
	byName      map[string]int
	datasets    map[Key]string
	order       []Key
}

// New validates collections and datasets and builds a Catalog. Every dataset
// key must name a property its collection's property table defines.
func New(collections []Collection, datasets []Dataset) (*Catalog, error) {
	c := &Catalog{
		collections: make(map[int]Collection, len(collections)),
		byName:      make(map[string]int, len(collections)),
		datasets:    make(map[Key]string, len(datasets)),
	}

	for _, col := range collections {
		if col.ID <= 0 {
			return nil, fmt.Errorf("collection %q: id must be positive", col.Name)
		}
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return nil, fmt.Errorf("collection %d: name is required", col.ID)
		}
		if _, dup := c.collections[col.ID]; dup {
			return nil, fmt.Errorf("collection %d defined twice", col.ID)
		}
		if _, dup := c.byName[strings.ToLower(name)]; dup {
			return nil, fmt.Errorf("collection name %q defined twice", name)
		}
		if col.Parent == "" {
			col.Parent = DefaultParent
		}
		col.Name = name
		props := make(map[string]int, len(col.Properties))
		for pname, pid := range col.Properties {
			if pid <= 0 {
				return nil, fmt.Errorf("collection %q property %q: id must be positive", name, pname)
			}
			props[pname] = pid
		}
		col.Properties = props
		c.collections[col.ID] = col
		c.byName[strings.ToLower(name)] = col.ID
	}

	names := make(map[string]Key, len(datasets))
	for _, ds := range datasets {
		col, ok := c.collections[ds.Key.Collection]
		if !ok {
			return nil, fmt.Errorf("dataset %q: %w: collection %d", ds.Name, ErrUnknownKey, ds.Key.Collection)
		}
		if ds.Key.Property <= 0 {
			return nil, fmt.Errorf("dataset %q: property id must be positive", ds.Name)
		}
		if !slices.Contains(slices.Collect(maps.Values(col.Properties)), ds.Key.Property) {
			return nil, fmt.Errorf("dataset %q: %w: property %d is not defined by %s", ds.Name, ErrUnknownKey, ds.Key.Property, col.Name)
		}
		if !datasetNameRE.MatchString(ds.Name) {
			return nil, fmt.Errorf("dataset name %q is not a valid file name", ds.Name)
		}
		if _, dup := c.datasets[ds.Key]; dup {
			return nil, fmt.Errorf("%s mapped twice", ds.Key)
		}
		if other, dup := names[ds.Name]; dup {
			return nil, fmt.Errorf("dataset %q used by both %s and %s", ds.Name, other, ds.Key)
		}
		names[ds.Name] = ds.Key
		c.datasets[ds.Key] = ds.Name
		c.order = append(c.order, ds.Key)
	}

	slices.SortFunc(c.order, func(a, b Key) int {
		if a.Collection != b.Collection {
			return a.Collection - b.Collection
		}
		return a.Property - b.Property
	})
	return c, nil
}

// Dataset returns the dataset name of k.
func (c *Catalog) Dataset(k Key) (string, error) {
	name, ok := c.datasets[k]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, k)
	}
	return name, nil
}

// Keys returns every mapped key ordered by collection then property.
func (c *Catalog) Keys() []Key {
	return slices.Clone(c.order)
}

// KeysFor returns the mapped keys of one collection in property order.
func (c *Catalog) KeysFor(collection int) []Key {
	var keys []Key
	for _, k := range c.order {
		if k.Collection == collection {
			keys = append(keys, k)
		}
	}
	return keys
}

// Collection returns the collection with the given id.
func (c *Catalog) Collection(id int) (Collection, error) {
	col, ok := c.collections[id]
	if !ok {
		return Collection{}, fmt.Errorf("%w: collection %d", ErrUnknownKey, id)
	}
	return col, nil
}

// Collections returns every collection ordered by id.
func (c *Catalog) Collections() []Collection {
	out := make([]Collection, 0, len(c.collections))
	for _, col := range c.collections {
		out = append(out, col)
	}
	slices.SortFunc(out, func(a, b Collection) int { return a.ID - b.ID })
	return out
}

// ResolveCollection accepts a collection name (case-insensitive) or a numeric id.
func (c *Catalog) ResolveCollection(ref string) (Collection, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := c.byName[strings.ToLower(ref)]; ok {
		return c.collections[id], nil
	}
	if id, err := strconv.Atoi(ref); err == nil {
		return c.Collection(id)
	}
	return Collection{}, fmt.Errorf("%w: collection %q", ErrUnknownKey, ref)
}

// PropertyID returns the id of a named property of a collection.
func (c *Catalog) PropertyID(collection int, name string) (int, error) {
	col, err := c.Collection(collection)
	if err != nil {
		return 0, err
	}
	id, ok := col.Properties[name]
	if !ok {
		return 0, fmt.Errorf("%w: property %q of %s", ErrUnknownKey, name, col.Name)
	}
	return id, nil
}

// Windowed reports whether interval queries on a collection are split by time window.
func (c *Catalog) Windowed(collection int) bool {
	return c.collections[collection].Windowed
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(
		[]Collection{
			{ID: 1, Name: "Generators", Windowed: true, Properties: map[string]int{"Generation": 2, "Installed Capacity": 240}},
			{ID: 80, Name: "Batteries", Properties: map[string]int{"Generation": 5, "Load": 6, "Installed Capacity": 82}},
			{ID: 108, Name: "Emissions", Properties: map[string]int{"Production": 725}},
		},
		[]Dataset{
			{Key{1, 2}, "gen_ann"},
			{Key{1, 240}, "cap"},
			{Key{80, 5}, "gen_ann_append"},
			{Key{80, 6}, "bat_load"},
			{Key{80, 82}, "cap_append"},
			{Key{108, 725}, "emit_r"},
		},
	)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return c
}
