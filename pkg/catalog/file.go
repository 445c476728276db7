package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog document.
type File struct {
	Collections []CollectionFile `yaml:"collections"`
	Datasets    []DatasetFile    `yaml:"datasets"`
}

// CollectionFile is one collection entry of a catalog document.
type CollectionFile struct {
	ID         int            `yaml:"id"`
	Name       string         `yaml:"name"`
	Parent     string         `yaml:"parent,omitempty"`
	Windowed   bool           `yaml:"windowed,omitempty"`
	Properties map[string]int `yaml:"properties,omitempty"`
}

// DatasetFile is one dataset entry of a catalog document.
type DatasetFile struct {
	Collection int    `yaml:"collection"`
	Property   int    `yaml:"property"`
	Name       string `yaml:"name"`
}

// Load decodes and validates a catalog document. Unknown fields and
// duplicate mapping keys are errors.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog: empty document")
		}
		return nil, fmt.Errorf("catalog: %w", err)
	}

	cols := make([]Collection, 0, len(f.Collections))
	for _, c := range f.Collections {
		cols = append(cols, Collection{
			ID:         c.ID,
			Name:       c.Name,
			Parent:     c.Parent,
			Windowed:   c.Windowed,
			Properties: c.Properties,
		})
	}
	sets := make([]Dataset, 0, len(f.Datasets))
	for _, d := range f.Datasets {
		sets = append(sets, Dataset{Key: Key{Collection: d.Collection, Property: d.Property}, Name: d.Name})
	}

	cat, err := New(cols, sets)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return cat, nil
}

// LoadFile reads a catalog document from path.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	cat, err := Load(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Marshal renders c as a catalog document that Load accepts.
func Marshal(c *Catalog) ([]byte, error) {
	var f File
	for _, col := range c.Collections() {
		f.Collections = append(f.Collections, CollectionFile{
			ID:         col.ID,
			Name:       col.Name,
			Parent:     col.Parent,
			Windowed:   col.Windowed,
			Properties: col.Properties,
		})
	}
	for _, k := range c.Keys() {
		f.Datasets = append(f.Datasets, DatasetFile{Collection: k.Collection, Property: k.Property, Name: c.datasets[k]})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
