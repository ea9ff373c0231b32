package alias

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed data/malpedia.json data/dataset.schema.json
var bundled embed.FS

const schemaResource = "dataset.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Record is one family entry of the alias dataset
type Record struct {
	CommonName  string   `json:"common_name"`
	AltNames    []string `json:"alt_names"`
	Attribution []string `json:"attribution"`
}

// Dataset is a parsed alias dataset. Keys are "<type>.<name>", lowercased,
// kept in document order.
type Dataset struct {
	keys    []string
	records map[string]Record
}

// Len returns the number of entries
func (d *Dataset) Len() int {
	return len(d.keys)
}

// Keys returns the entry keys in document order
func (d *Dataset) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Get returns a copy of the record stored under key
func (d *Dataset) Get(key string) (Record, bool) {
	rec, ok := d.records[key]
	if !ok {
		return Record{}, false
	}
	return Record{
		CommonName:  rec.CommonName,
		AltNames:    append([]string(nil), rec.AltNames...),
		Attribution: append([]string(nil), rec.Attribution...),
	}, true
}

// BundledDataset returns the dataset shipped with the binary
func BundledDataset() (*Dataset, error) {
	data, err := bundled.ReadFile("data/malpedia.json")
	if err != nil {
		return nil, err
	}
	return ParseDataset(data)
}

// LoadDataset reads a dataset file. Files ending in ".gz" or ".zst" are
// decompressed.
func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip dataset: %w", err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	ds, err := ParseDataset(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ParseDataset validates a JSON dataset document and decodes it, preserving
// entry order.
func ParseDataset(data []byte) (*Dataset, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	schema, err := datasetSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("dataset validation failed: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	ds := &Dataset{records: make(map[string]Record)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse dataset: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("failed to parse dataset: expected entry key")
		}

		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to parse dataset entry %q: %w", key, err)
		}

		key = strings.ToLower(key)
		if _, exists := ds.records[key]; !exists {
			ds.keys = append(ds.keys, key)
		}
		ds.records[key] = rec
	}

	return ds, nil
}

// datasetSchema compiles the embedded dataset schema once
func datasetSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := bundled.ReadFile("data/" + schemaResource)
		if err != nil {
			schemaErr = fmt.Errorf("failed to read dataset schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaResource, bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaResource)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// splitKey splits "<type>.<name>" into its parts
func splitKey(key string) (string, string) {
	prefix, name, _ := strings.Cut(key, ".")
	return prefix, name
}
