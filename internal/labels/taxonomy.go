package labels

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Category codes that may prefix a taxonomy path
const (
	CategoryFamily         = "FAM"
	CategoryClassification = "CLASS"
	CategoryBehavior       = "BEH"
	CategoryFile           = "FILE"
	CategoryGeneric        = "GEN"
	CategoryUnknown        = "UNK"
)

var knownCategories = map[string]bool{
	CategoryFamily:         true,
	CategoryClassification: true,
	CategoryBehavior:       true,
	CategoryFile:           true,
	CategoryGeneric:        true,
}

type taxonomyEntry struct {
	path     string
	category string
}

// Taxonomy maps tag names to their category and full path.
// A Taxonomy is never modified after construction; Extend returns a new one.
type Taxonomy struct {
	tags map[string]taxonomyEntry
}

// ParseTaxonomy reads one tag path per line ("CAT:[prefix:...]name").
// Blank lines and lines starting with '#' are ignored.
func ParseTaxonomy(r io.Reader, source string) (*Taxonomy, error) {
	t := &Taxonomy{tags: make(map[string]taxonomyEntry)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, entry, err := parseTagPath(line)
		if err != nil {
			return nil, &RuleFileError{File: source, Line: lineNo, Message: err.Error()}
		}
		if existing, exists := t.tags[name]; exists {
			return nil, &RuleFileError{
				File:    source,
				Line:    lineNo,
				Message: fmt.Sprintf("tag %q already defined as %s", name, existing.path),
			}
		}
		t.tags[name] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read taxonomy %s: %w", source, err)
	}

	return t, nil
}

// parseTagPath splits a taxonomy path into its tag name and entry
func parseTagPath(path string) (string, taxonomyEntry, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 2 {
		return "", taxonomyEntry{}, fmt.Errorf("tag path %q must have the form CATEGORY:name", path)
	}
	if !knownCategories[parts[0]] {
		return "", taxonomyEntry{}, fmt.Errorf("unknown category %q in tag path %q", parts[0], path)
	}
	for _, part := range parts {
		if part == "" {
			return "", taxonomyEntry{}, fmt.Errorf("empty component in tag path %q", path)
		}
	}

	name := parts[len(parts)-1]
	return name, taxonomyEntry{path: path, category: parts[0]}, nil
}

// Info returns the taxonomy path and category code of a tag.
// Tags missing from the taxonomy are reported as UNK.
func (t *Taxonomy) Info(tag string) (string, string) {
	if entry, ok := t.tags[tag]; ok {
		return entry.path, entry.category
	}
	return CategoryUnknown + ":" + tag, CategoryUnknown
}

// Has reports whether the tag is defined
func (t *Taxonomy) Has(tag string) bool {
	_, ok := t.tags[tag]
	return ok
}

// IsGeneric reports whether the tag belongs to the GEN category
func (t *Taxonomy) IsGeneric(tag string) bool {
	entry, ok := t.tags[tag]
	return ok && entry.category == CategoryGeneric
}

// Len returns the number of defined tags
func (t *Taxonomy) Len() int {
	return len(t.tags)
}

// Paths returns every tag path in lexical order
func (t *Taxonomy) Paths() []string {
	paths := make([]string, 0, len(t.tags))
	for _, entry := range t.tags {
		paths = append(paths, entry.path)
	}
	sort.Strings(paths)
	return paths
}

// Extend returns a copy of the taxonomy with the given paths added.
// Paths whose tag name is already defined are skipped.
func (t *Taxonomy) Extend(paths []string) (*Taxonomy, error) {
	extended := &Taxonomy{tags: make(map[string]taxonomyEntry, len(t.tags)+len(paths))}
	for name, entry := range t.tags {
		extended.tags[name] = entry
	}

	for _, path := range paths {
		name, entry, err := parseTagPath(path)
		if err != nil {
			return nil, err
		}
		if _, exists := extended.tags[name]; exists {
			continue
		}
		extended.tags[name] = entry
	}

	return extended, nil
}
