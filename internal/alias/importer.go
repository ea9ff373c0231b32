package alias

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/labels"
)

// unidentifiedMarker prefixes placeholder entries that name no real family
const unidentifiedMarker = "unidentified"

// Importer folds an alias dataset into label rule sets and answers
// family name lookups against it. An Importer is immutable; a nil
// *Importer behaves as if no dataset were loaded.
type Importer struct {
	dataset  *Dataset
	prefixes []string
	actors   map[string][]string
}

// NewImporter indexes a dataset: it records the known file type prefixes in
// first-seen order and the actor attribution of every named family.
func NewImporter(ds *Dataset) *Importer {
	imp := &Importer{
		dataset: ds,
		actors:  make(map[string][]string),
	}

	seen := make(map[string]bool)
	for _, key := range ds.keys {
		prefix, name := splitKey(key)
		if strings.HasPrefix(name, unidentifiedMarker) {
			continue
		}
		if !seen[prefix] {
			seen[prefix] = true
			imp.prefixes = append(imp.prefixes, prefix)
		}
		if attribution := ds.records[key].Attribution; len(attribution) > 0 {
			imp.actors[name] = append([]string(nil), attribution...)
		}
	}

	return imp
}

// Dataset returns the underlying dataset
func (imp *Importer) Dataset() *Dataset {
	if imp == nil {
		return nil
	}
	return imp.dataset
}

// Prefixes returns the known file type prefixes in first-seen order
func (imp *Importer) Prefixes() []string {
	if imp == nil {
		return nil
	}
	return append([]string(nil), imp.prefixes...)
}

// Merge returns a new rule set in which every named dataset family is a
// FAM tag and every alternate name translates to its family. base is not
// modified.
func (imp *Importer) Merge(base *labels.RuleSet) (*labels.RuleSet, error) {
	var families []string
	var rules []labels.Rule

	for _, key := range imp.dataset.keys {
		_, name := splitKey(key)
		if strings.HasPrefix(name, unidentifiedMarker) {
			continue
		}

		families = append(families, labels.CategoryFamily+":"+name)

		for _, alt := range imp.dataset.records[key].AltNames {
			alias := strings.ReplaceAll(strings.ToLower(alt), " ", "_")
			if alias == "" {
				continue
			}
			rules = append(rules, labels.Rule{Source: alias, Targets: []string{name}})
		}
		if strings.Contains(name, "_") {
			rules = append(rules, labels.Rule{Source: strings.ReplaceAll(name, "_", ""), Targets: []string{name}})
		}
	}

	taxonomy, err := base.Taxonomy().Extend(families)
	if err != nil {
		return nil, fmt.Errorf("failed to extend taxonomy: %w", err)
	}

	// Expansion tables carry no dataset rules and are immutable, so the
	// base table is reused as is.
	return labels.NewRuleSet(base.Translation().Extend(rules), base.Expansion(), taxonomy), nil
}

// Resolve finds the dataset key for a family given the sample's file type
func (imp *Importer) Resolve(family, fileType string) (string, bool) {
	if imp == nil {
		return "", false
	}

	prefix := ""
	if strings.Contains(fileType, "windows") {
		prefix = "win"
	} else {
		for _, p := range imp.prefixes {
			if strings.Contains(fileType, p) {
				prefix = p
				break
			}
		}
	}
	if prefix == "" {
		return "", false
	}

	key := prefix + "." + family
	if _, ok := imp.dataset.records[key]; !ok {
		return "", false
	}
	return key, true
}

// CommonName returns the dataset display name of a family, or the family
// title-cased when it cannot be resolved
func (imp *Importer) CommonName(family, fileType string, useDataset bool) string {
	if useDataset {
		if key, ok := imp.Resolve(family, fileType); ok {
			return imp.dataset.records[key].CommonName
		}
	}
	return titleCase(family)
}

// AltNames returns the lowercased dataset alternate names of a family
func (imp *Importer) AltNames(family, fileType string, useDataset bool) []string {
	if !useDataset {
		return nil
	}
	key, ok := imp.Resolve(family, fileType)
	if !ok {
		return nil
	}

	alts := imp.dataset.records[key].AltNames
	names := make([]string, 0, len(alts))
	for _, alt := range alts {
		names = append(names, strings.ToLower(alt))
	}
	return names
}

// Actors returns the threat actors attributed to a family. A resolved
// dataset entry wins even when its attribution is empty.
func (imp *Importer) Actors(family, fileType string, useDataset bool) []string {
	if !useDataset || imp == nil {
		return nil
	}
	if key, ok := imp.Resolve(family, fileType); ok {
		return append([]string(nil), imp.dataset.records[key].Attribution...)
	}
	if actors, ok := imp.actors[family]; ok {
		return append([]string(nil), actors...)
	}
	return nil
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest ("agent_tesla" -> "Agent_Tesla")
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inWord := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if inWord {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			inWord = true
			continue
		}
		b.WriteRune(r)
		inWord = false
	}

	return b.String()
}
