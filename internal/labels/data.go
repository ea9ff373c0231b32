package labels

import (
	"embed"
	"fmt"
	"io/fs"
)

// Rule file names expected inside a rules directory
const (
	TaggingFile   = "avclass.tagging"
	ExpansionFile = "avclass.expansion"
	TaxonomyFile  = "avclass.taxonomy"
)

//go:embed data/avclass.tagging data/avclass.expansion data/avclass.taxonomy
var bundled embed.FS

// DefaultRuleSet loads the rule files shipped with the binary
func DefaultRuleSet() (*RuleSet, error) {
	sub, err := fs.Sub(bundled, "data")
	if err != nil {
		return nil, err
	}
	return LoadRuleSet(sub)
}

// LoadRuleSet loads the tagging, expansion and taxonomy files from fsys.
// Any malformed file fails the whole load.
func LoadRuleSet(fsys fs.FS) (*RuleSet, error) {
	taxFile, err := fsys.Open(TaxonomyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy: %w", err)
	}
	defer taxFile.Close()
	taxonomy, err := ParseTaxonomy(taxFile, TaxonomyFile)
	if err != nil {
		return nil, err
	}

	translation, err := loadRules(fsys, TaggingFile)
	if err != nil {
		return nil, err
	}
	expansion, err := loadRules(fsys, ExpansionFile)
	if err != nil {
		return nil, err
	}

	return NewRuleSet(translation, expansion, taxonomy), nil
}

func loadRules(fsys fs.FS, name string) (*Rules, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	return ParseRules(f, name)
}
