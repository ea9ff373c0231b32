package model

import (
	"fmt"
	"time"
)

// Request asks for the AV labels of one sample to be classified
type Request struct {
	MD5      string   `json:"md5"`
	SHA1     string   `json:"sha1"`
	SHA256   string   `json:"sha256"`
	FileType string   `json:"file_type"`
	Labels   []string `json:"labels"`
	// nil means use the service default
	IncludeAliasDataset *bool `json:"include_malpedia_dataset,omitempty"`
}

// CategorizedTag is a ranked tag joined with its taxonomy metadata
type CategorizedTag struct {
	name     string
	path     string
	category Category
	rank     int
}

// NewCategorizedTag builds a CategorizedTag, rejecting empty names,
// unknown categories and ranks below one
func NewCategorizedTag(name, path string, category Category, rank int) (CategorizedTag, error) {
	if name == "" {
		return CategorizedTag{}, fmt.Errorf("tag name is required")
	}
	if !category.Valid() {
		return CategorizedTag{}, fmt.Errorf("tag %q: invalid category %d", name, int(category))
	}
	if rank < 1 {
		return CategorizedTag{}, fmt.Errorf("tag %q: rank must be at least 1, got %d", name, rank)
	}
	return CategorizedTag{name: name, path: path, category: category, rank: rank}, nil
}

func (t CategorizedTag) Name() string       { return t.name }
func (t CategorizedTag) Path() string       { return t.path }
func (t CategorizedTag) Category() Category { return t.category }
func (t CategorizedTag) Rank() int          { return t.rank }

// SampleVerdict is the classification of a single sample
type SampleVerdict struct {
	Tags  []CategorizedTag
	IsPUP bool
	// Family is empty when no family tag was extracted
	Family string
}

// HasFamily reports whether a family was extracted
func (v *SampleVerdict) HasFamily() bool {
	return v.Family != ""
}

// BodyFormat describes how a section body is rendered
type BodyFormat string

const (
	BodyFormatKeyValue BodyFormat = "KEY_VALUE"
	BodyFormatTable    BodyFormat = "TABLE"
)

// Section is one node of a report tree
type Section struct {
	Title       string              `json:"title"`
	BodyFormat  BodyFormat          `json:"body_format"`
	Body        any                 `json:"body"`
	Heuristic   *int                `json:"heuristic,omitempty"`
	Tags        map[string][]string `json:"tags,omitempty"`
	Subsections []*Section          `json:"subsections,omitempty"`
}

// AddTag appends a value under a pipeline tag key
func (s *Section) AddTag(key, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string][]string)
	}
	s.Tags[key] = append(s.Tags[key], value)
}

// SummaryBody is the key/value body of the root section
type SummaryBody struct {
	IsPUP  bool   `json:"is_pup"`
	Family string `json:"family,omitempty"`
	AKA    string `json:"aka,omitempty"`
	Actors string `json:"actors,omitempty"`
}

// TagRow is one row of a category section table
type TagRow struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Path     string `json:"path"`
	Rank     int    `json:"rank"`
}

// Report is the full classification output for a sample
type Report struct {
	ID          string    `json:"id"`
	SHA256      string    `json:"sha256"`
	RuleSet     string    `json:"rule_set"`
	GeneratedAt time.Time `json:"generated_at"`
	Result      *Section  `json:"result"`
}

// Tags collects the pipeline tags of every section in the report,
// de-duplicated and in tree order
func (r *Report) Tags() map[string][]string {
	tags := make(map[string][]string)
	seen := make(map[string]bool)

	var walk func(s *Section)
	walk = func(s *Section) {
		if s == nil {
			return
		}
		for key, values := range s.Tags {
			for _, v := range values {
				if seen[key+"\x00"+v] {
					continue
				}
				seen[key+"\x00"+v] = true
				tags[key] = append(tags[key], v)
			}
		}
		for _, sub := range s.Subsections {
			walk(sub)
		}
	}
	walk(r.Result)

	return tags
}

// Heuristics lists every heuristic raised in the report, in tree order
func (r *Report) Heuristics() []int {
	var heuristics []int

	var walk func(s *Section)
	walk = func(s *Section) {
		if s == nil {
			return
		}
		if s.Heuristic != nil {
			heuristics = append(heuristics, *s.Heuristic)
		}
		for _, sub := range s.Subsections {
			walk(sub)
		}
	}
	walk(r.Result)

	return heuristics
}
