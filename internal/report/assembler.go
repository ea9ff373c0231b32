package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
)

// Title prefix shared by every section
const titlePrefix = "AVClass"

// FamilyLookup answers family name questions against the alias dataset.
// *alias.Importer implements it.
type FamilyLookup interface {
	CommonName(family, fileType string, useDataset bool) string
	AltNames(family, fileType string, useDataset bool) []string
	Actors(family, fileType string, useDataset bool) []string
}

// AliasTable lists the translation sources that fold into exactly one tag.
// *labels.Rules implements it.
type AliasTable interface {
	AliasesOf(name string) []string
}

// Assembler turns a sample verdict into a report tree
type Assembler struct {
	aliases AliasTable
	lookup  FamilyLookup
}

// NewAssembler creates an assembler. aliases should be the baseline
// translation table.
func NewAssembler(aliases AliasTable, lookup FamilyLookup) *Assembler {
	return &Assembler{
		aliases: aliases,
		lookup:  lookup,
	}
}

// Build creates the summary section with one subsection per non-empty category
func (a *Assembler) Build(fileType string, verdict *model.SampleVerdict, useDataset bool) *model.Section {
	section := a.SummarySection(fileType, verdict.Family, verdict.IsPUP, useDataset)
	section.Subsections = CategorySections(verdict.Tags)
	return section
}

// SummarySection creates the root section describing the family, PUP flag,
// aliases and actors. family may be empty.
func (a *Assembler) SummarySection(fileType, family string, isPUP, useDataset bool) *model.Section {
	body := model.SummaryBody{IsPUP: isPUP}
	section := &model.Section{BodyFormat: model.BodyFormatKeyValue}

	if family == "" {
		section.Title = titlePrefix + " was unable to extract a malware family"
		section.Body = body
		return section
	}

	family = strings.ToLower(family)
	commonName := a.lookup.CommonName(family, fileType, useDataset)
	section.Title = fmt.Sprintf("%s extracted malware family: %s", titlePrefix, commonName)
	body.Family = commonName

	altNames := a.AltNames(family, fileType, useDataset)
	if strings.ToLower(commonName) != family {
		// The family the common name was derived from goes first
		altNames = prepend(family, altNames)
	}
	if len(altNames) > 0 {
		body.AKA = strings.Join(altNames, ", ")
	}
	section.AddTag(model.TagAttributionFamily, family)

	if actors := a.lookup.Actors(family, fileType, useDataset); len(actors) > 0 {
		body.Actors = strings.Join(actors, ", ")
		for _, actor := range actors {
			section.AddTag(model.TagAttributionActor, actor)
		}
	}

	section.Body = body
	section.Heuristic = heuristic(model.HeuristicFamily)
	return section
}

// AltNames returns the sorted, case-insensitively unique union of the
// translation aliases of family and its dataset alternate names
func (a *Assembler) AltNames(family, fileType string, useDataset bool) []string {
	seen := make(map[string]bool)
	var names []string

	add := func(name string) {
		name = strings.ToLower(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, name := range a.aliases.AliasesOf(family) {
		add(name)
	}
	for _, name := range a.lookup.AltNames(family, fileType, useDataset) {
		add(name)
	}

	sort.Strings(names)
	return names
}

// CategorySections groups tags by category and builds one section per
// non-empty category in display order
func CategorySections(tags []model.CategorizedTag) []*model.Section {
	grouped := make(map[model.Category][]model.CategorizedTag)
	for _, t := range tags {
		grouped[t.Category()] = append(grouped[t.Category()], t)
	}

	var sections []*model.Section
	for _, category := range model.Categories() {
		if group := grouped[category]; len(group) > 0 {
			sections = append(sections, CategorySection(category, group))
		}
	}
	return sections
}

// CategorySection builds a table of tags sorted by descending rank
func CategorySection(category model.Category, tags []model.CategorizedTag) *model.Section {
	sorted := append([]model.CategorizedTag(nil), tags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rank() > sorted[j].Rank()
	})

	rows := make([]model.TagRow, 0, len(sorted))
	for _, t := range sorted {
		rows = append(rows, model.TagRow{
			Name:     t.Name(),
			Category: category.DisplayName(),
			Path:     t.Path(),
			Rank:     t.Rank(),
		})
	}

	section := &model.Section{
		Title:      fmt.Sprintf("%s extracted %d %s tags", titlePrefix, len(sorted), category.DisplayName()),
		BodyFormat: model.BodyFormatTable,
		Body:       rows,
	}
	if id, ok := category.Heuristic(); ok {
		section.Heuristic = heuristic(id)
	}
	if key, ok := category.TagKey(); ok {
		for _, t := range sorted {
			section.AddTag(key, t.Name())
		}
	}

	return section
}

// prepend puts name first, dropping any later copy of it
func prepend(name string, names []string) []string {
	out := make([]string, 0, len(names)+1)
	out = append(out, name)
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func heuristic(id int) *int {
	return &id
}
