package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategories_DisplayOrder(t *testing.T) {
	var codes []string
	for _, c := range Categories() {
		codes = append(codes, c.Code())
	}
	assert.Equal(t, []string{"FAM", "CLASS", "BEH", "FILE", "GEN", "UNK"}, codes)
}

func TestCategory_Metadata(t *testing.T) {
	tests := []struct {
		code         string
		display      string
		heuristic    int
		hasHeuristic bool
		tagKey       string
		hasTagKey    bool
	}{
		{"FAM", "family", 1, true, "attribution.family", true},
		{"CLASS", "classification", 2, true, "attribution.category", true},
		{"BEH", "behavior", 3, true, "file.behavior", true},
		{"FILE", "file", 0, false, "", false},
		{"GEN", "generic", 0, false, "", false},
		{"UNK", "unknown", 0, false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, err := ParseCategory(tt.code)
			require.NoError(t, err)

			assert.Equal(t, tt.display, c.DisplayName())

			heuristic, ok := c.Heuristic()
			assert.Equal(t, tt.hasHeuristic, ok)
			assert.Equal(t, tt.heuristic, heuristic)

			key, ok := c.TagKey()
			assert.Equal(t, tt.hasTagKey, ok)
			assert.Equal(t, tt.tagKey, key)
		})
	}

	_, err := ParseCategory("NOPE")
	assert.Error(t, err)
}

func TestNewCategorizedTag(t *testing.T) {
	tag, err := NewCategorizedTag("sality", "FAM:sality", CategoryFamily, 2)
	require.NoError(t, err)
	assert.Equal(t, "sality", tag.Name())
	assert.Equal(t, "FAM:sality", tag.Path())
	assert.Equal(t, CategoryFamily, tag.Category())
	assert.Equal(t, 2, tag.Rank())

	_, err = NewCategorizedTag("", "FAM:", CategoryFamily, 2)
	assert.Error(t, err)

	_, err = NewCategorizedTag("sality", "FAM:sality", Category(42), 2)
	assert.Error(t, err)

	_, err = NewCategorizedTag("sality", "FAM:sality", CategoryFamily, 0)
	assert.Error(t, err)
}

func TestReport_TagsAndHeuristics(t *testing.T) {
	one, three := HeuristicFamily, HeuristicBehavior

	root := &Section{Title: "root", Heuristic: &one}
	root.AddTag(TagAttributionFamily, "emotet")

	fam := &Section{Title: "fam", Heuristic: &one}
	fam.AddTag(TagAttributionFamily, "emotet")
	fam.AddTag(TagAttributionFamily, "geodo")

	beh := &Section{Title: "beh", Heuristic: &three}
	beh.AddTag(TagFileBehavior, "infosteal")

	root.Subsections = []*Section{fam, beh}
	report := &Report{Result: root}

	assert.Equal(t, map[string][]string{
		TagAttributionFamily: {"emotet", "geodo"},
		TagFileBehavior:      {"infosteal"},
	}, report.Tags())
	assert.Equal(t, []int{1, 1, 3}, report.Heuristics())
}
