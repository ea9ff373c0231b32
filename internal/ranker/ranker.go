package ranker

import (
	"fmt"
	"sort"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/labels"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
)

// Engine is the label normalization engine used to tag and rank samples.
// *labels.RuleSet implements it.
type Engine interface {
	SampleTags(info labels.SampleInfo) map[string][]string
	RankTags(engines map[string][]string, threshold int) []labels.RankedTag
	TagInfo(tag string) (string, string)
	IsPUP(tags []labels.RankedTag) bool
}

// EngineLabels pairs each raw label with a synthesized engine name (av0, av1, ...)
func EngineLabels(raw []string) []labels.AVLabel {
	paired := make([]labels.AVLabel, len(raw))
	for i, label := range raw {
		paired[i] = labels.AVLabel{Engine: fmt.Sprintf("av%d", i), Label: label}
	}
	return paired
}

// Rank classifies a sample from its AV labels. It returns a nil verdict
// when there are no labels or the engine extracts no tags.
func Rank(engine Engine, md5, sha1, sha256 string, raw []string) (*model.SampleVerdict, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	info := labels.SampleInfo{
		MD5:      md5,
		SHA1:     sha1,
		SHA256:   sha256,
		Labels:   EngineLabels(raw),
		Reserved: []string{},
	}

	ranked := engine.RankTags(engine.SampleTags(info), labels.DefaultThreshold)
	if len(ranked) == 0 {
		return nil, nil
	}

	tags := make([]model.CategorizedTag, 0, len(ranked))
	for _, rt := range ranked {
		path, code := engine.TagInfo(rt.Tag)
		category, err := model.ParseCategory(code)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", rt.Tag, err)
		}
		tag, err := model.NewCategorizedTag(rt.Tag, path, category, rt.Rank)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}

	return &model.SampleVerdict{
		Tags:   tags,
		IsPUP:  engine.IsPUP(ranked),
		Family: family(tags),
	}, nil
}

// family returns the highest ranked FAM tag; among equal ranks the first one
// in engine order wins
func family(tags []model.CategorizedTag) string {
	var families []model.CategorizedTag
	for _, t := range tags {
		if t.Category() == model.CategoryFamily {
			families = append(families, t)
		}
	}
	if len(families) == 0 {
		return ""
	}

	sort.SliceStable(families, func(i, j int) bool {
		return families[i].Rank() > families[j].Rank()
	})
	return families[0].Name()
}
