package labels

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultThreshold is the minimum number of engines (exclusive) that must
// agree on a tag for RankTags to keep it
const DefaultThreshold = 1

// minTokenLength is the shortest untranslated token kept as a tag
const minTokenLength = 4

// AVLabel is one engine's detection label for a sample
type AVLabel struct {
	Engine string
	Label  string
}

// SampleInfo is the input to SampleTags
type SampleInfo struct {
	MD5      string
	SHA1     string
	SHA256   string
	Labels   []AVLabel
	Reserved []string
}

// RankedTag pairs a tag with the number of engines that reported it
type RankedTag struct {
	Tag  string
	Rank int
}

// RuleSet bundles the translation, expansion and taxonomy tables that drive
// label normalization. It is safe for concurrent use.
type RuleSet struct {
	translation *Rules
	expansion   *Rules
	taxonomy    *Taxonomy
}

// NewRuleSet creates a rule set from already parsed tables
func NewRuleSet(translation, expansion *Rules, taxonomy *Taxonomy) *RuleSet {
	return &RuleSet{
		translation: translation,
		expansion:   expansion,
		taxonomy:    taxonomy,
	}
}

// Translation returns the tag translation table
func (rs *RuleSet) Translation() *Rules { return rs.translation }

// Expansion returns the tag expansion table
func (rs *RuleSet) Expansion() *Rules { return rs.expansion }

// Taxonomy returns the tag taxonomy
func (rs *RuleSet) Taxonomy() *Taxonomy { return rs.taxonomy }

// TagInfo returns the taxonomy path and category code of a tag
func (rs *RuleSet) TagInfo(tag string) (string, string) {
	return rs.taxonomy.Info(tag)
}

// SampleTags tokenizes every label of the sample and returns, for each tag,
// the engines whose label produced it.
func (rs *RuleSet) SampleTags(info SampleInfo) map[string][]string {
	hashes := []string{strings.ToLower(info.MD5), strings.ToLower(info.SHA1), strings.ToLower(info.SHA256)}
	engines := make(map[string][]string)
	seen := make(map[string]bool, len(info.Labels))

	for _, av := range info.Labels {
		label := strings.TrimSpace(av.Label)
		if label == "" {
			continue
		}

		// Emsisoft shares BitDefender labels but appends " (B)"
		label = strings.TrimSuffix(label, " (B)")
		// F-Secure reuses Avira labels with a "Malware." prefix
		label = strings.TrimPrefix(label, "Malware.")

		if seen[label] {
			continue
		}
		seen[label] = true

		label = trimVendorSuffix(av.Engine, label)

		for _, tag := range rs.expand(rs.LabelTags(label, hashes)) {
			engines[tag] = append(engines[tag], av.Engine)
		}
	}

	return engines
}

// LabelTags returns the distinct tags found in a single label
func (rs *RuleSet) LabelTags(label string, hashes []string) []string {
	tags := make(map[string]bool)

	tokens := strings.FieldsFunc(label, func(r rune) bool {
		return r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	for _, token := range tokens {
		token = strings.TrimRightFunc(strings.ToLower(token), unicode.IsDigit)
		if token == "" || isHashPrefix(token, hashes) {
			continue
		}
		if rs.taxonomy.IsGeneric(token) {
			continue
		}

		if targets, ok := rs.translation.Get(token); ok {
			for _, target := range targets {
				if !rs.taxonomy.IsGeneric(target) {
					tags[target] = true
				}
			}
			continue
		}

		if len(token) >= minTokenLength {
			tags[token] = true
		}
	}

	return sortedKeys(tags)
}

// expand adds the tags implied by each tag (one level)
func (rs *RuleSet) expand(tags []string) []string {
	expanded := make(map[string]bool, len(tags))
	for _, tag := range tags {
		expanded[tag] = true
		if implied, ok := rs.expansion.Get(tag); ok {
			for _, t := range implied {
				expanded[t] = true
			}
		}
	}
	return sortedKeys(expanded)
}

// RankTags keeps the tags reported by more than threshold engines, ordered by
// engine count and then tag name, both descending.
func (rs *RuleSet) RankTags(engines map[string][]string, threshold int) []RankedTag {
	ranked := make([]RankedTag, 0, len(engines))
	for tag, avs := range engines {
		if len(avs) > threshold {
			ranked = append(ranked, RankedTag{Tag: tag, Rank: len(avs)})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank > ranked[j].Rank
		}
		return ranked[i].Tag > ranked[j].Tag
	})

	return ranked
}

// IsPUP reports whether the highest ranked classification tag is grayware
func (rs *RuleSet) IsPUP(tags []RankedTag) bool {
	for _, t := range tags {
		path, category := rs.taxonomy.Info(t.Tag)
		if category == CategoryClassification {
			return strings.Contains(path, "grayware")
		}
	}
	return false
}

// isHashPrefix reports whether token is a prefix of any sample hash
func isHashPrefix(token string, hashes []string) bool {
	for _, h := range hashes {
		if strings.HasPrefix(h, token) {
			return true
		}
	}
	return false
}

// trimVendorSuffix drops engine specific variant suffixes from a label
func trimVendorSuffix(engine, label string) string {
	switch engine {
	case "Norman", "Avast", "Avira", "Kaspersky", "ESET-NOD32", "Fortinet",
		"Jiangmin", "Comodo", "GData", "Sophos", "TrendMicro-HouseCall",
		"TrendMicro", "NANO-Antivirus", "Microsoft":
		if i := strings.LastIndex(label, "."); i > 0 {
			return label[:i]
		}
	case "AVG":
		if i := strings.LastIndex(label, "."); i > 0 && isUpperAlnum(label[i+1:]) {
			return label[:i]
		}
	case "Agnitum":
		if i := strings.LastIndex(label, "!"); i > 0 {
			return label[:i]
		}
	case "K7AntiVirus", "K7GW", "Ad-Aware", "BitDefender", "Emsisoft", "F-Secure", "MicroWorld-eScan":
		if i := strings.LastIndex(label, "("); i > 0 {
			return label[:i]
		}
	}
	return label
}

func isUpperAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
