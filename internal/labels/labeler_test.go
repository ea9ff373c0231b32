package labels

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo(labels ...string) SampleInfo {
	info := SampleInfo{MD5: "md5", SHA1: "sha1", SHA256: "sha256"}
	for i, label := range labels {
		info.Labels = append(info.Labels, AVLabel{Engine: fmt.Sprintf("av%d", i), Label: label})
	}
	return info
}

func rankOf(tags []RankedTag, name string) int {
	for _, t := range tags {
		if t.Tag == name {
			return t.Rank
		}
	}
	return 0
}

func TestDefaultRuleSet_Loads(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)

	assert.Greater(t, rs.Taxonomy().Len(), 0)
	assert.Greater(t, rs.Translation().Len(), 0)
	assert.Greater(t, rs.Expansion().Len(), 0)

	path, category := rs.TagInfo("windows")
	assert.Equal(t, "FILE:os:windows", path)
	assert.Equal(t, CategoryFile, category)
}

func TestRuleSet_RankTags(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)

	tests := []struct {
		name     string
		labels   []string
		expected map[string]int
		absent   []string
		isPUP    bool
	}{
		{
			name:     "sality",
			labels:   []string{"W32.Sality.PE", "Win.Virus.Sality-1067"},
			expected: map[string]int{"sality": 2, "windows": 2},
			absent:   []string{"virus", "pe"},
		},
		{
			name:     "wapomi aliases with duplicate emsisoft label",
			labels:   []string{"Virus.Win32.Nimnul.lse3", "Virus.Win32.Nimnul.e", "Win32.Ramnit.N", "Win32.Ramnit.N (B)"},
			expected: map[string]int{"virus": 2, "wapomi": 2, "windows": 3},
			absent:   []string{"ramnit", "nimnul"},
		},
		{
			name: "poison",
			labels: []string{
				"W32/Poison.CWKQ!tr.bdr",
				"W32.Backdoor.Poisonivy",
				"Win32:Agent-AAGI [Trj]",
				"Bck/Poison.E",
				"win/malicious_confidence_100% (W)",
				"Backdoor.Win32.PIvy.A",
			},
			expected: map[string]int{"poison": 3, "backdoor": 4, "windows": 5},
			absent:   []string{"agent", "malicious", "confidence"},
		},
		{
			name: "freemake pup",
			labels: []string{
				"Program.Freemake.175",
				"a variant of Win32/Freemake.A potentially unwanted",
				"InstallCore",
				"PUP.Optional.Freemake",
				"Riskware/Freemake",
			},
			expected: map[string]int{"grayware": 3, "freemake": 4},
			absent:   []string{"program", "variant"},
			isPUP:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := rs.RankTags(rs.SampleTags(sampleInfo(tt.labels...)), DefaultThreshold)

			for tag, rank := range tt.expected {
				assert.Equal(t, rank, rankOf(ranked, tag), "rank of %s", tag)
			}
			for _, tag := range tt.absent {
				assert.Zero(t, rankOf(ranked, tag), "tag %s should not be ranked", tag)
			}
			assert.Equal(t, tt.isPUP, rs.IsPUP(ranked))
		})
	}
}

func TestRuleSet_RankTagsOrdering(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)

	engines := map[string][]string{
		"alpha":  {"av0", "av1"},
		"bravo":  {"av0", "av1"},
		"single": {"av0"},
		"top":    {"av0", "av1", "av2"},
	}

	ranked := rs.RankTags(engines, DefaultThreshold)

	assert.Equal(t, []RankedTag{
		{Tag: "top", Rank: 3},
		{Tag: "bravo", Rank: 2},
		{Tag: "alpha", Rank: 2},
	}, ranked)
}

func TestRuleSet_LabelTagsSkipsHashPrefixes(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)

	hashes := []string{"deadbeef00", "cafebabe11", "0011"}
	tags := rs.LabelTags("Trojan.Deadbeef.Cafe.Sality", hashes)

	assert.Equal(t, []string{"sality", "trojan"}, tags)
}

func TestRuleSet_ExpansionIsOneLevel(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)

	engines := rs.SampleTags(sampleInfo("Win32.WannaCry.A", "Ransom.WannaCry"))

	assert.Len(t, engines["wannacry"], 2)
	assert.Len(t, engines["ransomware"], 2)
	assert.Len(t, engines["ransom"], 2)
}

func TestTrimVendorSuffix(t *testing.T) {
	tests := []struct {
		engine, label, expected string
	}{
		{"Kaspersky", "Trojan.Win32.Sality.abc", "Trojan.Win32.Sality"},
		{"AVG", "Win32/Sality.AB", "Win32/Sality"},
		{"AVG", "Win32/Sality.ab", "Win32/Sality.ab"},
		{"Agnitum", "Trojan.Sality!abc", "Trojan.Sality"},
		{"K7GW", "Virus ( 0040f1 )", "Virus "},
		{"av0", "Trojan.Sality.abc", "Trojan.Sality.abc"},
	}

	for _, tt := range tests {
		t.Run(tt.engine+"/"+tt.label, func(t *testing.T) {
			assert.Equal(t, tt.expected, trimVendorSuffix(tt.engine, tt.label))
		})
	}
}

func TestLoadRuleSet_MalformedFiles(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		contents string
	}{
		{"unknown category", TaxonomyFile, "BAD:thing\n"},
		{"duplicate tag", TaxonomyFile, "FAM:dup\nCLASS:dup\n"},
		{"missing target", TaggingFile, "lonely\n"},
		{"bad target path", ExpansionFile, "foo\tNOPE:bar\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			files := map[string]string{
				TaxonomyFile:  "FAM:sality\n",
				TaggingFile:   "w\tFILE:os:windows\n",
				ExpansionFile: "sality\tvirus\n",
			}
			files[tt.file] = tt.contents
			for name, contents := range files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
			}

			_, err := LoadRuleSet(os.DirFS(dir))
			require.Error(t, err)

			var ruleErr *RuleFileError
			assert.ErrorAs(t, err, &ruleErr)
			assert.Equal(t, tt.file, ruleErr.File)
		})
	}
}

func TestLoadRuleSet_MissingFile(t *testing.T) {
	_, err := LoadRuleSet(os.DirFS(t.TempDir()))
	assert.Error(t, err)
}

func TestRules_ExtendDoesNotModifyOriginal(t *testing.T) {
	base, err := ParseRules(strings.NewReader("geodo\tFAM:emotet\nheodo\temotet\n"), "test")
	require.NoError(t, err)

	extended := base.Extend([]Rule{
		{Source: "geodo", Targets: []string{"geodo_loader"}},
		{Source: "feodo", Targets: []string{"emotet"}},
	})

	targets, ok := base.Get("geodo")
	require.True(t, ok)
	assert.Equal(t, []string{"emotet"}, targets)
	assert.False(t, base.Has("feodo"))

	targets, ok = extended.Get("geodo")
	require.True(t, ok)
	assert.Equal(t, []string{"emotet", "geodo_loader"}, targets)
	assert.Equal(t, []string{"feodo", "heodo"}, extended.AliasesOf("emotet"))
	assert.Equal(t, []string{"geodo", "heodo"}, base.AliasesOf("emotet"))
}

func TestTaxonomy_Extend(t *testing.T) {
	base, err := ParseTaxonomy(strings.NewReader("FAM:sality\nGEN:agent\n"), "test")
	require.NoError(t, err)

	extended, err := base.Extend([]string{"FAM:emotet", "FAM:agent"})
	require.NoError(t, err)

	assert.False(t, base.Has("emotet"))
	assert.True(t, extended.Has("emotet"))
	assert.True(t, extended.IsGeneric("agent"))
	assert.Equal(t, 2, base.Len())
	assert.Equal(t, 3, extended.Len())

	path, category := extended.Info("unlisted")
	assert.Equal(t, "UNK:unlisted", path)
	assert.Equal(t, CategoryUnknown, category)
}
