package labels

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Rule maps a source token or tag to the tags it stands for
type Rule struct {
	Source  string
	Targets []string
}

// Rules is a source -> target-set table used for both tag translation and
// tag expansion. Target sets are stored sorted and are never shared with
// another Rules value.
type Rules struct {
	targets map[string][]string
}

// ParseRules reads "source<TAB>target[<TAB>target...]" lines.
// Targets may be bare tag names or full taxonomy paths.
func ParseRules(r io.Reader, source string) (*Rules, error) {
	rules := &Rules{targets: make(map[string][]string)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, &RuleFileError{File: source, Line: lineNo, Message: "expected a source and at least one target"}
		}

		targets := make([]string, 0, len(fields)-1)
		for _, field := range fields[1:] {
			name, err := targetName(field)
			if err != nil {
				return nil, &RuleFileError{File: source, Line: lineNo, Message: err.Error()}
			}
			targets = append(targets, name)
		}
		rules.add(strings.ToLower(fields[0]), targets)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", source, err)
	}

	return rules, nil
}

// targetName normalizes a rule target to a tag name
func targetName(target string) (string, error) {
	if !strings.Contains(target, ":") {
		return strings.ToLower(target), nil
	}
	name, _, err := parseTagPath(target)
	if err != nil {
		return "", err
	}
	return name, nil
}

// add unions targets into the set for source. Only used while a table is
// being built, before it is handed out.
func (r *Rules) add(source string, targets []string) {
	merged := append(append([]string(nil), r.targets[source]...), targets...)
	sort.Strings(merged)

	unique := merged[:0]
	for i, target := range merged {
		if i > 0 && target == merged[i-1] {
			continue
		}
		unique = append(unique, target)
	}
	r.targets[source] = unique
}

// Get returns a copy of the targets for source
func (r *Rules) Get(source string) ([]string, bool) {
	targets, ok := r.targets[source]
	if !ok {
		return nil, false
	}
	return append([]string(nil), targets...), true
}

// Has reports whether a rule exists for source
func (r *Rules) Has(source string) bool {
	_, ok := r.targets[source]
	return ok
}

// Len returns the number of sources
func (r *Rules) Len() int {
	return len(r.targets)
}

// AliasesOf returns, sorted and lowercased, every source whose target set is
// exactly {name}.
func (r *Rules) AliasesOf(name string) []string {
	var aliases []string
	for source, targets := range r.targets {
		if len(targets) == 1 && targets[0] == name {
			aliases = append(aliases, strings.ToLower(source))
		}
	}
	sort.Strings(aliases)
	return aliases
}

// Extend returns a deep copy of the table with the given rules unioned in
func (r *Rules) Extend(rules []Rule) *Rules {
	extended := &Rules{targets: make(map[string][]string, len(r.targets)+len(rules))}
	for source, targets := range r.targets {
		extended.targets[source] = append([]string(nil), targets...)
	}
	for _, rule := range rules {
		extended.add(rule.Source, rule.Targets)
	}
	return extended
}
