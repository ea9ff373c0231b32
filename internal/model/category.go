package model

import "fmt"

// Category is a taxonomy category. Declaration order is display order.
type Category int

const (
	CategoryFamily Category = iota
	CategoryClassification
	CategoryBehavior
	CategoryFile
	CategoryGeneric
	CategoryUnknown
)

// Heuristic IDs attached to report sections
const (
	HeuristicFamily         = 1
	HeuristicClassification = 2
	HeuristicBehavior       = 3
)

// Pipeline tag keys
const (
	TagAttributionFamily   = "attribution.family"
	TagAttributionCategory = "attribution.category"
	TagAttributionActor    = "attribution.actor"
	TagFileBehavior        = "file.behavior"
)

type categoryInfo struct {
	code        string
	displayName string
	heuristic   int
	tagKey      string
}

var categoryTable = [...]categoryInfo{
	CategoryFamily:         {code: "FAM", displayName: "family", heuristic: HeuristicFamily, tagKey: TagAttributionFamily},
	CategoryClassification: {code: "CLASS", displayName: "classification", heuristic: HeuristicClassification, tagKey: TagAttributionCategory},
	CategoryBehavior:       {code: "BEH", displayName: "behavior", heuristic: HeuristicBehavior, tagKey: TagFileBehavior},
	CategoryFile:           {code: "FILE", displayName: "file"},
	CategoryGeneric:        {code: "GEN", displayName: "generic"},
	CategoryUnknown:        {code: "UNK", displayName: "unknown"},
}

// Categories returns every category in display order
func Categories() []Category {
	categories := make([]Category, len(categoryTable))
	for i := range categoryTable {
		categories[i] = Category(i)
	}
	return categories
}

// ParseCategory converts a taxonomy code such as "FAM" to a Category
func ParseCategory(code string) (Category, error) {
	for i, info := range categoryTable {
		if info.code == code {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category code %q", code)
}

// Valid reports whether c is one of the declared categories
func (c Category) Valid() bool {
	return c >= 0 && int(c) < len(categoryTable)
}

// Code returns the taxonomy code
func (c Category) Code() string {
	return c.info().code
}

// DisplayName returns the human readable category name
func (c Category) DisplayName() string {
	return c.info().displayName
}

// Heuristic returns the heuristic raised by sections of this category, if any
func (c Category) Heuristic() (int, bool) {
	h := c.info().heuristic
	return h, h != 0
}

// TagKey returns the pipeline tag key tags of this category propagate to, if any
func (c Category) TagKey() (string, bool) {
	key := c.info().tagKey
	return key, key != ""
}

func (c Category) String() string {
	return c.Code()
}

func (c Category) info() categoryInfo {
	if !c.Valid() {
		return categoryInfo{code: fmt.Sprintf("Category(%d)", int(c))}
	}
	return categoryTable[c]
}
