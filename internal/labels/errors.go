package labels

import "fmt"

// RuleFileError reports a malformed line in a tagging, expansion or taxonomy file
type RuleFileError struct {
	File    string
	Line    int
	Message string
}

func (e *RuleFileError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}
