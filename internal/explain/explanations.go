// Package explain records the human-readable reasons the scanner
// decided a node or edge was dirty, surfaced by "-d explain"-style
// debugging without affecting the dirty computation itself.
package explain

import "fmt"

// Explanations accumulates free-text reasons keyed by the node or edge
// they concern. A nil *Explanations is valid and simply drops every
// Record call, so callers never branch on whether explaining is on.
type Explanations struct {
	byItem map[any][]string
}

func New() *Explanations {
	return &Explanations{byItem: map[any][]string{}}
}

func (e *Explanations) Record(item any, format string, args ...any) {
	if e == nil {
		return
	}
	e.byItem[item] = append(e.byItem[item], fmt.Sprintf(format, args...))
}

func (e *Explanations) LookupAndAppend(item any, out []string) []string {
	if e == nil {
		return out
	}
	return append(out, e.byItem[item]...)
}
