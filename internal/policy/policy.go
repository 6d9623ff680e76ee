// Package policy decides which intercepted calls pause for debugger
// directives. Function names are matched against configured glob
// patterns; a match is announced with expect_response set, everything
// else is fire-and-forget.
package policy

import (
	"fmt"

	"github.com/gobwas/glob"
)

// BreakPolicy is an immutable compiled pattern set. Swap the whole
// policy to change it at runtime.
type BreakPolicy struct {
	patterns      []glob.Glob
	sources       []string
	defaultExpect bool
}

// Compile builds a policy from raw glob patterns. With no patterns,
// defaultExpect applies to every call.
func Compile(patterns []string, defaultExpect bool) (*BreakPolicy, error) {
	p := &BreakPolicy{defaultExpect: defaultExpect}
	for _, raw := range patterns {
		g, err := glob.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile break pattern %q: %w", raw, err)
		}
		p.patterns = append(p.patterns, g)
		p.sources = append(p.sources, raw)
	}
	return p, nil
}

// ShouldBreak reports whether a call with this function name pauses for
// a directive.
func (p *BreakPolicy) ShouldBreak(name string) bool {
	if len(p.patterns) == 0 {
		return p.defaultExpect
	}
	for _, g := range p.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Patterns returns the raw patterns the policy was compiled from.
func (p *BreakPolicy) Patterns() []string {
	return append([]string(nil), p.sources...)
}
