package selection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ato-project/ato/pkg/engine"
)

// Candidate is a plan component together with the test mappings available for it.
type Candidate struct {
	Component *engine.PlanComponent
	Mappings  []*engine.Mapping
}

// Mapped reports whether the candidate has at least one test mapping.
func (c Candidate) Mapped() bool {
	return len(c.Mappings) > 0
}

// Matcher decides whether a candidate is selected.
type Matcher interface {
	Match(ctx context.Context, c Candidate) (bool, error)
}

// Candidates pairs every component with its mappings, keeping component order.
func Candidates(components []*engine.PlanComponent, mappings []*engine.Mapping) []Candidate {
	byMain := make(map[string][]*engine.Mapping, len(mappings))
	for _, m := range mappings {
		byMain[m.MainComponentID] = append(byMain[m.MainComponentID], m)
	}

	out := make([]Candidate, 0, len(components))
	for _, c := range components {
		out = append(out, Candidate{Component: c, Mappings: byMain[c.ComponentID]})
	}
	return out
}

// Apply returns the plan component ids of every candidate all matchers accept.
// Unmapped candidates are skipped unless includeUnmapped is set.
func Apply(ctx context.Context, candidates []Candidate, includeUnmapped bool, matchers ...Matcher) ([]string, error) {
	var ids []string
	for _, c := range candidates {
		if !includeUnmapped && !c.Mapped() {
			continue
		}
		ok, err := matchAll(ctx, c, matchers)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, c.Component.ID)
		}
	}
	return ids, nil
}

func matchAll(ctx context.Context, c Candidate, matchers []Matcher) (bool, error) {
	for _, m := range matchers {
		if m == nil {
			continue
		}
		ok, err := m.Match(ctx, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Field is a candidate attribute a Pattern applies to.
type Field string

const (
	FieldName Field = "name"
	FieldType Field = "type"
	FieldID   Field = "id"
	FieldTest Field = "test"
)

// Pattern is one doublestar glob bound to a field.
type Pattern struct {
	Field Field
	Glob  string
}

// ParsePattern parses "[field=]glob". The field defaults to name.
func ParsePattern(expr string) (Pattern, error) {
	p := Pattern{Field: FieldName, Glob: expr}
	if field, glob, ok := strings.Cut(expr, "="); ok {
		p = Pattern{Field: Field(strings.ToLower(strings.TrimSpace(field))), Glob: glob}
	}

	switch p.Field {
	case FieldName, FieldType, FieldID, FieldTest:
	default:
		return Pattern{}, engine.NewValidationError(fmt.Sprintf("unknown match field %q in %q", p.Field, expr))
	}
	if p.Glob == "" || !doublestar.ValidatePattern(p.Glob) {
		return Pattern{}, engine.NewValidationError(fmt.Sprintf("invalid match pattern %q", expr))
	}
	return p, nil
}

func (p Pattern) values(c Candidate) []string {
	switch p.Field {
	case FieldType:
		return []string{c.Component.ComponentType}
	case FieldID:
		return []string{c.Component.ComponentID, c.Component.ID}
	case FieldTest:
		vals := make([]string, 0, 2*len(c.Mappings))
		for _, m := range c.Mappings {
			vals = append(vals, m.TestComponentID, m.TestComponentName)
		}
		return vals
	default:
		return []string{c.Component.ComponentName}
	}
}

func (p Pattern) match(c Candidate) bool {
	for _, v := range p.values(c) {
		if v == "" {
			continue
		}
		if ok, _ := doublestar.Match(p.Glob, v); ok {
			return true
		}
	}
	return false
}

// Selector accepts a candidate when any of its patterns matches. An empty
// Selector accepts everything.
type Selector struct {
	Patterns []Pattern
}

// NewSelector parses every expression with ParsePattern.
func NewSelector(exprs []string) (*Selector, error) {
	s := &Selector{}
	for _, e := range exprs {
		p, err := ParsePattern(e)
		if err != nil {
			return nil, err
		}
		s.Patterns = append(s.Patterns, p)
	}
	return s, nil
}

// Match implements Matcher.
func (s *Selector) Match(_ context.Context, c Candidate) (bool, error) {
	if len(s.Patterns) == 0 {
		return true, nil
	}
	for _, p := range s.Patterns {
		if p.match(c) {
			return true, nil
		}
	}
	return false, nil
}

// TestIDs returns the distinct test component ids of candidates, sorted. It is
// used to run every mapping of a component rather than only the oldest.
func TestIDs(candidates []Candidate) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range candidates {
		for _, m := range c.Mappings {
			if !seen[m.TestComponentID] {
				seen[m.TestComponentID] = true
				ids = append(ids, m.TestComponentID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
