package selection

import (
	"context"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/ato-project/ato/pkg/engine"
)

// DefaultScriptTimeout bounds one predicate call.
const DefaultScriptTimeout = 5 * time.Second

// Script is a Starlark program defining select(component) -> bool.
//
// The component argument is a struct with the fields id, component_id, name,
// type, version and tests. tests is a list of structs with id, name, deployed
// and package. The helper glob(pattern, value) matches doublestar patterns.
type Script struct {
	name    string
	fn      *starlark.Function
	timeout time.Duration
}

// NewScript compiles src. name is used in error positions.
func NewScript(name, src string, timeout time.Duration) (*Script, error) {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	thread := newThread(name)
	globals, err := starlark.ExecFile(thread, name, src, predeclared())
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("failed to load selection script: %v", err)).WithResource(name)
	}

	fn, ok := globals["select"].(*starlark.Function)
	if !ok {
		return nil, engine.NewValidationError("selection script must define select(component)").WithResource(name)
	}
	if fn.NumParams() != 1 {
		return nil, engine.NewValidationError(
			fmt.Sprintf("select must take exactly one parameter, got %d", fn.NumParams())).WithResource(name)
	}

	globals.Freeze()
	return &Script{name: name, fn: fn, timeout: timeout}, nil
}

// Match implements Matcher by calling select with the candidate.
func (s *Script) Match(ctx context.Context, c Candidate) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := newThread(s.name)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(fmt.Sprintf("selection script timed out after %v", s.timeout))
	})
	defer stop()

	res, err := starlark.Call(thread, s.fn, starlark.Tuple{candidateValue(c)}, nil)
	if err != nil {
		return false, engine.NewValidationError(fmt.Sprintf("select(%s) failed: %v", c.Component.ComponentID, err)).
			WithResource(s.name)
	}

	b, ok := res.(starlark.Bool)
	if !ok {
		return false, engine.NewValidationError(
			fmt.Sprintf("select must return a bool, got %s", res.Type())).WithResource(s.name)
	}
	return bool(b), nil
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name:  name,
		Print: func(*starlark.Thread, string) {},
	}
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"glob":   starlark.NewBuiltin("glob", builtinGlob),
	}
}

// candidateValue exposes a candidate to Starlark.
func candidateValue(c Candidate) starlark.Value {
	tests := make([]starlark.Value, 0, len(c.Mappings))
	for _, m := range c.Mappings {
		tests = append(tests, starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"id":       starlark.String(m.TestComponentID),
			"name":     starlark.String(m.TestComponentName),
			"deployed": starlark.Bool(m.IsDeployed),
			"package":  starlark.Bool(m.IsPackage),
		}))
	}

	pc := c.Component
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":           starlark.String(pc.ID),
		"component_id": starlark.String(pc.ComponentID),
		"name":         starlark.String(pc.ComponentName),
		"type":         starlark.String(pc.ComponentType),
		"version":      starlark.MakeInt(pc.Version),
		"tests":        starlark.NewList(tests),
	})
}

// builtinGlob implements glob(pattern, value).
func builtinGlob(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, value string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "value", &value); err != nil {
		return nil, err
	}
	ok, err := doublestar.Match(pattern, value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Bool(ok), nil
}
