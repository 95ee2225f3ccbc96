package script

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// StateGlobal is the name under which the pipeline state is visible to
// conditions.
const StateGlobal = "state"

// conditionBuiltins are the risor builtins a routing condition may call.
// None of them reach outside the process or depend on the clock.
var conditionBuiltins = []string{
	"all", "any", "bool", "coalesce", "float", "getattr", "int", "keys",
	"len", "list", "map", "math", "regexp", "reversed", "set", "sorted",
	"sprintf", "string", "strings", "type",
}

// ConditionGlobals returns the globals a condition is compiled against: the
// allowed builtins plus an empty placeholder for the state.
func ConditionGlobals() map[string]any {
	builtins := all.Builtins()
	globals := make(map[string]any, len(conditionBuiltins)+1)
	for _, name := range conditionBuiltins {
		if fn, ok := builtins[name]; ok {
			globals[name] = fn
		}
	}
	globals[StateGlobal] = object.NewMap(map[string]object.Object{})
	return globals
}

// RisorCompiler compiles risor expressions against a fixed set of global
// names. Globals supplied at evaluation time must be declared up front, so a
// condition that refers to an unknown name fails when the pipeline is built.
type RisorCompiler struct {
	globals map[string]any
	names   []string
}

// NewRisorCompiler returns a compiler for the given globals.
func NewRisorCompiler(globals map[string]any) *RisorCompiler {
	return &RisorCompiler{globals: globals, names: slices.Sorted(maps.Keys(globals))}
}

func (c *RisorCompiler) Compile(ctx context.Context, code string) (Script, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("empty condition")
	}
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to parse condition: %w", err)
	}
	compiled, err := compiler.Compile(ast, compiler.WithGlobalNames(c.names))
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", err)
	}
	return &risorCondition{compiler: c, code: compiled}, nil
}

type risorCondition struct {
	compiler *RisorCompiler
	code     *compiler.Code
}

func (s *risorCondition) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	merged := maps.Clone(s.compiler.globals)
	for name, value := range globals {
		if _, ok := merged[name]; !ok {
			return nil, fmt.Errorf("undeclared global %q", name)
		}
		merged[name] = value
	}
	result, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(merged))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate condition: %w", err)
	}
	return risorValue{obj: result}, nil
}

type risorValue struct {
	obj object.Object
}

func (v risorValue) Value() any {
	return toGo(v.obj)
}

// IsTruthy follows risor except that the string "false" is false, since
// state decoded from loosely typed sources may carry booleans as strings.
func (v risorValue) IsTruthy() bool {
	switch obj := v.obj.(type) {
	case *object.String:
		s := obj.Value()
		return s != "" && !strings.EqualFold(s, "false")
	case *object.Float:
		return obj.Value() != 0
	default:
		return obj.IsTruthy()
	}
}

func toGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.NilType:
		return nil
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.List:
		out := make([]any, 0, len(o.Value()))
		for _, item := range o.Value() {
			out = append(out, toGo(item))
		}
		return out
	case *object.Set:
		out := make([]any, 0, len(o.Value()))
		for _, item := range o.Value() {
			out = append(out, toGo(item))
		}
		return out
	case *object.Map:
		out := make(map[string]any, len(o.Value()))
		for key, value := range o.Value() {
			out[key] = toGo(value)
		}
		return out
	default:
		return obj.Inspect()
	}
}
