package screenflow

import (
	"context"
	"fmt"
	"os"

	"github.com/deepnoodle-ai/screenflow/script"
	"gopkg.in/yaml.v3"
)

// Reducer names accepted in pipeline definitions.
const (
	ReducerReplace = "replace"
	ReducerAppend  = "append"
)

// Options are used to configure a pipeline.
type Options struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Stages      []*StageSpec      `json:"stages" yaml:"stages"`
	Reducers    map[string]string `json:"reducers,omitempty" yaml:"reducers,omitempty"`

	// Funcs binds stage implementations by name. Each StageSpec uses the
	// function named by its Func field, or its own Name when Func is empty.
	Funcs []Stage `json:"-" yaml:"-"`

	// Compiler compiles edge conditions. Defaults to the risor engine.
	Compiler script.Compiler `json:"-" yaml:"-"`
}

type compiledEdge struct {
	edge      *Edge
	condition script.Script
}

// Pipeline is a validated, immutable stage graph. It holds no runtime state.
type Pipeline struct {
	name         string
	description  string
	specs        []*StageSpec
	specsByName  map[string]*StageSpec
	funcs        map[string]Stage
	edges        map[string][]*compiledEdge
	reducers     map[string]Reducer
	reducerNames map[string]string
	start        *StageSpec
}

// New returns a new Pipeline configured with the given options.
func New(opts Options) (*Pipeline, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("pipeline name required")
	}
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("stages required")
	}
	if opts.Compiler == nil {
		opts.Compiler = script.NewRisorCompiler(script.ConditionGlobals())
	}

	funcs := make(map[string]Stage, len(opts.Funcs))
	for _, fn := range opts.Funcs {
		if fn == nil {
			return nil, fmt.Errorf("nil stage function")
		}
		funcs[fn.Name()] = fn
	}

	specsByName := make(map[string]*StageSpec, len(opts.Stages))
	for i, spec := range opts.Stages {
		if spec == nil {
			return nil, fmt.Errorf("stage %d is empty", i)
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("stage name required")
		}
		if spec.Name == End {
			return nil, fmt.Errorf("stage name %q is reserved", End)
		}
		if _, dup := specsByName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", spec.Name)
		}
		specsByName[spec.Name] = spec
	}

	if err := validateStages(opts.Stages, specsByName, funcs); err != nil {
		return nil, fmt.Errorf("pipeline validation failed: %w", err)
	}

	reducers := make(map[string]Reducer, len(opts.Reducers))
	for field, name := range opts.Reducers {
		switch name {
		case ReducerAppend:
			reducers[field] = AppendReducer
		case ReducerReplace, "":
			reducers[field] = ReplaceReducer
		default:
			return nil, fmt.Errorf("unknown reducer %q for field %q", name, field)
		}
	}

	edges := make(map[string][]*compiledEdge, len(opts.Stages))
	for _, spec := range opts.Stages {
		for _, edge := range spec.Next {
			ce := &compiledEdge{edge: edge}
			if edge.Condition != "" {
				compiled, err := opts.Compiler.Compile(context.Background(), edge.Condition)
				if err != nil {
					return nil, fmt.Errorf("stage %q: failed to compile condition %q: %w",
						spec.Name, edge.Condition, err)
				}
				ce.condition = compiled
			}
			edges[spec.Name] = append(edges[spec.Name], ce)
		}
	}

	return &Pipeline{
		name:         opts.Name,
		description:  opts.Description,
		specs:        opts.Stages,
		specsByName:  specsByName,
		funcs:        funcs,
		edges:        edges,
		reducers:     reducers,
		reducerNames: opts.Reducers,
		start:        opts.Stages[0],
	}, nil
}

// Name returns the pipeline name
func (p *Pipeline) Name() string {
	return p.name
}

// Description returns the pipeline description
func (p *Pipeline) Description() string {
	return p.description
}

// Start returns the name of the first stage
func (p *Pipeline) Start() string {
	return p.start.Name
}

// StageNames returns stage names in declaration order
func (p *Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.specs))
	for _, spec := range p.specs {
		names = append(names, spec.Name)
	}
	return names
}

// GetStage returns a stage declaration by name
func (p *Pipeline) GetStage(name string) (*StageSpec, bool) {
	spec, ok := p.specsByName[name]
	return spec, ok
}

// Reducers returns the per-field reducers
func (p *Pipeline) Reducers() map[string]Reducer {
	return p.reducers
}

// Route decides which stage runs after the named stage completed against the
// given state. Edges are evaluated in declaration order and the first match
// wins. End is returned when the stage is terminal or no edge matches.
func (p *Pipeline) Route(ctx context.Context, stage string, state State) (string, error) {
	spec, ok := p.specsByName[stage]
	if !ok {
		return "", fmt.Errorf("stage %q not found", stage)
	}
	if spec.End {
		return End, nil
	}
	for _, ce := range p.edges[stage] {
		if ce.condition == nil {
			return ce.edge.Stage, nil
		}
		value, err := ce.condition.Evaluate(ctx, map[string]any{"state": map[string]any(state.Clone())})
		if err != nil {
			return "", fmt.Errorf("stage %q: failed to evaluate condition %q: %w",
				stage, ce.edge.Condition, err)
		}
		if value.IsTruthy() {
			return ce.edge.Stage, nil
		}
	}
	return End, nil
}

// stageFunc returns the implementation bound to a stage.
func (p *Pipeline) stageFunc(name string) (Stage, bool) {
	spec, ok := p.specsByName[name]
	if !ok {
		return nil, false
	}
	fn, ok := p.funcs[spec.funcName()]
	return fn, ok
}

// validateStages validates the pipeline stage structure
func validateStages(specs []*StageSpec, specsByName map[string]*StageSpec, funcs map[string]Stage) error {
	for _, spec := range specs {
		if _, ok := funcs[spec.funcName()]; !ok {
			return fmt.Errorf("stage %q: function %q not registered", spec.Name, spec.funcName())
		}
		if spec.End && len(spec.Next) > 0 {
			return fmt.Errorf("stage %q: end stage cannot declare next stages", spec.Name)
		}
		for i, edge := range spec.Next {
			if edge == nil {
				return fmt.Errorf("stage %q: next entry %d is empty", spec.Name, i)
			}
			if _, ok := specsByName[edge.Stage]; !ok {
				return fmt.Errorf("edge to stage %q not found", edge.Stage)
			}
		}
	}
	return nil
}

// LoadFile loads a pipeline definition from a YAML file and binds the given
// stage functions
func LoadFile(path string, funcs ...Stage) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return LoadString(string(data), funcs...)
}

// LoadString loads a pipeline definition from a YAML string and binds the
// given stage functions
func LoadString(data string, funcs ...Stage) (*Pipeline, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline file: %w", err)
	}
	opts.Funcs = funcs
	return New(opts)
}
