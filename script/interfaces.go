// Package script compiles and evaluates the small expressions used to route
// between pipeline stages.
package script

import (
	"context"
)

// Value is the result of evaluating a Script.
type Value interface {
	// Value returns the result as a plain Go value.
	Value() any

	// IsTruthy reports whether the result selects an edge.
	IsTruthy() bool
}

// Script is a compiled expression.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler compiles source code into a Script.
type Compiler interface {
	Compile(ctx context.Context, code string) (Script, error)
}
