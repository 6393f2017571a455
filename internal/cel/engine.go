// Package cel provides CEL expression compilation and evaluation for rule policies
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Engine compiles and evaluates CEL expressions with a compiled-program cache
type Engine struct {
	env      *cel.Env
	programs sync.Map // map[string]cel.Program
}

// EvalContext contains the variables available during CEL evaluation
type EvalContext struct {
	Identity map[string]interface{}
	Resource map[string]interface{}
	Context  map[string]interface{}
}

// NewEngine creates a CEL engine with authorization-specific functions
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("identity", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("I", cel.MapType(cel.StringType, cel.DynType)), // alias
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("R", cel.MapType(cel.StringType, cel.DynType)), // alias
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),

		// hasRole(identity, role) -> bool
		cel.Function("hasRole",
			cel.Overload("hasRole_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(hasRoleImpl),
			),
		),
		// isOwner(identity, resource) -> bool
		cel.Function("isOwner",
			cel.Overload("isOwner_map_map",
				[]*cel.Type{
					cel.MapType(cel.StringType, cel.DynType),
					cel.MapType(cel.StringType, cel.DynType),
				},
				cel.BoolType,
				cel.BinaryBinding(isOwnerImpl),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Compile compiles a CEL expression and caches the result
func (e *Engine) Compile(expr string) (cel.Program, error) {
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation failed: %w", issues.Err())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed: %w", err)
	}

	e.programs.Store(expr, prog)
	return prog, nil
}

// Evaluate evaluates a compiled program with the given context
func (e *Engine) Evaluate(prog cel.Program, ctx *EvalContext) (bool, error) {
	vars := map[string]interface{}{
		"identity": ctx.Identity,
		"I":        ctx.Identity,
		"resource": ctx.Resource,
		"R":        ctx.Resource,
		"context":  ctx.Context,
	}

	result, _, err := prog.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}

	if boolVal, ok := result.Value().(bool); ok {
		return boolVal, nil
	}
	return false, fmt.Errorf("CEL expression did not return boolean")
}

// EvaluateExpression compiles and evaluates an expression in one call
func (e *Engine) EvaluateExpression(expr string, ctx *EvalContext) (bool, error) {
	prog, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return e.Evaluate(prog, ctx)
}

// ClearCache clears the compiled program cache
func (e *Engine) ClearCache() {
	e.programs = sync.Map{}
}

func hasRoleImpl(lhs, rhs ref.Val) ref.Val {
	identityMap, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	role, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}

	switch roles := identityMap["roles"].(type) {
	case []string:
		for _, r := range roles {
			if r == role {
				return types.True
			}
		}
	case []interface{}:
		for _, r := range roles {
			if r == role {
				return types.True
			}
		}
	}
	return types.False
}

func isOwnerImpl(lhs, rhs ref.Val) ref.Val {
	identityMap, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	resourceMap, ok := rhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}

	identityID, _ := identityMap["id"].(string)
	owner, _ := resourceMap["owner"].(string)
	return types.Bool(identityID != "" && identityID == owner)
}
