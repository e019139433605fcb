package route

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates boolean routing conditions against run state.
// It caches compiled expressions so repeated evaluations of the same
// condition only pay the compile cost once.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a new expression evaluator with an empty cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates a condition against the given environment.
// An empty condition evaluates to true.
//
// The environment typically contains the run state under "state":
//
//	env := map[string]any{
//	    "state": map[string]any{"score": 0.9, "retries": 1},
//	}
//	ok, err := eval.Evaluate(`state.score >= 0.8`, env)
func (e *Evaluator) Evaluate(condition string, env map[string]any) (bool, error) {
	if condition == "" {
		return true, nil
	}

	program, err := e.compile(condition)
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", condition, err)
	}

	// Merge custom functions into the runtime environment.
	// "contains" is reserved in expr for string operations.
	evalEnv := make(map[string]any, len(env)+3)
	for k, v := range env {
		evalEnv[k] = v
	}
	evalEnv["has"] = containsFunc
	evalEnv["includes"] = containsFunc
	evalEnv["length"] = lenFunc

	result, err := expr.Run(program, evalEnv)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q must return boolean, got %T (%v)", condition, result, result)
	}

	return boolResult, nil
}

// compile compiles a condition and caches the result.
func (e *Evaluator) compile(condition string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[condition]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	env := map[string]any{
		"has":      containsFunc,
		"includes": containsFunc,
		"length":   lenFunc,
	}

	prog, err := expr.Compile(condition,
		expr.Env(env),
		// State is passed at runtime, so unknown variables are allowed
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[condition] = prog
	e.mu.Unlock()

	return prog, nil
}

// ClearCache clears the compiled expression cache.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize returns the number of cached expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
