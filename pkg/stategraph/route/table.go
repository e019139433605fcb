package route

import (
	"encoding/json"
	"fmt"

	"github.com/stategraph/stategraph/pkg/stategraph"
)

// Rule is a single routing rule: when the condition holds, go to the target.
// An empty When always matches, which makes it useful as a final catch-all.
type Rule struct {
	// When is a boolean expr condition evaluated against the run state.
	When string `json:"when" yaml:"when"`

	// Goto is the target node ID (or stategraph.END).
	Goto string `json:"goto" yaml:"goto"`
}

// Table is an ordered list of routing rules with an optional default target.
// Rules are evaluated in order; the first match wins.
type Table struct {
	rules     []Rule
	defaultTo string
	evaluator *Evaluator
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithDefault sets the target used when no rule matches.
func WithDefault(target string) TableOption {
	return func(t *Table) {
		t.defaultTo = target
	}
}

// WithEvaluator sets a shared evaluator, so multiple tables can share one
// compile cache. By default each table has its own.
func WithEvaluator(e *Evaluator) TableOption {
	return func(t *Table) {
		t.evaluator = e
	}
}

// NewTable creates a routing table and compiles all rule conditions upfront,
// so syntax errors surface at build time rather than mid-run.
func NewTable(rules []Rule, opts ...TableOption) (*Table, error) {
	t := &Table{
		rules:     rules,
		evaluator: NewEvaluator(),
	}
	for _, opt := range opts {
		opt(t)
	}

	for i, rule := range rules {
		if rule.Goto == "" {
			return nil, fmt.Errorf("rule %d: goto target is required", i)
		}
		if rule.When == "" {
			continue
		}
		if _, err := t.evaluator.compile(rule.When); err != nil {
			return nil, fmt.Errorf("rule %d: compile condition %q: %w", i, rule.When, err)
		}
	}

	return t, nil
}

// Rules returns a copy of the table's rules.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Default returns the target used when no rule matches.
func (t *Table) Default() string {
	return t.defaultTo
}

// Next evaluates the rules against the environment and returns the target of
// the first matching rule, or the default if none match. Returns an error if
// no rule matches and no default is set.
func (t *Table) Next(env map[string]any) (string, error) {
	for i, rule := range t.rules {
		match, err := t.evaluator.Evaluate(rule.When, env)
		if err != nil {
			return "", fmt.Errorf("rule %d: %w", i, err)
		}
		if match {
			return rule.Goto, nil
		}
	}
	if t.defaultTo != "" {
		return t.defaultTo, nil
	}
	return "", fmt.Errorf("no rule matched and no default target set")
}

// StateEnv converts a state value into the expression environment.
// The state is placed under the "state" key as a JSON-shaped map, so
// expressions read it as state.field regardless of the Go state type.
func StateEnv(state any) (map[string]any, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state for routing: %w", err)
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal state for routing: %w", err)
	}
	return map[string]any{"state": m}, nil
}

// Bind adapts a routing table to a graph router function.
//
// Because routing happens mid-run, evaluation failures cannot be returned
// as errors; they are logged and the default target is returned. With no
// default set, an empty route is returned, which the executor reports as
// an invalid routing decision for the node.
func Bind[S any](table *Table) stategraph.RouterFunc[S] {
	return func(ctx stategraph.Context, state S) string {
		env, err := StateEnv(state)
		if err != nil {
			ctx.Logger().Error("routing table state conversion failed", "error", err)
			return table.defaultTo
		}
		next, err := table.Next(env)
		if err != nil {
			ctx.Logger().Error("routing table evaluation failed", "error", err)
			return table.defaultTo
		}
		return next
	}
}
