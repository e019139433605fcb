// Package route provides expression-based routing rules for graph edges.
//
// It uses the expr-lang/expr library to evaluate boolean conditions against
// run state, so routing decisions can be declared as data (for example in a
// YAML graph definition) instead of hand-written router functions.
//
// A Table is an ordered list of rules. The first rule whose condition
// evaluates true decides the next node; if none match, the table's default
// target is used:
//
//	table, err := route.NewTable([]route.Rule{
//	    {When: `state.score >= 0.8`, Goto: "approve"},
//	    {When: `state.retries < 3`, Goto: "retry"},
//	}, route.WithDefault("reject"))
//
//	g.AddConditionalEdge("review", route.Bind[State](table))
//
// Expressions see the run state under the "state" namespace and support:
//
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Membership: "value" in array (built-in operator)
//   - Custom functions: has(array, element), includes(array, element), length(v)
//
// Compiled expressions are cached, so repeated evaluation of the same rule
// only compiles once.
//
// Note: expr reserves "contains" as a string operator (substring matching),
// so use "in" or has() for array membership checks.
package route
