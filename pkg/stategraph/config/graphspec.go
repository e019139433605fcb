package config

import (
	"fmt"
	"strings"

	"github.com/stategraph/stategraph/pkg/stategraph"
	"github.com/stategraph/stategraph/pkg/stategraph/registry"
	"github.com/stategraph/stategraph/pkg/stategraph/route"
	"github.com/stategraph/stategraph/pkg/stategraph/template"
)

// State is the dynamic state type for declarative graphs.
// Handlers built from a GraphSpec read and write plain maps.
type State = map[string]any

// NodeFactory builds a node handler from declarative params.
// Factories are registered by handler type and looked up during Build.
type NodeFactory func(params Config) (stategraph.NodeFunc[State], error)

// GraphSpec is a declarative graph definition, typically loaded from YAML.
type GraphSpec struct {
	// Name identifies the graph.
	Name string `yaml:"name" json:"name"`

	// Entry is the node where runs start.
	Entry string `yaml:"entry" json:"entry"`

	// Vars are substituted into node params at Build time: ${dotted.path}
	// and $name placeholders in string values resolve against this map.
	// Unresolved placeholders are left as written.
	Vars map[string]any `yaml:"vars" json:"vars"`

	// Nodes lists the graph's nodes.
	Nodes []NodeSpec `yaml:"nodes" json:"nodes"`

	// Edges lists unconditional edges.
	Edges []EdgeSpec `yaml:"edges" json:"edges"`

	// Routes lists conditional edges driven by expression rules.
	Routes []RouteSpec `yaml:"routes" json:"routes"`

	// InterruptBefore names nodes that pause the run before executing.
	InterruptBefore []string `yaml:"interrupt_before" json:"interrupt_before"`

	// InterruptAfter names nodes that pause the run after executing.
	InterruptAfter []string `yaml:"interrupt_after" json:"interrupt_after"`

	// MaxIterations caps run length. Zero means the engine default.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

// NodeSpec declares a single node.
type NodeSpec struct {
	// ID is the node's unique identifier in the graph.
	ID string `yaml:"id" json:"id"`

	// Handler names the registered node factory.
	Handler string `yaml:"handler" json:"handler"`

	// Params is passed to the factory as a typed Config.
	Params map[string]any `yaml:"params" json:"params"`
}

// EdgeSpec declares an unconditional edge.
type EdgeSpec struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// RouteSpec declares a conditional edge as an ordered rule table.
type RouteSpec struct {
	// From is the node whose successor the rules decide.
	From string `yaml:"from" json:"from"`

	// Rules are evaluated in order; the first match wins.
	Rules []route.Rule `yaml:"rules" json:"rules"`

	// Default is the target when no rule matches.
	Default string `yaml:"default" json:"default"`
}

// Validate checks the spec for structural problems that don't need a
// factory registry: missing entry, duplicate or unknown node references,
// empty rule targets.
func (s *GraphSpec) Validate() error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("graph spec %q: at least one node is required", s.Name)
	}
	if s.Entry == "" {
		return fmt.Errorf("graph spec %q: entry is required", s.Name)
	}

	ids := make(map[string]bool, len(s.Nodes))
	for i, node := range s.Nodes {
		if node.ID == "" {
			return fmt.Errorf("graph spec %q: node %d: id is required", s.Name, i)
		}
		if node.Handler == "" {
			return fmt.Errorf("graph spec %q: node %q: handler is required", s.Name, node.ID)
		}
		if ids[node.ID] {
			return fmt.Errorf("graph spec %q: duplicate node id %q", s.Name, node.ID)
		}
		ids[node.ID] = true
	}

	if !ids[s.Entry] {
		return fmt.Errorf("graph spec %q: entry %q is not a declared node", s.Name, s.Entry)
	}

	known := func(target string) bool {
		return ids[target] || isEnd(target)
	}

	for _, edge := range s.Edges {
		if !ids[edge.From] {
			return fmt.Errorf("graph spec %q: edge from unknown node %q", s.Name, edge.From)
		}
		if !known(edge.To) {
			return fmt.Errorf("graph spec %q: edge to unknown node %q", s.Name, edge.To)
		}
	}

	for _, rt := range s.Routes {
		if !ids[rt.From] {
			return fmt.Errorf("graph spec %q: route from unknown node %q", s.Name, rt.From)
		}
		if len(rt.Rules) == 0 && rt.Default == "" {
			return fmt.Errorf("graph spec %q: route from %q has no rules and no default", s.Name, rt.From)
		}
		for i, rule := range rt.Rules {
			if rule.Goto == "" {
				return fmt.Errorf("graph spec %q: route from %q: rule %d: goto is required", s.Name, rt.From, i)
			}
			if !known(rule.Goto) {
				return fmt.Errorf("graph spec %q: route from %q: rule %d: unknown target %q", s.Name, rt.From, i, rule.Goto)
			}
		}
		if rt.Default != "" && !known(rt.Default) {
			return fmt.Errorf("graph spec %q: route from %q: unknown default %q", s.Name, rt.From, rt.Default)
		}
	}

	for _, id := range s.InterruptBefore {
		if !ids[id] {
			return fmt.Errorf("graph spec %q: interrupt_before names unknown node %q", s.Name, id)
		}
	}
	for _, id := range s.InterruptAfter {
		if !ids[id] {
			return fmt.Errorf("graph spec %q: interrupt_after names unknown node %q", s.Name, id)
		}
	}

	return nil
}

// Build constructs a graph builder from the spec using the given node
// factories. All routing tables share one expression compile cache.
func (s *GraphSpec) Build(factories *registry.Registry[string, NodeFactory]) (*stategraph.Graph[State], error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	g := stategraph.NewGraph[State]()

	for _, node := range s.Nodes {
		factory, ok := factories.Get(node.Handler)
		if !ok {
			return nil, fmt.Errorf("graph spec %q: node %q: no factory registered for handler %q",
				s.Name, node.ID, node.Handler)
		}
		params := node.Params
		if len(s.Vars) > 0 {
			params = template.ExpandMap(params, s.Vars)
		}
		fn, err := factory(New(params))
		if err != nil {
			return nil, fmt.Errorf("graph spec %q: node %q: factory %q: %w",
				s.Name, node.ID, node.Handler, err)
		}
		g.AddNode(node.ID, fn)
	}

	for _, edge := range s.Edges {
		g.AddEdge(edge.From, normalizeTarget(edge.To))
	}

	evaluator := route.NewEvaluator()
	for _, rt := range s.Routes {
		rules := make([]route.Rule, len(rt.Rules))
		for i, rule := range rt.Rules {
			rules[i] = route.Rule{When: rule.When, Goto: normalizeTarget(rule.Goto)}
		}
		table, err := route.NewTable(rules,
			route.WithDefault(normalizeTarget(rt.Default)),
			route.WithEvaluator(evaluator),
		)
		if err != nil {
			return nil, fmt.Errorf("graph spec %q: route from %q: %w", s.Name, rt.From, err)
		}
		g.AddConditionalEdge(rt.From, route.Bind[State](table))
	}

	g.SetEntry(s.Entry)

	return g, nil
}

// RunOptions returns the run options implied by the spec:
// interrupt points and the iteration cap.
func (s *GraphSpec) RunOptions() []stategraph.RunOption {
	var opts []stategraph.RunOption
	if len(s.InterruptBefore) > 0 {
		opts = append(opts, stategraph.WithInterruptBefore(s.InterruptBefore...))
	}
	if len(s.InterruptAfter) > 0 {
		opts = append(opts, stategraph.WithInterruptAfter(s.InterruptAfter...))
	}
	if s.MaxIterations > 0 {
		opts = append(opts, stategraph.WithMaxIterations(s.MaxIterations))
	}
	return opts
}

// isEnd reports whether a target names the terminal pseudo-node.
func isEnd(target string) bool {
	switch strings.ToLower(target) {
	case "end", stategraph.END:
		return true
	}
	return false
}

// normalizeTarget maps the spelled-out end target to the engine's
// END sentinel and leaves node IDs untouched.
func normalizeTarget(target string) string {
	if isEnd(target) {
		return stategraph.END
	}
	return target
}
