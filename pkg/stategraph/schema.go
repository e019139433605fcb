package stategraph

import (
	"fmt"
	"sort"
	"strings"
)

// SchemaEdge describes a single unconditional edge.
type SchemaEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Schema is a serializable description of a compiled graph's structure.
// It contains no node functions, only topology, so it can be marshaled
// to JSON for API responses or visualization tooling.
type Schema struct {
	Entry string       `json:"entry"`
	Nodes []string     `json:"nodes"`
	Edges []SchemaEdge `json:"edges"`
	// Conditional lists nodes whose next step is decided by a router
	// at runtime. Their possible targets are not statically known.
	Conditional []string `json:"conditional,omitempty"`
}

// Schema returns a serializable description of the graph structure.
// Node and edge lists are sorted for stable output.
func (cg *CompiledGraph[S]) Schema() Schema {
	s := Schema{
		Entry: cg.entryPoint,
		Nodes: cg.NodeIDs(),
	}
	sort.Strings(s.Nodes)

	for from, targets := range cg.edges {
		for _, to := range targets {
			s.Edges = append(s.Edges, SchemaEdge{From: from, To: to})
		}
	}
	sort.Slice(s.Edges, func(i, j int) bool {
		if s.Edges[i].From != s.Edges[j].From {
			return s.Edges[i].From < s.Edges[j].From
		}
		return s.Edges[i].To < s.Edges[j].To
	})

	for from := range cg.conditionalEdges {
		s.Conditional = append(s.Conditional, from)
	}
	sort.Strings(s.Conditional)

	return s
}

// Mermaid renders the graph as a Mermaid flowchart definition.
// Conditional edges are drawn as dotted arrows to a decision marker,
// since their targets are runtime-determined.
func (cg *CompiledGraph[S]) Mermaid() string {
	schema := cg.Schema()

	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString(fmt.Sprintf("    __start__([start]) --> %s\n", mermaidID(schema.Entry)))

	for _, e := range schema.Edges {
		if e.To == END {
			b.WriteString(fmt.Sprintf("    %s --> __end__([end])\n", mermaidID(e.From)))
			continue
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidID(e.From), mermaidID(e.To)))
	}

	for _, from := range schema.Conditional {
		b.WriteString(fmt.Sprintf("    %s -.-> %s{route}\n", mermaidID(from), mermaidID(from)+"_router"))
	}

	return b.String()
}

// mermaidID sanitizes a node ID for use in Mermaid syntax.
func mermaidID(id string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(id)
}
