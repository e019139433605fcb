package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stategraph/stategraph/pkg/stategraph"
	"github.com/stategraph/stategraph/pkg/stategraph/config"
	"github.com/stategraph/stategraph/pkg/stategraph/registry"
	"github.com/stategraph/stategraph/pkg/stategraph/route"
)

const pipelineSpec = `
name: review-pipeline
entry: score
nodes:
  - id: score
    handler: set
    params:
      key: scored
      value: true
  - id: publish
    handler: set
    params:
      key: path
      value: publish
  - id: review
    handler: set
    params:
      key: path
      value: review
routes:
  - from: score
    rules:
      - when: state.score >= 0.8
        goto: publish
    default: review
edges:
  - from: publish
    to: end
  - from: review
    to: end
`

// setFactory builds a node that writes params key/value into the state.
func setFactory(params config.Config) (stategraph.NodeFunc[config.State], error) {
	key := params.String("key", "")
	value := params.Any("value", nil)
	return func(_ stategraph.Context, s config.State) (config.State, error) {
		out := make(config.State, len(s)+1)
		for k, v := range s {
			out[k] = v
		}
		out[key] = value
		return out, nil
	}, nil
}

func testFactories() *registry.Registry[string, config.NodeFactory] {
	factories := registry.New[string, config.NodeFactory]()
	factories.Register("set", setFactory)
	return factories
}

func TestParseGraphSpec(t *testing.T) {
	spec, err := config.ParseGraphSpec([]byte(pipelineSpec))
	require.NoError(t, err)

	assert.Equal(t, "review-pipeline", spec.Name)
	assert.Equal(t, "score", spec.Entry)
	assert.Len(t, spec.Nodes, 3)
	assert.Len(t, spec.Routes, 1)
	assert.Len(t, spec.Edges, 2)
	assert.Equal(t, "set", spec.Nodes[0].Handler)
	assert.Equal(t, "state.score >= 0.8", spec.Routes[0].Rules[0].When)
}

func TestParseGraphSpec_UnknownFieldRejected(t *testing.T) {
	_, err := config.ParseGraphSpec([]byte(`
name: typo
entry: a
nodes:
  - id: a
    handler: set
edgez:
  - from: a
    to: end
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse graph spec")
}

func TestParseGraphSpec_InvalidYAML(t *testing.T) {
	_, err := config.ParseGraphSpec([]byte("nodes: ["))
	assert.Error(t, err)
}

func TestGraphSpec_Validate(t *testing.T) {
	base := func() *config.GraphSpec {
		return &config.GraphSpec{
			Name:  "g",
			Entry: "a",
			Nodes: []config.NodeSpec{
				{ID: "a", Handler: "set"},
				{ID: "b", Handler: "set"},
			},
			Edges: []config.EdgeSpec{
				{From: "a", To: "b"},
				{From: "b", To: "end"},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("no nodes", func(t *testing.T) {
		spec := base()
		spec.Nodes = nil
		err := spec.Validate()
		assert.ErrorContains(t, err, "at least one node")
	})

	t.Run("missing entry", func(t *testing.T) {
		spec := base()
		spec.Entry = ""
		assert.ErrorContains(t, spec.Validate(), "entry is required")
	})

	t.Run("entry not declared", func(t *testing.T) {
		spec := base()
		spec.Entry = "ghost"
		assert.ErrorContains(t, spec.Validate(), `entry "ghost" is not a declared node`)
	})

	t.Run("node without id", func(t *testing.T) {
		spec := base()
		spec.Nodes[1].ID = ""
		assert.ErrorContains(t, spec.Validate(), "id is required")
	})

	t.Run("node without handler", func(t *testing.T) {
		spec := base()
		spec.Nodes[1].Handler = ""
		assert.ErrorContains(t, spec.Validate(), "handler is required")
	})

	t.Run("duplicate node id", func(t *testing.T) {
		spec := base()
		spec.Nodes[1].ID = "a"
		assert.ErrorContains(t, spec.Validate(), "duplicate node id")
	})

	t.Run("edge from unknown node", func(t *testing.T) {
		spec := base()
		spec.Edges = append(spec.Edges, config.EdgeSpec{From: "ghost", To: "a"})
		assert.ErrorContains(t, spec.Validate(), `edge from unknown node "ghost"`)
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		spec := base()
		spec.Edges = append(spec.Edges, config.EdgeSpec{From: "a", To: "ghost"})
		assert.ErrorContains(t, spec.Validate(), `edge to unknown node "ghost"`)
	})

	t.Run("route without rules or default", func(t *testing.T) {
		spec := base()
		spec.Routes = []config.RouteSpec{{From: "a"}}
		assert.ErrorContains(t, spec.Validate(), "no rules and no default")
	})

	t.Run("route rule without goto", func(t *testing.T) {
		spec := base()
		spec.Routes = []config.RouteSpec{{From: "a", Rules: []route.Rule{{When: "state.ok"}}}}
		assert.ErrorContains(t, spec.Validate(), "goto is required")
	})

	t.Run("route rule unknown target", func(t *testing.T) {
		spec := base()
		spec.Routes = []config.RouteSpec{{From: "a", Rules: []route.Rule{{Goto: "ghost"}}}}
		assert.ErrorContains(t, spec.Validate(), `unknown target "ghost"`)
	})

	t.Run("route unknown target", func(t *testing.T) {
		spec := base()
		spec.Routes = []config.RouteSpec{{From: "a", Default: "ghost"}}
		assert.ErrorContains(t, spec.Validate(), `unknown default "ghost"`)
	})

	t.Run("interrupt_before unknown node", func(t *testing.T) {
		spec := base()
		spec.InterruptBefore = []string{"ghost"}
		assert.ErrorContains(t, spec.Validate(), "interrupt_before names unknown node")
	})

	t.Run("interrupt_after unknown node", func(t *testing.T) {
		spec := base()
		spec.InterruptAfter = []string{"ghost"}
		assert.ErrorContains(t, spec.Validate(), "interrupt_after names unknown node")
	})
}

func TestGraphSpec_Build_AndRun(t *testing.T) {
	spec, err := config.ParseGraphSpec([]byte(pipelineSpec))
	require.NoError(t, err)

	graph, err := spec.Build(testFactories())
	require.NoError(t, err)

	compiled, err := graph.Compile()
	require.NoError(t, err)

	t.Run("high score routes to publish", func(t *testing.T) {
		result, err := compiled.Run(stategraph.NewContext(context.Background()), config.State{"score": 0.9})
		require.NoError(t, err)
		assert.Equal(t, "publish", result["path"])
		assert.Equal(t, true, result["scored"])
	})

	t.Run("low score routes to review", func(t *testing.T) {
		result, err := compiled.Run(stategraph.NewContext(context.Background()), config.State{"score": 0.2})
		require.NoError(t, err)
		assert.Equal(t, "review", result["path"])
	})
}

func TestGraphSpec_Build_VarsExpansion(t *testing.T) {
	spec, err := config.ParseGraphSpec([]byte(`
name: tagged
entry: tag
vars:
  env:
    name: staging
nodes:
  - id: tag
    handler: set
    params:
      key: target
      value: deploy-${env.name}
edges:
  - from: tag
    to: end
`))
	require.NoError(t, err)

	graph, err := spec.Build(testFactories())
	require.NoError(t, err)

	compiled, err := graph.Compile()
	require.NoError(t, err)

	result, err := compiled.Run(stategraph.NewContext(context.Background()), config.State{})
	require.NoError(t, err)
	assert.Equal(t, "deploy-staging", result["target"])
}

func TestGraphSpec_Build_VarsMissingKept(t *testing.T) {
	spec, err := config.ParseGraphSpec([]byte(`
name: tagged
entry: tag
vars:
  region: eu-west-1
nodes:
  - id: tag
    handler: set
    params:
      key: target
      value: deploy-${env.name}
edges:
  - from: tag
    to: end
`))
	require.NoError(t, err)

	graph, err := spec.Build(testFactories())
	require.NoError(t, err)

	compiled, err := graph.Compile()
	require.NoError(t, err)

	result, err := compiled.Run(stategraph.NewContext(context.Background()), config.State{})
	require.NoError(t, err)
	assert.Equal(t, "deploy-${env.name}", result["target"])
}

func TestGraphSpec_Build_MissingFactory(t *testing.T) {
	spec, err := config.ParseGraphSpec([]byte(pipelineSpec))
	require.NoError(t, err)

	_, err = spec.Build(registry.New[string, config.NodeFactory]())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no factory registered for handler "set"`)
}

func TestGraphSpec_Build_BadRouteCondition(t *testing.T) {
	spec := &config.GraphSpec{
		Name:  "g",
		Entry: "a",
		Nodes: []config.NodeSpec{
			{ID: "a", Handler: "set"},
			{ID: "b", Handler: "set"},
		},
		Routes: []config.RouteSpec{
			{From: "a", Rules: []route.Rule{{When: "state.score >=", Goto: "b"}}},
		},
	}

	_, err := spec.Build(testFactories())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `route from "a"`)
}

func TestGraphSpec_RunOptions(t *testing.T) {
	spec := &config.GraphSpec{
		InterruptBefore: []string{"approve"},
		InterruptAfter:  []string{"deploy"},
		MaxIterations:   50,
	}
	assert.Len(t, spec.RunOptions(), 3)

	empty := &config.GraphSpec{}
	assert.Empty(t, empty.RunOptions())
}

func TestLoadGraphSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineSpec), 0o644))

	spec, err := config.LoadGraphSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "review-pipeline", spec.Name)

	_, err = config.LoadGraphSpec(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
