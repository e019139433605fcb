/*
Package config provides declarative graph definitions and type-safe
configuration extraction from map[string]any.

# Overview

config has two halves. Config wraps a map[string]any with typed accessor
methods that handle missing keys and type mismatches by returning defaults,
which keeps node factories free of verbose type assertions. GraphSpec is a
YAML/JSON graph definition that builds into a runnable Graph against a
registry of node factories.

# Typed Accessors

Create a Config from any map and extract values with defaults:

	cfg := config.New(map[string]any{
	    "timeout": "30s",
	    "retries": 3,
	    "enabled": true,
	})

	timeout := cfg.Duration("timeout", 10*time.Second) // 30s
	retries := cfg.Int("retries", 5)                   // 3
	enabled := cfg.Bool("enabled", false)              // true
	missing := cfg.String("missing", "default")        // "default"

Duration handles multiple input types: strings are parsed with
time.ParseDuration, numbers are interpreted as seconds. Numeric accessors
perform lossless conversions only; a float with a fractional part does not
convert to int.

# Declarative Graphs

A GraphSpec names nodes by handler type, wires edges and expression-based
routes, and marks interrupt points:

	name: approval
	entry: fetch
	vars:
	  api:
	    base: "https://api.example.com"
	nodes:
	  - id: fetch
	    handler: http_fetch
	    params:
	      url: "${api.base}/orders/${state.order_id}"
	  - id: review
	    handler: score
	edges:
	  - {from: fetch, to: review}
	routes:
	  - from: review
	    rules:
	      - {when: "state.score >= 0.8", goto: approve}
	    default: reject
	interrupt_before: [approve]

Build it against registered node factories:

	factories := registry.New[string, config.NodeFactory]()
	factories.Register("http_fetch", newHTTPFetchNode)
	factories.Register("score", newScoreNode)

	spec, err := config.LoadGraphSpec("approval.yaml")
	g, err := spec.Build(factories)
	compiled, err := g.Compile()

	result, err := compiled.Run(ctx, initialState, spec.RunOptions()...)

Declarative graphs run over the dynamic state type config.State
(map[string]any). Build expands node params against the spec's vars map
using the template package's ${path} placeholders; placeholders that
name nothing in vars (such as ${state.order_id} above) survive
expansion, so factories can resolve them per run with template.Expand.

# File Loading

Load plain configuration from YAML or JSON files:

	cfg, err := config.FromFile("config.yaml")

	// Or load from bytes
	cfg, err = config.FromYAML(yamlBytes)
	cfg, err = config.FromJSON(jsonBytes)

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation. GraphSpec.Build may be called concurrently on
the same spec.
*/
package config
