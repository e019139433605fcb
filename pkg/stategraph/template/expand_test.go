package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpand_BraceStyle tests ${var} pattern expansion.
func TestExpand_BraceStyle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		vars     map[string]any
		expected string
	}{
		{
			name:     "simple variable",
			input:    "Hello ${name}",
			vars:     map[string]any{"name": "World"},
			expected: "Hello World",
		},
		{
			name:     "multiple variables",
			input:    "${greeting} ${name}!",
			vars:     map[string]any{"greeting": "Hello", "name": "World"},
			expected: "Hello World!",
		},
		{
			name:     "variable at start",
			input:    "${prefix}-suffix",
			vars:     map[string]any{"prefix": "test"},
			expected: "test-suffix",
		},
		{
			name:     "variable at end",
			input:    "prefix-${suffix}",
			vars:     map[string]any{"suffix": "test"},
			expected: "prefix-test",
		},
		{
			name:     "adjacent variables",
			input:    "${a}${b}${c}",
			vars:     map[string]any{"a": "1", "b": "2", "c": "3"},
			expected: "123",
		},
		{
			name:     "numeric value",
			input:    "port: ${port}",
			vars:     map[string]any{"port": 8080},
			expected: "port: 8080",
		},
		{
			name:     "boolean value",
			input:    "enabled: ${enabled}",
			vars:     map[string]any{"enabled": true},
			expected: "enabled: true",
		},
		{
			name:     "dotted path",
			input:    "run ${run.id} at ${run.node}",
			vars:     map[string]any{"run": map[string]any{"id": "r-1", "node": "fetch"}},
			expected: "run r-1 at fetch",
		},
		{
			name:     "deeply nested path",
			input:    "${a.b.c}",
			vars:     map[string]any{"a": map[string]any{"b": map[string]any{"c": "deep"}}},
			expected: "deep",
		},
	}

	e := NewExpander()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Expand(tt.input, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestExpand_DollarStyle tests $var pattern expansion.
func TestExpand_DollarStyle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		vars     map[string]any
		expected string
	}{
		{
			name:     "simple variable",
			input:    "Hello $name",
			vars:     map[string]any{"name": "World"},
			expected: "Hello World",
		},
		{
			name:     "variable followed by punctuation",
			input:    "Hello $name!",
			vars:     map[string]any{"name": "World"},
			expected: "Hello World!",
		},
		{
			name:     "variable followed by slash",
			input:    "$dir/file.txt",
			vars:     map[string]any{"dir": "/tmp"},
			expected: "/tmp/file.txt",
		},
		{
			name:     "no partial match inside longer name",
			input:    "$portNumber",
			vars:     map[string]any{"port": 8080},
			expected: "$portNumber",
		},
		{
			name:     "dots not part of dollar names",
			input:    "$run.id",
			vars:     map[string]any{"run": "r-1"},
			expected: "r-1.id",
		},
	}

	e := NewExpander()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Expand(tt.input, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExpand_MixedStyles(t *testing.T) {
	e := NewExpander()

	result, err := e.Expand("${a} and $b", map[string]any{"a": "brace", "b": "dollar"})
	require.NoError(t, err)
	assert.Equal(t, "brace and dollar", result)
}

func TestExpand_MissingVariables(t *testing.T) {
	vars := map[string]any{"known": "value"}

	t.Run("keep (default)", func(t *testing.T) {
		e := NewExpander()
		result, err := e.Expand("${known} ${unknown}", vars)
		require.NoError(t, err)
		assert.Equal(t, "value ${unknown}", result)
	})

	t.Run("empty", func(t *testing.T) {
		e := NewExpander(WithMissingAction(MissingEmpty))
		result, err := e.Expand("${known} ${unknown}", vars)
		require.NoError(t, err)
		assert.Equal(t, "value ", result)
	})

	t.Run("error", func(t *testing.T) {
		e := NewExpander(WithMissingAction(MissingError))
		_, err := e.Expand("${known} ${unknown} $other", vars)
		require.Error(t, err)

		var undefErr *UndefinedVariableError
		require.ErrorAs(t, err, &undefErr)
		assert.Contains(t, undefErr.Names, "unknown")
		assert.Contains(t, undefErr.Names, "other")
	})

	t.Run("error with dotted path", func(t *testing.T) {
		e := NewExpander(WithMissingAction(MissingError))
		_, err := e.Expand("${run.missing}", map[string]any{"run": map[string]any{"id": "r-1"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run.missing")
	})
}

func TestExpand_EdgeCases(t *testing.T) {
	e := NewExpander()

	t.Run("empty string", func(t *testing.T) {
		result, err := e.Expand("", map[string]any{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, "", result)
	})

	t.Run("no variables", func(t *testing.T) {
		result, err := e.Expand("plain text", nil)
		require.NoError(t, err)
		assert.Equal(t, "plain text", result)
	})

	t.Run("nil vars keeps placeholders", func(t *testing.T) {
		result, err := e.Expand("${a}", nil)
		require.NoError(t, err)
		assert.Equal(t, "${a}", result)
	})

	t.Run("path through non-map", func(t *testing.T) {
		result, err := e.Expand("${a.b}", map[string]any{"a": "scalar"})
		require.NoError(t, err)
		assert.Equal(t, "${a.b}", result)
	})

	t.Run("bare dollar sign", func(t *testing.T) {
		result, err := e.Expand("costs $5", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "costs $5", result)
	})
}

func TestExpand_DisabledStyles(t *testing.T) {
	vars := map[string]any{"v": "x"}

	t.Run("brace disabled", func(t *testing.T) {
		e := NewExpander(WithBraceStyle(false))
		result, err := e.Expand("${v} $v", vars)
		require.NoError(t, err)
		assert.Equal(t, "${v} x", result)
	})

	t.Run("dollar disabled", func(t *testing.T) {
		e := NewExpander(WithDollarStyle(false))
		result, err := e.Expand("${v} $v", vars)
		require.NoError(t, err)
		assert.Equal(t, "x $v", result)
	})
}

func TestMustExpand(t *testing.T) {
	e := NewExpander(WithMissingAction(MissingError))

	assert.Equal(t, "ok", e.MustExpand("${v}", map[string]any{"v": "ok"}))

	assert.Panics(t, func() {
		e.MustExpand("${missing}", nil)
	})
}

func TestExpandAll(t *testing.T) {
	e := NewExpander()
	vars := map[string]any{"env": "prod", "region": "us-east"}

	results, err := e.ExpandAll([]string{"deploy-${env}", "${region}-cluster", "static"}, vars)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy-prod", "us-east-cluster", "static"}, results)

	t.Run("nil slice", func(t *testing.T) {
		results, err := e.ExpandAll(nil, vars)
		require.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("error propagates", func(t *testing.T) {
		strict := NewExpander(WithMissingAction(MissingError))
		_, err := strict.ExpandAll([]string{"${missing}"}, nil)
		assert.Error(t, err)
	})
}

func TestExpandMap(t *testing.T) {
	e := NewExpander()
	vars := map[string]any{"name": "pipeline", "retries": 3}

	input := map[string]any{
		"title":   "run ${name}",
		"count":   42,
		"enabled": true,
		"nested": map[string]any{
			"label": "${name}-nested",
		},
		"list": []any{"${name}-0", 7, map[string]any{"deep": "${name}-deep"}},
	}

	result, err := e.ExpandMap(input, vars)
	require.NoError(t, err)

	assert.Equal(t, "run pipeline", result["title"])
	assert.Equal(t, 42, result["count"])
	assert.Equal(t, true, result["enabled"])

	nested := result["nested"].(map[string]any)
	assert.Equal(t, "pipeline-nested", nested["label"])

	list := result["list"].([]any)
	assert.Equal(t, "pipeline-0", list[0])
	assert.Equal(t, 7, list[1])
	assert.Equal(t, "pipeline-deep", list[2].(map[string]any)["deep"])

	t.Run("nil map", func(t *testing.T) {
		result, err := e.ExpandMap(nil, vars)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("input not mutated", func(t *testing.T) {
		assert.Equal(t, "run ${name}", input["title"])
	})
}

func TestUndefinedVariableError(t *testing.T) {
	err := &UndefinedVariableError{Names: []string{"a", "b"}}
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}

func TestPackageLevelFunctions(t *testing.T) {
	vars := map[string]any{"name": "graph"}

	assert.Equal(t, "hi graph", Expand("hi ${name}", vars))
	assert.Equal(t, []string{"graph-1"}, ExpandAll([]string{"${name}-1"}, vars))

	m := ExpandMap(map[string]any{"k": "${name}"}, vars)
	assert.Equal(t, "graph", m["k"])

	// Package-level helpers keep missing placeholders
	assert.Equal(t, "${missing}", Expand("${missing}", nil))
}
