/*
Package template provides variable expansion for strings.

# Overview

template expands ${var} and $var patterns in strings using provided
variable maps. It backs parameter interpolation in declarative graph
definitions, where node params and URLs reference run inputs:

	params:
	  url: "https://${host}/runs/${run.id}"

# Basic Usage

Expand variables using the package-level function:

	result := template.Expand("Hello ${name}", map[string]any{"name": "World"})
	// result: "Hello World"

Both brace and dollar-sign patterns are supported:

	vars := map[string]any{"host": "api.example.com", "port": 8080}
	url := template.Expand("https://${host}:$port/api", vars)
	// url: "https://api.example.com:8080/api"

# Dotted Paths

Brace-style placeholders may use dotted paths to reach into nested maps:

	vars := map[string]any{
	    "run": map[string]any{"id": "run-42"},
	}
	result := template.Expand("${run.id}", vars)
	// result: "run-42"

The dollar style does not support dots; $run.id expands $run and leaves
".id" untouched.

# Missing Variables

By default, missing variables are kept as-is:

	result := template.Expand("Hello ${missing}", nil)
	// result: "Hello ${missing}"

Configure behavior with options:

	exp := template.NewExpander(template.WithMissingAction(template.MissingEmpty))
	result, _ := exp.Expand("Hello ${missing}", nil)
	// result: "Hello "

	exp = template.NewExpander(template.WithMissingAction(template.MissingError))
	_, err := exp.Expand("Hello ${missing}", nil)
	// err: "undefined variable: missing"

# Batch Expansion

Expand multiple strings or whole param maps:

	vars := map[string]any{"env": "prod"}

	urls, _ := exp.ExpandAll([]string{
	    "https://${env}.api.com",
	    "https://${env}.db.com",
	}, vars)

	// Expand all string values in a map recursively,
	// including nested maps and slices
	params, _ := exp.ExpandMap(map[string]any{
	    "url": "https://${env}.api.com",
	    "nested": map[string]any{
	        "endpoint": "/api/${env}/v1",
	    },
	}, vars)

# Thread Safety

Expander is safe for concurrent use after construction.
Package-level functions use a shared default expander.
*/
package template
