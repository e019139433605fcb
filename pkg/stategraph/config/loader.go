package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// decoders maps file extensions to a format name and unmarshal function.
var decoders = map[string]struct {
	format    string
	unmarshal func(data []byte, v any) error
}{
	".yaml": {"yaml", yaml.Unmarshal},
	".yml":  {"yaml", yaml.Unmarshal},
	".json": {"json", json.Unmarshal},
}

// FromFile loads configuration from a file, picking the decoder by
// extension (.yaml, .yml, .json).
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := decoders[ext]
	if !ok {
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return decodeConfig(dec.format, dec.unmarshal, data)
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	return decodeConfig("yaml", yaml.Unmarshal, data)
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	return decodeConfig("json", json.Unmarshal, data)
}

func decodeConfig(format string, unmarshal func([]byte, any) error, data []byte) (Config, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", format, err)
	}
	return New(m), nil
}

// LoadGraphSpec reads and parses a graph definition from a YAML file.
func LoadGraphSpec(path string) (*GraphSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph spec: %w", err)
	}
	return ParseGraphSpec(data)
}

// ParseGraphSpec parses a graph definition from YAML bytes.
// Unknown fields are rejected so typos surface at load time.
func ParseGraphSpec(data []byte) (*GraphSpec, error) {
	var spec GraphSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse graph spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}
