package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes turns a .yaml/.yml file into JSON so both formats go
// through the same strict decoder. Other extensions are passed through as
// JSON. String values in YAML may reference the environment as ${NAME}, which
// keeps SMTP passwords and bot tokens out of the file.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		return nil, "yaml", fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, "yaml", fmt.Errorf("yaml: %s holds more than one document", filepath.Base(path))
	}
	if v == nil {
		v = map[string]any{}
	}

	j, err := json.Marshal(normalizeYAML(v, os.Getenv))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML stringifies map keys and expands ${NAME} in string values.
func normalizeYAML(in any, getenv func(string) string) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v, getenv)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v, getenv)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i], getenv)
		}
		return x
	case string:
		if !strings.Contains(x, "${") {
			return x
		}
		return os.Expand(x, getenv)
	default:
		return in
	}
}
