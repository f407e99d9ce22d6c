package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk config encoding, chosen by file extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// toJSON converts YAML or TOML into JSON so every format goes through the same
// strict decoder (DisallowUnknownFields).
func toJSON(path string, data []byte) ([]byte, Format, error) {
	f := formatOf(path)
	var v any
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, f, fmt.Errorf("yaml unmarshal: %w", err)
		}
	case FormatTOML:
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, f, fmt.Errorf("toml unmarshal: %w", err)
		}
		v = m
	default:
		return data, f, nil
	}

	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, f, fmt.Errorf("%s->json marshal: %w", f, err)
	}
	return j, f, nil
}

// stringKeys rewrites nested maps so every key is a string.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
