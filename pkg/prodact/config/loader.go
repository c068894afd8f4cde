package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a configuration document format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format of path from its extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension: %q", ext)
	}
}

// FromFile loads a configuration file. $VAR and ${VAR} references are
// replaced from the environment before parsing, so broker credentials can
// stay out of the file.
func FromFile(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(format, []byte(os.ExpandEnv(string(data))))
}

// FromYAML parses a YAML document.
func FromYAML(data []byte) (Config, error) {
	return Parse(FormatYAML, data)
}

// FromJSON parses a JSON document.
func FromJSON(data []byte) (Config, error) {
	return Parse(FormatJSON, data)
}

// Parse decodes data and checks the shape of the sinks list. An empty
// document yields an empty Config.
func Parse(format Format, data []byte) (Config, error) {
	var m map[string]any
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &m)
	case FormatJSON:
		err = json.Unmarshal(data, &m)
	default:
		return Config{}, fmt.Errorf("unsupported config format: %q", format)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", format, err)
	}
	if err := checkSinks(m[KeySinks]); err != nil {
		return Config{}, err
	}
	return New(m), nil
}

// checkSinks requires sinks, when present, to be a list of mappings.
func checkSinks(raw any) error {
	if raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("%s must be a list, got %T", KeySinks, raw)
	}
	for i, entry := range list {
		if _, ok := entry.(map[string]any); !ok {
			return fmt.Errorf("%s[%d] must be a mapping, got %T", KeySinks, i, entry)
		}
	}
	return nil
}
