package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// FromEnv collects every variable starting with prefix into a Config keyed
// by the lower-cased remainder, so BEACON_BATCH_SIZE becomes batch_size.
// Dotenv files are read first and never modify the process environment;
// missing files are skipped.
func FromEnv(prefix string, dotenvFiles ...string) (Config, error) {
	vars := make(map[string]string)

	for _, file := range dotenvFiles {
		fileVars, err := godotenv.Read(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf("read dotenv %s: %w", file, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	data := make(map[string]any)
	for k, v := range vars {
		if key, ok := strings.CutPrefix(k, prefix); ok && key != "" {
			data[strings.ToLower(key)] = v
		}
	}
	return New(data), nil
}
