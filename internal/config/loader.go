package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llamagate/pkg/types"
)

// File is the on-disk configuration shape.
type File struct {
	Models map[string]types.ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// Config is the validated runtime configuration.
type Config struct {
	// Models keyed by logical name, with prompts loaded and paths resolved.
	Models map[string]types.ModelConfig
}

// Names returns the configured model names, sorted.
func (c *Config) Names() []string {
	out := make([]string, 0, len(c.Models))
	for name := range c.Models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

const defaultContextSize = 4096

// Load reads a configuration file based on its extension.
// Supports: .json (default), .yaml/.yml, .toml
//
// Relative model paths, system prompt files and provider working directories
// resolve against the config file's directory. A missing system prompt file
// is a load error; a missing model artifact is deferred to load time.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("config %s declares no models", path)
	}

	baseDir := filepath.Dir(path)
	cfg := &Config{Models: make(map[string]types.ModelConfig, len(f.Models))}
	for name, entry := range f.Models {
		entry.Name = name
		if entry.Path == "" {
			return nil, fmt.Errorf("model %q: path is required", name)
		}
		entry.Path = resolve(baseDir, entry.Path)
		if entry.Dialect == "" {
			entry.Dialect = types.DialectHermes
		}
		if !validDialect(entry.Dialect) {
			return nil, fmt.Errorf("model %q: unknown dialect %q", name, entry.Dialect)
		}
		if entry.ContextSize <= 0 {
			entry.ContextSize = defaultContextSize
		}
		if entry.SystemPromptFile != "" {
			promptPath := resolve(baseDir, entry.SystemPromptFile)
			prompt, err := os.ReadFile(promptPath)
			if err != nil {
				return nil, fmt.Errorf("model %q: system prompt file: %w", name, err)
			}
			entry.SystemPrompt = strings.TrimSpace(string(prompt))
		}
		for i, spec := range entry.Providers {
			if spec.Name == "" {
				return nil, fmt.Errorf("model %q: provider %d has no name", name, i)
			}
			switch spec.Transport {
			case types.TransportStdio:
				if spec.Command == "" {
					return nil, fmt.Errorf("model %q: stdio provider %q requires a command", name, spec.Name)
				}
				if spec.Cwd != "" {
					entry.Providers[i].Cwd = resolve(baseDir, spec.Cwd)
				}
			case types.TransportHTTP:
				if spec.URL == "" {
					return nil, fmt.Errorf("model %q: http provider %q requires a url", name, spec.Name)
				}
			default:
				return nil, fmt.Errorf("model %q: provider %q has unknown transport %q", name, spec.Name, spec.Transport)
			}
		}
		cfg.Models[name] = entry
	}
	return cfg, nil
}

func validDialect(d types.Dialect) bool {
	switch d {
	case types.DialectHermes, types.DialectLlama, types.DialectQwen:
		return true
	}
	return false
}

// resolve joins rel onto base unless rel is already absolute.
func resolve(base, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(base, rel)
}
