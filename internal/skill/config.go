package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the per-SUT configuration loaded from configs/<sut>/sut.yaml.
type Config struct {
	Connection Connection     `yaml:"connection"`
	Specs      Specs          `yaml:"specs"`
	PresetVars map[string]any `yaml:"preset_variables"`
}

// Connection describes how to reach the SUT's API.
type Connection struct {
	Host     string `yaml:"host"`
	BasePath string `yaml:"base_path"`
	Auth     Auth   `yaml:"auth"`
}

// Auth describes the authentication scheme and where credentials come from.
// Credential values themselves never live in the config.
type Auth struct {
	Type string `yaml:"type"`
	// EnvVars maps credential keys (public_key, private_key, token) to the
	// environment variable holding each value.
	EnvVars map[string]string `yaml:"env_vars"`
	// CredentialFile is a fallback JSON file of credential key/values.
	CredentialFile string `yaml:"credential_file"`
}

// Specs points at the SUT's machine-readable API specifications.
type Specs struct {
	OpenAPI string `yaml:"openapi"`
}

// LoadConfig reads configs/<sut>/sut.yaml under the skill root, expanding
// ${ENV_VAR:-default} references. A missing file yields a zero Config.
func LoadConfig(root, sut string) (Config, error) {
	var cfg Config
	path := filepath.Join(root, "configs", CanonicalSUTName(sut), "sut.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read sut config: %w", err)
	}
	data = []byte(ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse sut config: %w", err)
	}
	return cfg, nil
}

// OpenAPIPath returns the SUT's OpenAPI document path under the skill root.
func (c Config) OpenAPIPath(root, sut string) string {
	name := c.Specs.OpenAPI
	if name == "" {
		name = "openapi.json"
	}
	return filepath.Join(root, "configs", CanonicalSUTName(sut), name)
}

var envPattern = regexp.MustCompile(`\$\{([A-Z0-9_]+)(?::-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references in text.
func ExpandEnv(text string) string {
	return envPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		return groups[2]
	})
}

// ExpandEnvValue applies ExpandEnv recursively through decoded YAML/JSON
// values: strings in maps and slices are expanded in place.
func ExpandEnvValue(v any) any {
	switch value := v.(type) {
	case string:
		return ExpandEnv(value)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = ExpandEnvValue(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = ExpandEnvValue(item)
		}
		return out
	default:
		return v
	}
}
