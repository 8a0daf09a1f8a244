package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory.
const FileName = "firewall_config.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIREWALL"

// DefaultSource is the Source of the embedded default config.
const DefaultSource = "(built-in default)"

//go:embed default_config.json
var defaultConfig []byte

// Format is a config file syntax.
type Format int

const (
	FormatJSON Format = iota
	FormatTOML
	FormatYAML
)

// FormatFor picks the format from a file extension. Anything that is not
// TOML or YAML is read as JSON with comments.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Env holds the runtime settings that only come from the environment.
type Env struct {
	ServerName string `envconfig:"SERVER_NAME"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	LogFile    string `envconfig:"LOG_FILE"`
}

// LoadEnv reads the FIREWALL_* runtime settings.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("failed to process env vars: %w", err)
	}
	return env, nil
}

// Resolve returns the config path to load: the explicit path (with ~
// expanded), else FileName in workDir, else the per-user config. It
// returns "" when none exists, meaning the embedded default applies.
func Resolve(explicit, workDir string) (string, error) {
	if explicit != "" {
		path, err := homedir.Expand(explicit)
		if err != nil {
			return "", fmt.Errorf("expand config path %q: %w", explicit, err)
		}
		return path, nil
	}
	candidates := []string{filepath.Join(workDir, FileName)}
	if home, err := homedir.Dir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "mcp-action-firewall", FileName))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}

// Load reads and validates the config at path, or the embedded default
// when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, FormatFor(path), path)
}

// LoadDefault returns the embedded default config.
func LoadDefault() (*Config, error) {
	return Parse(defaultConfig, FormatJSON, DefaultSource)
}

// DefaultBytes returns a copy of the embedded default config file.
func DefaultBytes() []byte {
	return bytes.Clone(defaultConfig)
}

// Parse decodes data, applies environment overrides and defaults, and
// validates the result. source is used in error messages.
func Parse(data []byte, format Format, source string) (*Config, error) {
	cfg := &Config{Source: source}
	if err := decode(data, format, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", source, err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg.Approval); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidation, err)
	}
	return cfg, nil
}

func decode(data []byte, format Format, cfg *Config) error {
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	}
}

// GenerateDefault writes the embedded default config to FileName in dir.
// It never overwrites an existing file.
func GenerateDefault(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return path, err
	}
	if _, err := f.Write(defaultConfig); err != nil {
		_ = f.Close()
		return path, err
	}
	return path, f.Close()
}
