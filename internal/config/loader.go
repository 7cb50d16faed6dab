package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every structured environment variable.
	// SCRIPTORIUM_RETRIEVAL__TERM_WEIGHT maps to retrieval.term_weight.
	EnvPrefix = "SCRIPTORIUM_"
)

// legacyEnv maps the flat variable names of earlier releases onto config keys.
var legacyEnv = map[string]string{
	"MODEL_PROVIDER":          "providers.current",
	"ENABLE_FALLBACK":         "providers.enable_fallback",
	"MAX_DAILY_API_CALLS":     "providers.daily_cap",
	"ALLOW_DATA_TRANSMISSION": "providers.allow_data_transmission",
	"LOCAL_MODEL_NAME":        "providers.local.model",
	"OLLAMA_BASE_URL":         "providers.local.base_url",
	"OPENAI_API_KEY":          "providers.openai.api_key",
	"OPENAI_MODEL":            "providers.openai.model",
	"OPENAI_BASE_URL":         "providers.openai.base_url",
	"ANTHROPIC_API_KEY":       "providers.anthropic.api_key",
	"ANTHROPIC_MODEL":         "providers.anthropic.model",
	"GOOGLE_API_KEY":          "providers.google.api_key",
	"GOOGLE_MODEL":            "providers.google.model",
	"MAX_CONTEXT_LENGTH":      "generation.max_context_chars",
}

// legacyModelParams fan out to every provider.
var legacyModelParams = map[string]string{
	"MAX_RESPONSE_LENGTH": "max_tokens",
	"TEMPERATURE":         "temperature",
	"TOP_P":               "top_p",
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an optional YAML file. Missing files are ignored.
	ConfigFile string
	// DotEnvFiles are loaded into the process environment when present.
	// Variables already set in the environment win.
	DotEnvFiles []string
}

// Load builds the configuration: defaults, then YAML, then legacy
// environment names, then SCRIPTORIUM_ variables. The result is validated.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadDotEnv(opts.DotEnvFiles); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if opts.ConfigFile != "" {
		content, err := readConfigFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", opts.ConfigFile, err)
			}
		}
	}

	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}
	for name, field := range legacyModelParams {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			for _, id := range []string{ProviderLocal, ProviderOpenAI, ProviderAnthropic, ProviderGoogle} {
				if err := k.Set("providers."+id+"."+field, v); err != nil {
					return nil, fmt.Errorf("failed to apply %s: %w", name, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps SCRIPTORIUM_PROVIDERS__OPENAI__API_KEY to providers.openai.api_key.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func loadDotEnv(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Stat the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects world-writable or oversized files.
// The file may hold credentials.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// Dump renders the configuration as YAML with every credential redacted.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yamlv3.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// SetFileKey sets a dotted key such as providers.current in the YAML file
// at path, creating the file with mode 0600 when missing. Other keys, and
// credentials in particular, are left as written.
func SetFileKey(path, key string, value interface{}) error {
	content, err := readConfigFile(path)
	if err != nil {
		return err
	}

	doc := map[string]interface{}{}
	if len(content) > 0 {
		if err := yamlv3.Unmarshal(content, &doc); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
	}

	parts := strings.Split(key, ".")
	node := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value

	out, err := yamlv3.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
