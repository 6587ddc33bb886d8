package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of variables read by ApplyEnvOverride.
const EnvPrefix = "BRIDGE_"

// Load reads, overrides from the environment, defaults and validates.
func Load(path string, strict bool) (*UserConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(b, strict)
}

func Parse(data []byte, strict bool) (*UserConfig, error) {
	var cfg UserConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	if err := ApplyEnvOverride(&cfg, EnvPrefix); err != nil {
		return nil, fmt.Errorf("env override: %w", err)
	}
	cfg.ApplyDefaults()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvOverride loads prefixed variables and writes them over cfg.
// BRIDGE_APP__LOG_LEVEL maps to app.log_level.
func ApplyEnvOverride(cfg *UserConfig, prefix string) error {
	k := koanf.New(".")
	mapper := func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(prefix, ".", mapper), nil); err != nil {
		return err
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"})
}

// DecodeParams re-encodes a params map into out, keeping whatever defaults
// out already holds for keys the map does not set.
func DecodeParams(params map[string]any, out any, strict bool) error {
	if len(params) == 0 {
		return nil
	}
	b, err := yaml.Marshal(params)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(strict)
	return dec.Decode(out)
}
