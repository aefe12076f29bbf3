package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.logLevel %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Stability.Threshold < 0 || cfg.Stability.Threshold > 1 {
		errs = append(errs, fmt.Errorf("stability.threshold %v must be within [0, 1]", cfg.Stability.Threshold))
	}
	if cfg.RateLimit.WindowMs > 1000 {
		errs = append(errs, fmt.Errorf("rateLimit.windowMs %d must not exceed 1000", cfg.RateLimit.WindowMs))
	}
	if !cfg.Providers.Translator.IsValid() {
		errs = append(errs, fmt.Errorf("providers.translator %q is invalid; valid values: aws, openai", cfg.Providers.Translator))
	}
	if cfg.Providers.Translator == TranslatorOpenAI && cfg.Providers.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("providers.openai.apiKey is required when providers.translator is openai"))
	}
	if cfg.Buffer.PauseThresholdSec >= cfg.Buffer.ForwardTimeoutSec {
		errs = append(errs, fmt.Errorf("buffer.pauseThresholdSec %d must be below buffer.forwardTimeoutSec %d",
			cfg.Buffer.PauseThresholdSec, cfg.Buffer.ForwardTimeoutSec))
	}

	return errors.Join(errs...)
}
