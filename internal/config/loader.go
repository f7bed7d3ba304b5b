package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// knownSTTProviders lists recognised STT provider names. Used by [Validate].
var knownSTTProviders = []string{"whisper", "openai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Providers.STT.Name != "" && !knownProvider(cfg.Providers.STT.Name) {
		errs = append(errs, fmt.Errorf("providers.stt.name %q is not a known provider; valid values: %v", cfg.Providers.STT.Name, knownSTTProviders))
	}
	if cfg.Providers.STT.Fallback != "" && !knownProvider(cfg.Providers.STT.Fallback) {
		errs = append(errs, fmt.Errorf("providers.stt.fallback %q is not a known provider; valid values: %v", cfg.Providers.STT.Fallback, knownSTTProviders))
	}
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt.model_path is required for the whisper provider"))
	}
	if cfg.Providers.STT.Name == "openai" && cfg.Providers.STT.APIKey == "" {
		errs = append(errs, errors.New("providers.stt.api_key is required for the openai provider"))
	}

	if cfg.Jobs.Workers < 0 {
		errs = append(errs, fmt.Errorf("jobs.workers %d must not be negative", cfg.Jobs.Workers))
	}

	for name, profile := range cfg.Profiles {
		if err := ValidateProfile(profile); err != nil {
			errs = append(errs, fmt.Errorf("profiles.%s: %w", name, err))
		}
	}
	if cfg.DefaultProfile != "" {
		if _, ok := cfg.Profiles[cfg.DefaultProfile]; !ok {
			errs = append(errs, fmt.Errorf("default_profile %q is not a key of profiles", cfg.DefaultProfile))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// ValidateProfile checks one profile's values against the documented ranges.
// Zero values are allowed everywhere; they resolve to defaults.
func ValidateProfile(p Profile) error {
	var errs []error

	if p.ModelSize != "" && !p.ModelSize.IsValid() {
		errs = append(errs, fmt.Errorf("model_size %q is invalid", p.ModelSize))
	}
	if p.Language != "" && !p.Language.IsValid() {
		errs = append(errs, fmt.Errorf("language %q is invalid; valid values: es, en, auto", p.Language))
	}
	if p.Temperature < 0 || p.Temperature > 1 {
		errs = append(errs, fmt.Errorf("temperature %.2f must be within [0.0, 1.0]", p.Temperature))
	}
	if p.MinSpeakers != 0 && (p.MinSpeakers < 1 || p.MinSpeakers > 20) {
		errs = append(errs, fmt.Errorf("min_speakers %d must be within [1, 20]", p.MinSpeakers))
	}
	if p.MaxSpeakers != 0 {
		if p.MaxSpeakers > 20 {
			errs = append(errs, fmt.Errorf("max_speakers %d must not exceed 20", p.MaxSpeakers))
		}
		if p.MinSpeakers != 0 && p.MaxSpeakers < p.MinSpeakers {
			errs = append(errs, fmt.Errorf("max_speakers %d must not be below min_speakers %d", p.MaxSpeakers, p.MinSpeakers))
		}
	}
	if p.ClusteringThreshold != 0 && (p.ClusteringThreshold < 0.1 || p.ClusteringThreshold > 1.0) {
		errs = append(errs, fmt.Errorf("clustering_threshold %.2f must be within [0.1, 1.0]", p.ClusteringThreshold))
	}
	if p.ChunkSeconds != 0 && (p.ChunkSeconds < 10 || p.ChunkSeconds > 300) {
		errs = append(errs, fmt.Errorf("chunk_seconds %d must be within [10, 300]", p.ChunkSeconds))
	}
	if p.OverlapSeconds != 0 && (p.OverlapSeconds < 1 || p.OverlapSeconds > 30) {
		errs = append(errs, fmt.Errorf("overlap_seconds %d must be within [1, 30]", p.OverlapSeconds))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func knownProvider(name string) bool {
	for _, p := range knownSTTProviders {
		if p == name {
			return true
		}
	}
	return false
}
