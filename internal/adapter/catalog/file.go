package catalog

import (
	"fmt"
	"os"

	"model-router/internal/domain/entity"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes how to reach one provider.
type ProviderConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"` // "gemini" or "openai"

	// OpenAI-compatible endpoints.
	BaseURL   string `yaml:"base-url,omitempty"`
	APIKeyEnv string `yaml:"api-key-env,omitempty"`

	Disabled bool `yaml:"disabled,omitempty"`
}

// File is the on-disk model catalog.
type File struct {
	Providers []ProviderConfig   `yaml:"providers"`
	Models    []entity.ModelInfo `yaml:"models"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Models))
	for i, m := range f.Models {
		if m.ID == "" || m.Provider == "" {
			return nil, fmt.Errorf("model catalog entry %d: id and provider are required", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("model catalog: duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
	}
	for i, p := range f.Providers {
		if p.ID == "" {
			return nil, fmt.Errorf("model catalog provider %d: id is required", i)
		}
	}
	return &f, nil
}
