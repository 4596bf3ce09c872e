package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Section is one topical partition of the content API
type Section struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// FallbackTag is queried as a tag filter when the section query fails.
	FallbackTag string `yaml:"fallbackTag"`
}

type sectionsFile struct {
	Sections []Section `yaml:"sections"`
}

// DefaultSections is used when no sections file is configured
func DefaultSections() []Section {
	return []Section{
		{ID: "world", Name: "World"},
		{ID: "environment", Name: "Environment"},
		{ID: "technology", Name: "Technology"},
		{ID: "commentisfree", Name: "Opinion", FallbackTag: "commentisfree/commentisfree"},
	}
}

// LoadSections parses a YAML sections file, falling back to DefaultSections for an empty path
func LoadSections(path string) ([]Section, error) {
	if path == "" {
		return DefaultSections(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file sectionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for i, s := range file.Sections {
		if s.ID == "" {
			return nil, fmt.Errorf("section %d has no id", i)
		}
		if s.Name == "" {
			file.Sections[i].Name = s.ID
		}
	}

	return file.Sections, nil
}
