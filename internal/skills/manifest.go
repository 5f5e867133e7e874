package skills

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestRoot is a single root definition in a roots manifest.
type ManifestRoot struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	Rank     int      `yaml:"rank"`
	Mirror   bool     `yaml:"mirror"`
	Optional bool     `yaml:"optional"`
	FoldCase bool     `yaml:"fold_case"`
	Ignore   []string `yaml:"ignore"`
}

// Manifest is the on-disk priority manifest listing skill roots.
type Manifest struct {
	Roots []ManifestRoot `yaml:"roots"`
}

// LoadManifest reads and parses a YAML roots manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read roots manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse roots manifest: %w", err)
	}
	return &m, nil
}

// SkillRoots converts the manifest into roots, preserving listed order.
func (m *Manifest) SkillRoots() ([]Root, error) {
	roots := make([]Root, 0, len(m.Roots))
	seen := make(map[string]bool, len(m.Roots))
	for i, mr := range m.Roots {
		id := strings.TrimSpace(mr.ID)
		if id == "" {
			return nil, fmt.Errorf("manifest root %d: id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("manifest root %q: duplicate id", id)
		}
		seen[id] = true
		if strings.TrimSpace(mr.Path) == "" {
			return nil, fmt.Errorf("manifest root %q: path is required", id)
		}
		roots = append(roots, Root{
			ID:       id,
			Name:     strings.TrimSpace(mr.Name),
			Path:     ExpandHome(mr.Path),
			Rank:     mr.Rank,
			Mirror:   mr.Mirror,
			Optional: mr.Optional,
			FoldCase: mr.FoldCase,
			Ignore:   append([]string(nil), mr.Ignore...),
		})
	}
	return roots, nil
}
