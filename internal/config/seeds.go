package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

type seedFile struct {
	Strategies []domain.Strategy `yaml:"strategies"`
}

// LoadStrategySeeds reads strategy definitions from a YAML file. Missing
// statuses default to active; kinds and ids are required.
func LoadStrategySeeds(path string) ([]domain.Strategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read strategy seeds: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse strategy seeds %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Strategies))
	for i := range f.Strategies {
		s := &f.Strategies[i]
		if s.ID == "" {
			return nil, fmt.Errorf("config: strategy seed %d: id is required", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("config: strategy seed %q declared twice", s.ID)
		}
		seen[s.ID] = true
		if s.Kind == "" {
			return nil, fmt.Errorf("config: strategy seed %q: kind is required", s.ID)
		}
		if s.Status == "" {
			s.Status = domain.StrategyActive
		}
		s.Token = strings.ToUpper(s.Token)
		s.QuoteToken = strings.ToUpper(s.QuoteToken)
		if s.Name == "" {
			s.Name = s.ID
		}
	}
	return f.Strategies, nil
}
