// Package catalog loads the read-only scenario and persona fixtures.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"roleplay-coach/internal/domain"
	"roleplay-coach/internal/sequence"
)

const defaultMaxTurns = 10

//go:embed scenarios.yaml
var defaultScenarios []byte

var ErrNotFound = errors.New("catalog: not found")

type document struct {
	Scenarios []domain.Scenario `yaml:"scenarios"`
}

// Catalog is an immutable, validated set of scenarios.
type Catalog struct {
	scenarios []domain.Scenario
	byID      map[string]int
}

// Default returns the embedded scenario set.
func Default() (*Catalog, error) {
	return Parse(defaultScenarios)
}

// Load reads scenarios from path, or the embedded set when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML scenario document.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(doc.Scenarios) == 0 {
		return nil, errors.New("catalog: no scenarios defined")
	}

	c := &Catalog{byID: make(map[string]int, len(doc.Scenarios))}
	for i := range doc.Scenarios {
		s := doc.Scenarios[i]
		if err := normalizeScenario(&s); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate scenario %q", s.ID)
		}
		c.byID[s.ID] = len(c.scenarios)
		c.scenarios = append(c.scenarios, s)
	}
	return c, nil
}

func normalizeScenario(s *domain.Scenario) error {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return errors.New("catalog: scenario id is required")
	}
	if s.Difficulty == 0 {
		s.Difficulty = 1
	}
	if s.Difficulty < 1 || s.Difficulty > 4 {
		return fmt.Errorf("catalog: scenario %q: difficulty %d out of range 1-4", s.ID, s.Difficulty)
	}
	if s.MaxTurns == 0 {
		s.MaxTurns = defaultMaxTurns
	}
	if s.MaxTurns < 0 {
		return fmt.Errorf("catalog: scenario %q: max turns must be positive", s.ID)
	}
	if len(s.Personas) == 0 {
		return fmt.Errorf("catalog: scenario %q has no personas", s.ID)
	}

	seen := make(map[string]bool, len(s.Personas))
	for i := range s.Personas {
		p := &s.Personas[i]
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return fmt.Errorf("catalog: scenario %q: persona id is required", s.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("catalog: scenario %q: duplicate persona %q", s.ID, p.ID)
		}
		seen[p.ID] = true
		if p.Influence < 1 || p.Influence > 10 {
			return fmt.Errorf("catalog: persona %q: influence %d out of range 1-10", p.ID, p.Influence)
		}
		if p.Approachability < 1 || p.Approachability > 10 {
			return fmt.Errorf("catalog: persona %q: approachability %d out of range 1-10", p.ID, p.Approachability)
		}
	}
	return nil
}

// List returns scenarios in document order.
func (c *Catalog) List() []domain.Scenario {
	out := make([]domain.Scenario, len(c.scenarios))
	copy(out, c.scenarios)
	return out
}

func (c *Catalog) Scenario(id string) (domain.Scenario, error) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return domain.Scenario{}, fmt.Errorf("%w: scenario %q", ErrNotFound, id)
	}
	return c.scenarios[i], nil
}

func (c *Catalog) Persona(scenarioID, personaID string) (domain.Scenario, domain.Persona, error) {
	s, err := c.Scenario(scenarioID)
	if err != nil {
		return domain.Scenario{}, domain.Persona{}, err
	}
	personaID = strings.TrimSpace(personaID)
	for _, p := range s.Personas {
		if p.ID == personaID {
			return s, p, nil
		}
	}
	return domain.Scenario{}, domain.Persona{}, fmt.Errorf("%w: persona %q in scenario %q", ErrNotFound, personaID, s.ID)
}

// Profiles maps a scenario's personas to sequence scoring profiles.
func (c *Catalog) Profiles(scenarioID string) ([]sequence.Profile, error) {
	s, err := c.Scenario(scenarioID)
	if err != nil {
		return nil, err
	}
	out := make([]sequence.Profile, len(s.Personas))
	for i, p := range s.Personas {
		out[i] = sequence.Profile{
			ID:              p.ID,
			Name:            p.Name,
			Influence:       p.Influence,
			Approachability: p.Approachability,
			AvailableInfo:   p.AvailableInfo,
			Relationships:   p.Relationships,
			Mood:            sequence.Mood(p.Mood),
		}
	}
	return out, nil
}
