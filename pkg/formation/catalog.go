package formation

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Template is a read-only formation definition.
type Template struct {
	ID                string  `yaml:"id" json:"id"`
	Name              string  `yaml:"name" json:"name"`
	Description       string  `yaml:"description" json:"description"`
	Spacing           float64 `yaml:"spacing" json:"spacing"`
	MinShips          int     `yaml:"min_ships" json:"min_ships"`
	OptimalShips      int     `yaml:"optimal_ships" json:"optimal_ships"`
	MaxShips          int     `yaml:"max_ships" json:"max_ships"`
	SpeedModifier     float64 `yaml:"speed_modifier" json:"speed_modifier"`
	CombatModifier    float64 `yaml:"combat_modifier" json:"combat_modifier"`
	DetectionMod      float64 `yaml:"detection_modifier" json:"detection_modifier"`
	Coordination      float64 `yaml:"coordination_bonus" json:"coordination_bonus"`
	BreakOnCombat     bool    `yaml:"break_on_combat" json:"break_on_combat"`
	ReformAfterCombat bool    `yaml:"reform_after_combat" json:"reform_after_combat"`
}

func (t Template) validate() error {
	if t.ID == "" {
		return fmt.Errorf("template with empty id")
	}
	if t.MinShips < 1 {
		return fmt.Errorf("template %s: min_ships must be >= 1", t.ID)
	}
	if t.MaxShips > 0 && t.MaxShips < t.MinShips {
		return fmt.Errorf("template %s: max_ships below min_ships", t.ID)
	}
	if t.SpeedModifier <= 0 || t.CombatModifier <= 0 || t.DetectionMod <= 0 {
		return fmt.Errorf("template %s: modifiers must be positive", t.ID)
	}
	return nil
}

// Catalog is immutable after construction.
type Catalog struct {
	templates map[string]Template
	ids       []string
}

func NewCatalog(templates ...Template) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.templates[t.ID]; !dup {
			c.ids = append(c.ids, t.ID)
		}
		c.templates[t.ID] = t
	}
	sort.Strings(c.ids)
	return c, nil
}

// Builtin returns the stock templates.
func Builtin() []Template {
	return []Template{
		{
			ID: "line_ahead", Name: "Line Ahead",
			Description: "Ships in single file, optimal for broadside engagement",
			Spacing:     1500, MinShips: 4, OptimalShips: 4, MaxShips: 12,
			SpeedModifier: 1.1, CombatModifier: 1.2, DetectionMod: 1.0,
		},
		{
			ID: "battle_line", Name: "Battle Line",
			Description: "Heavy ships in line with escorts on flanks",
			Spacing:     2000, MinShips: 7, OptimalShips: 7, MaxShips: 16,
			SpeedModifier: 0.8, CombatModifier: 1.5, DetectionMod: 1.0, Coordination: 0.2,
		},
		{
			ID: "screening_formation", Name: "Screening Formation",
			Description: "Light ships screening heavy units",
			Spacing:     3000, MinShips: 6, OptimalShips: 6, MaxShips: 14,
			SpeedModifier: 1.3, CombatModifier: 0.9, DetectionMod: 1.4,
			BreakOnCombat: true, ReformAfterCombat: true,
		},
		{
			ID: "box_formation", Name: "Box Formation",
			Description: "Defensive box protecting vulnerable ships",
			Spacing:     1000, MinShips: 9, OptimalShips: 9, MaxShips: 20,
			SpeedModifier: 0.7, CombatModifier: 1.1, DetectionMod: 1.0, Coordination: 0.3,
		},
		{
			ID: "escort_formation", Name: "Escort Formation",
			Description: "Ships escorting high-value targets",
			Spacing:     1800, MinShips: 7, OptimalShips: 7, MaxShips: 12,
			SpeedModifier: 0.9, CombatModifier: 1.0, DetectionMod: 1.0, Coordination: 0.1,
		},
	}
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(Builtin()...)
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadCatalog reads additional templates from a YAML file on top of the
// builtins. Entries with a builtin id replace it.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read formation catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse formation catalog: %w", err)
	}
	return NewCatalog(append(Builtin(), f.Templates...)...)
}

func (c *Catalog) Lookup(id string) (Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

func (c *Catalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// MinShips is the smallest ship count any template accepts.
func (c *Catalog) MinShips() int {
	lowest := 0
	for _, t := range c.templates {
		if lowest == 0 || t.MinShips < lowest {
			lowest = t.MinShips
		}
	}
	return lowest
}
