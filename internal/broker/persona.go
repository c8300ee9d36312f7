package broker

import (
	"math"
	"sort"

	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/goccy/go-json"
)

// DefaultHistoryLimit bounds persona memory when no limit is configured.
const DefaultHistoryLimit = 8

// calmBand is the magnitude below which every axis counts as neutral.
const calmBand = 0.15

// Exchange is one remembered (intent, narration) pair.
type Exchange struct {
	Intent    string `json:"intent"`
	Narration string `json:"narration"`
}

// Persona is the character's disposition and bounded recent memory.
// Methods return modified copies; a Persona value is never mutated in place.
type Persona struct {
	Name        string             `json:"name"`
	Traits      []string           `json:"traits,omitempty"`
	Disposition map[string]float64 `json:"disposition"`
	Refusals    []string           `json:"refusals,omitempty"`
	Memory      []Exchange         `json:"memory"`
	Limit       int                `json:"limit"`
}

// NewPersona seeds a persona from graph content.
func NewPersona(seed puzzle.PersonaSeed, limit int) Persona {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	name := seed.Name
	if name == "" {
		name = "Anna"
	}
	p := Persona{
		Name:        name,
		Traits:      append([]string(nil), seed.Traits...),
		Disposition: map[string]float64{"trust": 0, "fear": 0, "resolve": 0},
		Refusals:    append([]string(nil), seed.Refusals...),
		Memory:      []Exchange{},
		Limit:       limit,
	}
	for axis, v := range seed.Disposition {
		p.Disposition[axis] = clamp(v)
	}
	return p
}

func (p Persona) clone() Persona {
	c := p
	c.Disposition = make(map[string]float64, len(p.Disposition))
	for k, v := range p.Disposition {
		c.Disposition[k] = v
	}
	c.Memory = append([]Exchange(nil), p.Memory...)
	return c
}

// Remember appends an exchange, dropping the oldest entries beyond Limit.
func (p Persona) Remember(intent, narration string) Persona {
	c := p.clone()
	c.Memory = append(c.Memory, Exchange{Intent: intent, Narration: narration})
	if over := len(c.Memory) - c.Limit; c.Limit > 0 && over > 0 {
		c.Memory = append([]Exchange(nil), c.Memory[over:]...)
	}
	return c
}

// Sway adds deltas to the disposition axes, clamping each to [-1, 1].
func (p Persona) Sway(deltas map[string]float64) Persona {
	if len(deltas) == 0 {
		return p
	}
	c := p.clone()
	for axis, d := range deltas {
		c.Disposition[axis] = clamp(c.Disposition[axis] + d)
	}
	return c
}

// Tag names the strongest disposition axis, or "calm" when every axis is near zero.
// Ties go to the alphabetically first axis.
func (p Persona) Tag() string {
	axes := make([]string, 0, len(p.Disposition))
	for axis := range p.Disposition {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	best, bestMag := "calm", calmBand
	for _, axis := range axes {
		if m := math.Abs(p.Disposition[axis]); m > bestMag {
			best, bestMag = axis, m
		}
	}
	return best
}

// Refuses reports whether the character will not attempt an action on target.
// Listed targets are refused until trust reaches one half.
func (p Persona) Refuses(target string) bool {
	for _, r := range p.Refusals {
		if r == target {
			return p.Disposition["trust"] < 0.5
		}
	}
	return false
}

// Marshal encodes the persona for persistence.
func (p Persona) Marshal() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalPersona decodes a persisted persona.
func UnmarshalPersona(data string) (Persona, error) {
	var p Persona
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Persona{}, err
	}
	if p.Disposition == nil {
		p.Disposition = make(map[string]float64)
	}
	if p.Memory == nil {
		p.Memory = []Exchange{}
	}
	return p, nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
