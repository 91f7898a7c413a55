package trait

import (
	"fmt"
	"math"
	"strings"
)

// #region trait
// Trait identifies one of the five fixed personality-style dimensions.
type Trait int

const (
	Openness Trait = iota
	Conscientiousness
	Extraversion
	Agreeableness
	Neuroticism
)

// Count is the number of trait dimensions.
const Count = 5

// Midpoint is the neutral value every trait starts at.
const Midpoint = 0.5

// resolution is the number of steps per unit trait values are snapped to.
// Snapped values reflect around the midpoint exactly.
const resolution = 1e12

// All lists traits in canonical order.
var All = [Count]Trait{Openness, Conscientiousness, Extraversion, Agreeableness, Neuroticism}

var names = [Count]string{"openness", "conscientiousness", "extraversion", "agreeableness", "neuroticism"}

func (t Trait) String() string {
	if t < 0 || int(t) >= Count {
		return fmt.Sprintf("trait(%d)", int(t))
	}
	return names[t]
}

// Valid reports whether t is one of the five known traits.
func (t Trait) Valid() bool {
	return t >= 0 && int(t) < Count
}

// #endregion trait

// #region parse
var aliases = map[string]Trait{
	"openness":          Openness,
	"o":                 Openness,
	"conscientiousness": Conscientiousness,
	"c":                 Conscientiousness,
	"extraversion":      Extraversion,
	"extroversion":      Extraversion,
	"e":                 Extraversion,
	"agreeableness":     Agreeableness,
	"a":                 Agreeableness,
	"neuroticism":       Neuroticism,
	"n":                 Neuroticism,
}

// Parse resolves a trait name or its single-letter alias (case-insensitive).
func Parse(name string) (Trait, error) {
	t, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown trait %q", name)
	}
	return t, nil
}

// #endregion parse

// #region vector
// Vector maps every trait to a value in [0, 1].
type Vector [Count]float64

// Default returns a vector with every trait at the midpoint.
func Default() Vector {
	var v Vector
	for i := range v {
		v[i] = Midpoint
	}
	return v
}

// Get returns the value for t.
func (v Vector) Get(t Trait) float64 {
	return v[t]
}

// With returns a copy of v with t set to val (clamped).
func (v Vector) With(t Trait, val float64) Vector {
	v[t] = Clamp(val)
	return v
}

// Clamped returns v with every value clamped to [0, 1]. NaN becomes the midpoint.
func (v Vector) Clamped() Vector {
	for i := range v {
		v[i] = Clamp(v[i])
	}
	return v
}

// Opposite reflects every trait around the midpoint. Applying it twice returns
// the original vector for any clamped vector.
func (v Vector) Opposite() Vector {
	for i := range v {
		v[i] = Clamp(1 - v[i])
	}
	return v
}

// Map returns the vector keyed by canonical trait name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, Count)
	for _, t := range All {
		m[t.String()] = v[t]
	}
	return m
}

// FromMap builds a vector from named values. Missing traits default to the
// midpoint; unknown names and out-of-range values are rejected.
func FromMap(m map[string]float64) (Vector, error) {
	v := Default()
	for name, val := range m {
		t, err := Parse(name)
		if err != nil {
			return Vector{}, err
		}
		if math.IsNaN(val) || val < 0 || val > 1 {
			return Vector{}, fmt.Errorf("trait %s: value %v outside [0,1]", t, val)
		}
		v[t] = Clamp(val)
	}
	return v, nil
}

// Distance is the L2 distance between two vectors.
func Distance(a, b Vector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Clamp bounds x to [0, 1] and snaps it to twelve decimal places.
func Clamp(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return Midpoint
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return math.Round(x*resolution) / resolution
}

// #endregion vector

// #region presets
// Presets are the named starting profiles offered to users.
var Presets = map[string]Vector{
	"balanced":   {0.5, 0.5, 0.5, 0.5, 0.5},
	"creative":   {0.9, 0.3, 0.6, 0.5, 0.4},
	"structured": {0.4, 0.9, 0.6, 0.5, 0.2},
	"supportive": {0.5, 0.5, 0.4, 0.9, 0.6},
	"direct":     {0.5, 0.7, 0.7, 0.2, 0.2},
}

// #endregion presets
