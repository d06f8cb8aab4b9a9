package features

import (
	"sort"

	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
)

// Family names a group of columns produced by one sub-extractor.
type Family string

const (
	FamilyNumerical   Family = "numerical"
	FamilyCategorical Family = "categorical"
	FamilyTemporal    Family = "temporal"
	FamilyBehavioral  Family = "behavioral"
)

// FamilyOrder is the fixed concatenation order of feature vectors.
var FamilyOrder = []Family{FamilyNumerical, FamilyCategorical, FamilyTemporal, FamilyBehavioral}

// Schema names the source columns of the numerical and categorical families.
type Schema struct {
	Numerical   []string `mapstructure:"numerical"`
	Categorical []string `mapstructure:"categorical"`
}

// DefaultSchema covers the optional typed event fields.
func DefaultSchema() Schema {
	return Schema{
		Numerical:   []string{domain.FieldPort},
		Categorical: []string{domain.FieldEventType, domain.FieldProtocol},
	}
}

// normalized returns a copy with sorted, deduplicated column lists.
func (s Schema) normalized() Schema {
	return Schema{
		Numerical:   sortedUnique(s.Numerical),
		Categorical: sortedUnique(s.Categorical),
	}
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Families toggles the sub-extractors.
type Families struct {
	Numerical   bool `mapstructure:"numerical_enabled"`
	Categorical bool `mapstructure:"categorical_enabled"`
	Temporal    bool `mapstructure:"temporal_enabled"`
	Behavioral  bool `mapstructure:"behavioral_enabled"`
}

// AllFamilies enables every sub-extractor.
func AllFamilies() Families {
	return Families{Numerical: true, Categorical: true, Temporal: true, Behavioral: true}
}

func (f Families) enabled(fam Family) bool {
	switch fam {
	case FamilyNumerical:
		return f.Numerical
	case FamilyCategorical:
		return f.Categorical
	case FamilyTemporal:
		return f.Temporal
	case FamilyBehavioral:
		return f.Behavioral
	}
	return false
}

func (f Families) any() bool {
	return f.Numerical || f.Categorical || f.Temporal || f.Behavioral
}

// Config configures a Codec.
type Config struct {
	Schema   Schema
	Families Families
	Logger   *zap.Logger
}

// DefaultConfig returns the default schema with every family enabled.
func DefaultConfig() Config {
	return Config{Schema: DefaultSchema(), Families: AllFamilies()}
}
