package fusion

import (
	"math"
	"sort"

	"security-risk-lab/internal/domain"
)

// Recognized option keys for ConfigFromOptions.
const (
	OptThreatWeight  = "threat_weight"
	OptAnomalyWeight = "anomaly_weight"
)

// weightTolerance bounds |ThreatWeight+AnomalyWeight-1|.
const weightTolerance = 1e-9

// Config holds the fusion weights.
type Config struct {
	ThreatWeight  float64 `mapstructure:"threat_weight"`
	AnomalyWeight float64 `mapstructure:"anomaly_weight"`
}

// DefaultConfig returns 0.6 threat / 0.4 anomaly.
func DefaultConfig() Config {
	return Config{ThreatWeight: 0.6, AnomalyWeight: 0.4}
}

// ConfigFromOptions builds a Config from an option map. Missing keys keep
// their defaults; unknown keys are rejected.
func ConfigFromOptions(opts map[string]float64) (Config, error) {
	cfg := DefaultConfig()
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch k {
		case OptThreatWeight:
			cfg.ThreatWeight = opts[k]
		case OptAnomalyWeight:
			cfg.AnomalyWeight = opts[k]
		default:
			return Config{}, domain.NewConfigError("fusion", "unknown option %q (want %s or %s)", k, OptThreatWeight, OptAnomalyWeight)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks that both weights are finite, non-negative and sum to 1.
// The threat weight is checked first.
func (c Config) Validate() error {
	for _, w := range []struct {
		name  string
		value float64
	}{
		{OptThreatWeight, c.ThreatWeight},
		{OptAnomalyWeight, c.AnomalyWeight},
	} {
		if math.IsNaN(w.value) || math.IsInf(w.value, 0) || w.value < 0 {
			return domain.NewConfigError("fusion", "%s must be a non-negative number, got %v", w.name, w.value)
		}
	}
	sum := c.ThreatWeight + c.AnomalyWeight
	if math.Abs(sum-1) > weightTolerance {
		return domain.NewConfigError("fusion", "weights must sum to 1.0, got %v (%s=%v, %s=%v)",
			sum, OptThreatWeight, c.ThreatWeight, OptAnomalyWeight, c.AnomalyWeight)
	}
	return nil
}
