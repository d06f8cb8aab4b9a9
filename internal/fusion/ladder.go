package fusion

import "security-risk-lab/internal/domain"

// rung is one step of the recommendation ladder. A score matches when it is
// strictly greater than Above.
type rung struct {
	Above           float64
	Tier            domain.RiskTier
	Recommendations []string
}

// ladder is evaluated top-down; the first matching rung wins.
var ladder = []rung{
	{
		Above: 0.8,
		Tier:  domain.TierCritical,
		Recommendations: []string{
			"Immediate action required",
			"Isolate affected systems",
			"Initiate incident response protocol",
			"Notify security team immediately",
		},
	},
	{
		Above: 0.6,
		Tier:  domain.TierHigh,
		Recommendations: []string{
			"Urgent attention needed",
			"Investigate suspicious activity",
			"Increase monitoring",
			"Prepare for potential incident response",
		},
	},
	{
		Above: 0.4,
		Tier:  domain.TierMedium,
		Recommendations: []string{
			"Enhanced monitoring required",
			"Review security logs",
			"Update security rules if needed",
		},
	},
}

var lowRecommendations = []string{
	"Continue normal monitoring",
	"Log for future reference",
}

// TierFor maps a combined score to its tier.
func TierFor(score float64) domain.RiskTier {
	tier, _ := classify(score)
	return tier
}

// Recommendations returns a fresh copy of the recommendations for tier.
func Recommendations(tier domain.RiskTier) []string {
	for _, r := range ladder {
		if r.Tier == tier {
			return copyStrings(r.Recommendations)
		}
	}
	return copyStrings(lowRecommendations)
}

func classify(score float64) (domain.RiskTier, []string) {
	for _, r := range ladder {
		if score > r.Above {
			return r.Tier, copyStrings(r.Recommendations)
		}
	}
	return domain.TierLow, copyStrings(lowRecommendations)
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
