package metrics

import "security-risk-lab/internal/domain"

// confusion counts binary outcomes with 1 as the positive (threat) class.
type confusion struct {
	tp, fp, tn, fn int
}

func (c confusion) total() int {
	return c.tp + c.fp + c.tn + c.fn
}

// ComputeClassification derives accuracy, precision, recall, f1, false
// positive rate and detection rate from binary labels and predictions.
// Any non-zero value counts as positive. Zero denominators yield 0.
func ComputeClassification(labels, predictions []int) (domain.MetricsSnapshot, error) {
	if len(labels) != len(predictions) {
		return nil, domain.NewValidationError("predictions",
			"length %d does not match labels length %d", len(predictions), len(labels))
	}
	if len(labels) == 0 {
		return nil, domain.NewEmptyBatchError("compute_metrics")
	}

	var c confusion
	for i := range labels {
		actual := labels[i] != 0
		predicted := predictions[i] != 0
		switch {
		case actual && predicted:
			c.tp++
		case !actual && predicted:
			c.fp++
		case !actual && !predicted:
			c.tn++
		default:
			c.fn++
		}
	}

	precision := ratio(c.tp, c.tp+c.fp)
	recall := ratio(c.tp, c.tp+c.fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return domain.MetricsSnapshot{
		Accuracy:          ratio(c.tp+c.tn, c.total()),
		Precision:         precision,
		Recall:            recall,
		F1Score:           f1,
		FalsePositiveRate: ratio(c.fp, c.fp+c.tn),
		DetectionRate:     recall,
		Support:           float64(c.total()),
	}, nil
}

// ThresholdPredictions converts scores to binary predictions: score > threshold → 1.
func ThresholdPredictions(scores []float64, threshold float64) ([]int, error) {
	if threshold < 0 || threshold > 1 {
		return nil, domain.NewValidationError("threshold", "must be within [0,1], got %v", threshold)
	}
	out := make([]int, len(scores))
	for i, s := range scores {
		if s > threshold {
			out[i] = 1
		}
	}
	return out, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
