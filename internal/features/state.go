package features

import (
	"math"
	"sort"

	"security-risk-lab/internal/domain"
)

// Scaler holds z-score parameters for one column.
// Var is the population variance of the values seen so far.
type Scaler struct {
	Mean  float64 `json:"mean"`
	Var   float64 `json:"var"`
	Count int     `json:"count"`
}

// Scale returns the standard deviation, or 1 for a constant column.
func (s Scaler) Scale() float64 {
	std := math.Sqrt(s.Var)
	if std == 0 || math.IsNaN(std) {
		return 1
	}
	return std
}

// Apply normalizes x.
func (s Scaler) Apply(x float64) float64 {
	return (x - s.Mean) / s.Scale()
}

func fitScaler(values []float64) Scaler {
	if len(values) == 0 {
		return Scaler{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Scaler{Mean: mean, Var: sq / float64(len(values)), Count: len(values)}
}

// merge combines two scalers as if fitted on the union of their values.
func (s Scaler) merge(o Scaler) Scaler {
	if s.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return s
	}
	na, nb := float64(s.Count), float64(o.Count)
	n := na + nb
	delta := o.Mean - s.Mean
	m2 := s.Var*na + o.Var*nb + delta*delta*na*nb/n
	return Scaler{
		Mean:  s.Mean + delta*nb/n,
		Var:   m2 / n,
		Count: s.Count + o.Count,
	}
}

// Vocabulary maps category labels to dense integer codes.
// Codes are never reassigned; new labels are appended.
type Vocabulary struct {
	labels []string
	codes  map[string]int
}

// NewVocabulary creates an empty vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{codes: make(map[string]int)}
}

// Extend appends unseen labels in sorted order and returns how many were added.
func (v *Vocabulary) Extend(labels []string) int {
	var fresh []string
	seen := make(map[string]struct{})
	for _, l := range labels {
		if _, ok := v.codes[l]; ok {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		fresh = append(fresh, l)
	}
	sort.Strings(fresh)
	for _, l := range fresh {
		v.codes[l] = len(v.labels)
		v.labels = append(v.labels, l)
	}
	return len(fresh)
}

// Code returns the code for label.
func (v *Vocabulary) Code(label string) (int, bool) {
	c, ok := v.codes[label]
	return c, ok
}

// Label returns the label for code.
func (v *Vocabulary) Label(code int) (string, bool) {
	if code < 0 || code >= len(v.labels) {
		return "", false
	}
	return v.labels[code], true
}

// Len returns the number of known labels.
func (v *Vocabulary) Len() int {
	return len(v.labels)
}

// Labels returns the labels in code order.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

func (v *Vocabulary) clone() *Vocabulary {
	c := &Vocabulary{
		labels: v.Labels(),
		codes:  make(map[string]int, len(v.codes)),
	}
	for k, code := range v.codes {
		c.codes[k] = code
	}
	return c
}

// TransformState is the fitted state of one Codec.
type TransformState struct {
	Numerical  map[string]Scaler      // numerical columns observed at fit
	Categories map[string]*Vocabulary // categorical columns observed at fit
	Temporal   []Scaler               // one per temporal column; empty if no timestamps were seen
	UserBlock  bool                   // user_id seen at fit
	IPBlock    bool                   // ip_address seen at fit
}

// NewTransformState returns an empty state.
func NewTransformState() *TransformState {
	return &TransformState{
		Numerical:  make(map[string]Scaler),
		Categories: make(map[string]*Vocabulary),
	}
}

// validate rejects shapes the transform cannot index: a temporal block that
// is neither empty nor one scaler per temporal column, and nil vocabularies.
func (s *TransformState) validate() error {
	if n := len(s.Temporal); n != 0 && n != len(temporalColumns) {
		return domain.NewConfigError("load_state", "temporal state has %d scalers, want 0 or %d", n, len(temporalColumns))
	}
	for col, v := range s.Categories {
		if v == nil {
			return domain.NewConfigError("load_state", "vocabulary for column %q is nil", col)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *TransformState) Clone() *TransformState {
	c := NewTransformState()
	for k, v := range s.Numerical {
		c.Numerical[k] = v
	}
	for k, v := range s.Categories {
		c.Categories[k] = v.clone()
	}
	if len(s.Temporal) > 0 {
		c.Temporal = make([]Scaler, len(s.Temporal))
		copy(c.Temporal, s.Temporal)
	}
	c.UserBlock = s.UserBlock
	c.IPBlock = s.IPBlock
	return c
}
