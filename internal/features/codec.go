// Package features turns raw events into fixed-width numeric feature vectors.
//
// A Codec owns one TransformState. Fit, PartialFit, FitTransform and
// LoadState hold the codec's exclusive lock; Transform holds the shared lock,
// so transforms may run concurrently with each other but never with a fit.
package features

import (
	"sync"

	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
)

// Codec encodes raw events into feature vectors.
type Codec struct {
	mu       sync.RWMutex
	schema   Schema
	families Families
	logger   *zap.Logger

	state  *TransformState
	fitted bool
}

// NewCodec creates an unfitted codec.
func NewCodec(cfg Config) (*Codec, error) {
	if !cfg.Families.any() {
		return nil, domain.NewConfigError("features", "no feature family enabled")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{
		schema:   cfg.Schema.normalized(),
		families: cfg.Families,
		logger:   logger,
		state:    NewTransformState(),
	}, nil
}

// Config returns the configuration the codec was built with.
// Use it to build an independent codec with the same layout rules.
func (c *Codec) Config() Config {
	return Config{Schema: c.schema, Families: c.families, Logger: c.logger}
}

// Fitted reports whether the codec has state to transform with.
func (c *Codec) Fitted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fitted
}

// Fit re-estimates the state from records only, discarding previous state.
func (c *Codec) Fit(records []domain.RawEvent) error {
	p, err := prepare(records, "fit")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = NewTransformState()
	c.extendLocked(p)
	return nil
}

// PartialFit extends the state with records. Vocabularies grow and scalers
// combine with the statistics already held.
func (c *Codec) PartialFit(records []domain.RawEvent) error {
	p, err := prepare(records, "partial_fit")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.extendLocked(p)
	return nil
}

// FitTransform re-estimates the state from this batch alone and encodes it.
// Vectors from separate FitTransform calls are not comparable; use Fit once
// and Transform many times for cross-batch stability.
func (c *Codec) FitTransform(records []domain.RawEvent) ([]domain.FeatureVector, error) {
	p, err := prepare(records, "fit_transform")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = NewTransformState()
	c.extendLocked(p)
	return c.transformLocked(p), nil
}

// Transform encodes records with the fitted state.
func (c *Codec) Transform(records []domain.RawEvent) ([]domain.FeatureVector, error) {
	p, err := prepare(records, "transform")
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.fitted {
		return nil, domain.NewConfigError("transform", "codec is not fitted")
	}
	return c.transformLocked(p), nil
}

// State returns a deep copy of the fitted state.
func (c *Codec) State() *TransformState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// LoadState replaces the state with a copy of s and marks the codec fitted.
func (c *Codec) LoadState(s *TransformState) error {
	if s == nil {
		return domain.NewConfigError("load_state", "state is nil")
	}
	if err := s.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s.Clone()
	c.fitted = true
	return nil
}

// EncodeCategory returns the code assigned to label in column.
func (c *Codec) EncodeCategory(column, label string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state.Categories[column]
	if !ok {
		return 0, false
	}
	return v.Code(label)
}

// DecodeCategory returns the label assigned to code in column.
func (c *Codec) DecodeCategory(column string, code int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state.Categories[column]
	if !ok {
		return "", false
	}
	return v.Label(code)
}

// Width returns the vector width for the current state.
func (c *Codec) Width() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := 0
	for _, fw := range c.familyWidthsLocked() {
		w += fw
	}
	return w
}

// FamilyWidths returns the width contributed by each family.
func (c *Codec) FamilyWidths() map[Family]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.familyWidthsLocked()
}

// FeatureNames returns the column names in vector order.
func (c *Codec) FeatureNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.featureNamesLocked()
}

func (c *Codec) extendLocked(p *prepared) {
	s := c.state

	if c.families.Numerical {
		for _, col := range c.schema.Numerical {
			var vals []float64
			for i := range p.records {
				if v, ok := p.records[i].NumericField(col); ok {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				continue
			}
			s.Numerical[col] = s.Numerical[col].merge(fitScaler(vals))
		}
	}

	if c.families.Categorical {
		for _, col := range c.schema.Categorical {
			var labels []string
			for i := range p.records {
				if v, ok := p.records[i].CategoricalField(col); ok {
					labels = append(labels, v)
				}
			}
			if len(labels) == 0 {
				continue
			}
			v, ok := s.Categories[col]
			if !ok {
				v = NewVocabulary()
				s.Categories[col] = v
			}
			v.Extend(labels)
		}
	}

	if c.families.Temporal {
		cols := make([][]float64, len(temporalColumns))
		for i := range p.records {
			if !p.hasTime[i] {
				continue
			}
			for j, v := range temporalValues(p.times[i]) {
				cols[j] = append(cols[j], v)
			}
		}
		if len(cols[0]) > 0 {
			if len(s.Temporal) != len(temporalColumns) {
				s.Temporal = make([]Scaler, len(temporalColumns))
			}
			for j := range cols {
				s.Temporal[j] = s.Temporal[j].merge(fitScaler(cols[j]))
			}
		}
	}

	if c.families.Behavioral {
		for i := range p.records {
			if p.records[i].UserID != "" {
				s.UserBlock = true
			}
			if p.records[i].IPAddress != "" {
				s.IPBlock = true
			}
		}
	}

	c.fitted = true
	c.logger.Debug("feature state fitted",
		zap.Int("records", len(p.records)),
		zap.Int("width", sumWidths(c.familyWidthsLocked())),
	)
}

func (c *Codec) transformLocked(p *prepared) []domain.FeatureVector {
	s := c.state
	widths := c.familyWidthsLocked()
	width := sumWidths(widths)

	var behavior *behaviorStats
	if c.families.Behavioral && (s.UserBlock || s.IPBlock) {
		behavior = computeBehavior(p.records)
	}

	out := make([]domain.FeatureVector, len(p.records))
	for i := range p.records {
		e := &p.records[i]
		row := make(domain.FeatureVector, 0, width)

		if c.families.Numerical {
			for _, col := range c.schema.Numerical {
				sc, ok := s.Numerical[col]
				if !ok {
					continue
				}
				v, present := e.NumericField(col)
				if !present {
					row = append(row, 0)
					continue
				}
				row = append(row, sc.Apply(v))
			}
		}

		if c.families.Categorical {
			for _, col := range c.schema.Categorical {
				vocab, ok := s.Categories[col]
				if !ok {
					continue
				}
				block := make([]float64, vocab.Len())
				if label, present := e.CategoricalField(col); present {
					if code, known := vocab.Code(label); known {
						block[code] = 1
					}
				}
				row = append(row, block...)
			}
		}

		if c.families.Temporal {
			switch {
			case len(s.Temporal) == 0:
				row = append(row, 0)
			case !p.hasTime[i]:
				row = append(row, make([]float64, len(s.Temporal))...)
			default:
				for j, v := range temporalValues(p.times[i]) {
					row = append(row, s.Temporal[j].Apply(v))
				}
			}
		}

		if c.families.Behavioral {
			if !s.UserBlock && !s.IPBlock {
				row = append(row, 0)
			} else {
				if s.UserBlock {
					row = append(row, behavior.userValues(e)...)
				}
				if s.IPBlock {
					row = append(row, behavior.ipValues(e)...)
				}
			}
		}

		out[i] = row
	}
	return out
}

func (c *Codec) familyWidthsLocked() map[Family]int {
	s := c.state
	w := make(map[Family]int, len(FamilyOrder))
	for _, fam := range FamilyOrder {
		if !c.families.enabled(fam) {
			w[fam] = 0
			continue
		}
		switch fam {
		case FamilyNumerical:
			for _, col := range c.schema.Numerical {
				if _, ok := s.Numerical[col]; ok {
					w[fam]++
				}
			}
		case FamilyCategorical:
			for _, col := range c.schema.Categorical {
				if v, ok := s.Categories[col]; ok {
					w[fam] += v.Len()
				}
			}
		case FamilyTemporal:
			if len(s.Temporal) == 0 {
				w[fam] = 1
			} else {
				w[fam] = len(s.Temporal)
			}
		case FamilyBehavioral:
			if s.UserBlock {
				w[fam] += len(userColumns)
			}
			if s.IPBlock {
				w[fam] += len(ipColumns)
			}
			if w[fam] == 0 {
				w[fam] = 1
			}
		}
	}
	return w
}

func (c *Codec) featureNamesLocked() []string {
	s := c.state
	var names []string
	if c.families.Numerical {
		for _, col := range c.schema.Numerical {
			if _, ok := s.Numerical[col]; ok {
				names = append(names, col)
			}
		}
	}
	if c.families.Categorical {
		for _, col := range c.schema.Categorical {
			v, ok := s.Categories[col]
			if !ok {
				continue
			}
			for _, label := range v.labels {
				names = append(names, col+"="+label)
			}
		}
	}
	if c.families.Temporal {
		if len(s.Temporal) == 0 {
			names = append(names, temporalMissingColumn)
		} else {
			names = append(names, temporalColumns...)
		}
	}
	if c.families.Behavioral {
		if !s.UserBlock && !s.IPBlock {
			names = append(names, behavioralMissingColumn)
		}
		if s.UserBlock {
			names = append(names, userColumns...)
		}
		if s.IPBlock {
			names = append(names, ipColumns...)
		}
	}
	return names
}

func sumWidths(w map[Family]int) int {
	n := 0
	for _, v := range w {
		n += v
	}
	return n
}
