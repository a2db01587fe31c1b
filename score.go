/*
Copyright © 2022 the Footprint authors.
This file is part of Footprint.

Footprint is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Footprint is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Footprint.  If not, see <http://www.gnu.org/licenses/>.
*/

package footprint

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// ScoreFunc identifies one of the pixelwise scoring function kinds.
type ScoreFunc int

const (
	// ScoreBins maps values to scores through half-open intervals [lo, hi).
	ScoreBins ScoreFunc = iota
	// ScoreExp applies exponential decay to a distance value.
	ScoreExp
	// ScoreLog applies a capped base-10 logarithm.
	ScoreLog
	// ScoreCategorical maps category codes (or, for burned vector layers,
	// passes already-assigned scores through).
	ScoreCategorical
	// ScoreQuantileBins derives equal-frequency bins from the raster's
	// own value distribution.
	ScoreQuantileBins
)

func (f ScoreFunc) String() string {
	switch f {
	case ScoreBins:
		return "bins"
	case ScoreExp:
		return "exp"
	case ScoreLog:
		return "log"
	case ScoreCategorical:
		return "categories"
	case ScoreQuantileBins:
		return "equal_sample_bins"
	default:
		return fmt.Sprintf("ScoreFunc(%d)", int(f))
	}
}

func parseScoreFunc(s string) (ScoreFunc, error) {
	switch s {
	case "bins":
		return ScoreBins, nil
	case "exp":
		return ScoreExp, nil
	case "log":
		return ScoreLog, nil
	case "categories":
		return ScoreCategorical, nil
	case "equal_sample_bins":
		return ScoreQuantileBins, nil
	default:
		return 0, fmt.Errorf("footprint: unknown scoring function %q", s)
	}
}

// encodeMissing is burned for category labels absent from the scoring
// method, so defective features are visible in the prepared raster.
const encodeMissing = 999

// Bin is a half-open scoring interval [Lo, Hi).
type Bin struct {
	Lo, Hi float64
	Score  float64
}

func (b Bin) contains(v float64) bool { return v >= b.Lo && v < b.Hi }

// Category maps a set of raster codes or vector attribute labels to one
// score.
type Category struct {
	Label  string
	Score  float64
	Values []float64
	Labels []string
}

// ScoringMethod holds the parameters of one named scoring method. Only
// the fields relevant to Func are meaningful.
type ScoringMethod struct {
	Name string
	Func ScoreFunc

	// Exponential decay.
	MaxScore    float64
	MaxScoreExp float64
	MinScoreExp float64
	MaxDist     float64

	// Logarithm (shares MaxScore).
	MultFactor    float64
	ScalingFactor float64

	// Bins.
	Bins []Bin

	// Categories. PassThrough marks methods whose layers arrive with the
	// score already burned by the categorical encoder.
	Categories  []Category
	PassThrough bool

	// Equal-frequency bins.
	NumberBins   int
	MinThreshold float64

	// Preparation hints carried by the template.
	Resampling string
	SettleDist float64
	NavDist    float64
}

// ScoringTemplate is a named collection of scoring methods, loaded from
// a TOML file.
type ScoringTemplate struct {
	Name    string
	Methods map[string]*ScoringMethod
}

// Method returns the named scoring method or an error naming the
// template.
func (t *ScoringTemplate) Method(name string) (*ScoringMethod, error) {
	m, ok := t.Methods[name]
	if !ok {
		return nil, fmt.Errorf("footprint: scoring method %q not in template %q", name, t.Name)
	}
	return m, nil
}

type templateFile struct {
	Name    string                  `toml:"name"`
	Methods map[string]methodConfig `toml:"methods"`
}

type methodConfig struct {
	Func        string  `toml:"func"`
	MaxScore    float64 `toml:"max_score"`
	MaxScoreExp float64 `toml:"max_score_exp"`
	MinScoreExp float64 `toml:"min_score_exp"`
	MaxDist     float64 `toml:"max_dist"`

	MultFactor    float64 `toml:"mult_factor"`
	ScalingFactor float64 `toml:"scaling_factor"`

	Bins []binConfig `toml:"bins"`

	Categories  []categoryConfig `toml:"categories"`
	PassThrough bool             `toml:"pass_through"`

	NumberBins   int     `toml:"number_bins"`
	MinThreshold float64 `toml:"min_threshold"`

	Resampling string  `toml:"resampling_method"`
	SettleDist float64 `toml:"sett_dist"`
	NavDist    float64 `toml:"navi_dist"`
}

type binConfig struct {
	Lo    float64  `toml:"lo"`
	Hi    *float64 `toml:"hi"` // nil means unbounded
	Score float64  `toml:"score"`
}

type categoryConfig struct {
	Label  string    `toml:"label"`
	Score  float64   `toml:"score"`
	Values []float64 `toml:"values"`
	Labels []string  `toml:"labels"`
}

// LoadScoringTemplate reads and validates a scoring template. Any method
// with an unknown function name makes the whole load fail, so bad
// templates are caught before any stage runs.
func LoadScoringTemplate(path string) (*ScoringTemplate, error) {
	var tf templateFile
	if _, err := toml.DecodeFile(path, &tf); err != nil {
		return nil, fmt.Errorf("footprint: reading scoring template %s: %v", path, err)
	}
	t := &ScoringTemplate{
		Name:    tf.Name,
		Methods: make(map[string]*ScoringMethod, len(tf.Methods)),
	}
	for name, mc := range tf.Methods {
		m, err := mc.toMethod(name)
		if err != nil {
			return nil, fmt.Errorf("footprint: scoring template %s: %v", path, err)
		}
		t.Methods[name] = m
	}
	return t, nil
}

func (mc methodConfig) toMethod(name string) (*ScoringMethod, error) {
	f, err := parseScoreFunc(mc.Func)
	if err != nil {
		return nil, fmt.Errorf("method %q: %v", name, err)
	}
	m := &ScoringMethod{
		Name:          name,
		Func:          f,
		MaxScore:      mc.MaxScore,
		MaxScoreExp:   mc.MaxScoreExp,
		MinScoreExp:   mc.MinScoreExp,
		MaxDist:       mc.MaxDist,
		MultFactor:    mc.MultFactor,
		ScalingFactor: mc.ScalingFactor,
		PassThrough:   mc.PassThrough,
		NumberBins:    mc.NumberBins,
		MinThreshold:  mc.MinThreshold,
		Resampling:    mc.Resampling,
		SettleDist:    mc.SettleDist,
		NavDist:       mc.NavDist,
	}
	switch f {
	case ScoreBins:
		if len(mc.Bins) == 0 {
			return nil, fmt.Errorf("method %q: bins function with no bins", name)
		}
		for _, bc := range mc.Bins {
			hi := math.Inf(1)
			if bc.Hi != nil {
				hi = *bc.Hi
			}
			if bc.Lo >= hi {
				return nil, fmt.Errorf("method %q: bin [%g, %g) is empty", name, bc.Lo, hi)
			}
			m.Bins = append(m.Bins, Bin{Lo: bc.Lo, Hi: hi, Score: bc.Score})
		}
	case ScoreCategorical:
		if len(mc.Categories) == 0 && !mc.PassThrough {
			return nil, fmt.Errorf("method %q: categories function with no categories", name)
		}
		for _, cc := range mc.Categories {
			m.Categories = append(m.Categories, Category(cc))
		}
	case ScoreQuantileBins:
		if mc.NumberBins <= 0 {
			m.NumberBins = 10
		}
	}
	return m, nil
}

// CategoricalEncoder translates string attribute labels to numeric burn
// values for one categorical scoring method. The burn value is the
// category's score, so burned layers score by pass-through.
type CategoricalEncoder struct {
	method *ScoringMethod
	codes  map[string]float64
}

// NewCategoricalEncoder builds the label lookup for a categorical
// method.
func NewCategoricalEncoder(m *ScoringMethod) (*CategoricalEncoder, error) {
	if m.Func != ScoreCategorical {
		return nil, fmt.Errorf("footprint: method %q is %v, not categorical", m.Name, m.Func)
	}
	codes := make(map[string]float64)
	for _, c := range m.Categories {
		for _, l := range c.Labels {
			codes[l] = c.Score
		}
	}
	return &CategoricalEncoder{method: m, codes: codes}, nil
}

// Encode returns the burn value for an attribute label. Labels missing
// from the method are a data defect: they are logged and burned with the
// encodeMissing marker.
func (e *CategoricalEncoder) Encode(label string) float64 {
	if v, ok := e.codes[label]; ok {
		return v
	}
	logrus.WithFields(logrus.Fields{
		"method": e.method.Name,
		"label":  label,
	}).Warn("category label not in scoring method")
	return encodeMissing
}

// BurnField returns a BurnFunc that encodes the named attribute field of
// each feature.
func (e *CategoricalEncoder) BurnField(field string) BurnFunc {
	return func(f *Feature) (float64, bool) {
		label, ok := f.Fields[field]
		if !ok {
			return 0, false
		}
		return e.Encode(label), true
	}
}

// Scorer applies scoring methods to prepared rasters. Equal-frequency
// bin tables are derived once per key and memoized, so every pixel of a
// raster (and every reuse of the same prepared layer) sees the same
// bins.
type Scorer struct {
	Template *ScoringTemplate

	mx       sync.Mutex
	binCache map[string][]Bin

	warnMx sync.Mutex
	warned map[string]map[float64]bool
}

// NewScorer returns a Scorer for the given template.
func NewScorer(t *ScoringTemplate) *Scorer {
	return &Scorer{
		Template: t,
		binCache: make(map[string][]Bin),
		warned:   make(map[string]map[float64]bool),
	}
}

// Score applies method m to raster r and returns a new scored raster.
// key identifies the prepared layer for quantile-bin memoization; units
// is the layer's declared unit (exponential decay interprets distances
// by it). Nodata pixels score 0.
func (s *Scorer) Score(key string, r *Raster, m *ScoringMethod, units Units) (*Raster, error) {
	var apply func(v float64) float64
	switch m.Func {
	case ScoreBins:
		apply = func(v float64) float64 { return scoreBins(v, m.Bins) }
	case ScoreExp:
		var err error
		apply, err = expFunction(m, units)
		if err != nil {
			return nil, err
		}
	case ScoreLog:
		apply = func(v float64) float64 {
			score := m.MultFactor * math.Log10(v/m.ScalingFactor+1)
			if score > m.MaxScore {
				return m.MaxScore
			}
			return score
		}
	case ScoreCategorical:
		if m.PassThrough {
			// The missing-label sentinel was already reported at burn
			// time; score it 0 so it cannot leak past the score range.
			apply = func(v float64) float64 {
				if v == encodeMissing {
					return 0
				}
				return v
			}
		} else {
			apply = func(v float64) float64 { return s.scoreCategory(v, m) }
		}
	case ScoreQuantileBins:
		bins, err := s.quantileBins(key, r, m)
		if err != nil {
			return nil, err
		}
		apply = func(v float64) float64 { return scoreBins(v, bins) }
	default:
		return nil, fmt.Errorf("footprint: method %q: unhandled scoring function %v", m.Name, m.Func)
	}

	out := NewRaster(r.Grid)
	for i, v := range r.Data.Elements {
		if v == r.NoData {
			out.Data.Elements[i] = 0
			continue
		}
		out.Data.Elements[i] = apply(v)
	}
	return out, nil
}

func expFunction(m *ScoringMethod, units Units) (func(float64) float64, error) {
	var scale float64
	switch units {
	case UnitMeters, UnitHabPerPixel:
		scale = 1000
	case UnitKilometers:
		scale = 1
	default:
		return nil, fmt.Errorf("footprint: method %q: exponential decay undefined for units %v", m.Name, units)
	}
	return func(v float64) float64 {
		switch {
		case v > m.MaxDist:
			return 0
		case v == 0:
			return m.MaxScore
		default:
			return m.MaxScoreExp*math.Exp(-v/scale) + m.MinScoreExp
		}
	}, nil
}

func scoreBins(v float64, bins []Bin) float64 {
	if v == EmptyProximity {
		return 0
	}
	for _, b := range bins {
		if b.contains(v) {
			return b.Score
		}
	}
	return 0
}

func (s *Scorer) scoreCategory(v float64, m *ScoringMethod) float64 {
	for _, c := range m.Categories {
		for _, code := range c.Values {
			if v == code {
				return c.Score
			}
		}
	}
	s.warnUnmatched(m.Name, v)
	return 0
}

// warnUnmatched logs each unmatched category value once per method.
func (s *Scorer) warnUnmatched(method string, v float64) {
	s.warnMx.Lock()
	defer s.warnMx.Unlock()
	seen := s.warned[method]
	if seen == nil {
		seen = make(map[float64]bool)
		s.warned[method] = seen
	}
	if !seen[v] {
		seen[v] = true
		logrus.WithFields(logrus.Fields{
			"method": method,
			"value":  v,
		}).Warn("category value not in scoring method")
	}
}

func (s *Scorer) quantileBins(key string, r *Raster, m *ScoringMethod) ([]Bin, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if bins, ok := s.binCache[key]; ok {
		return bins, nil
	}
	bins, err := deriveQuantileBins(r, m.MinThreshold, m.NumberBins)
	if err != nil {
		return nil, fmt.Errorf("footprint: method %q: %v", m.Name, err)
	}
	s.binCache[key] = bins
	return bins, nil
}

// deriveQuantileBins computes n equal-frequency bins over the raster's
// values after dropping values below the threshold, zeros, and nodata.
// Bins are labeled 1..n by ascending value and the last bin is
// unbounded.
func deriveQuantileBins(r *Raster, minThreshold float64, n int) ([]Bin, error) {
	vals := make([]float64, 0, len(r.Data.Elements))
	for _, v := range r.Data.Elements {
		if v < minThreshold || v == 0 || v == r.NoData {
			continue
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("no values above threshold %g to derive bins from", minThreshold)
	}
	sort.Float64s(vals)

	limits := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		limits[i] = quantileMidpoint(vals, float64(i)/float64(n))
	}
	bins := make([]Bin, n)
	for i := 0; i < n; i++ {
		bins[i] = Bin{Lo: limits[i], Hi: limits[i+1], Score: float64(i + 1)}
	}
	bins[n-1].Hi = math.Inf(1)
	return bins, nil
}

// quantileMidpoint is the q-quantile of sorted vals with midpoint
// interpolation: a fractional sample position averages its two
// neighbors.
func quantileMidpoint(vals []float64, q float64) float64 {
	h := q * float64(len(vals)-1)
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	if lo == hi {
		return vals[lo]
	}
	return (vals[lo] + vals[hi]) / 2
}
