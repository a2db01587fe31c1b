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
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testScoreGrid(t *testing.T, nx, ny int) *GridDef {
	t.Helper()
	g, err := NewGridDef(nx, ny, 1000, 1000, 0, 0, "+proj=utm +zone=17 +south +datum=WGS84 +units=m")
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestScoreExp(t *testing.T) {
	m := &ScoringMethod{
		Name:        "road_scores_l1",
		Func:        ScoreExp,
		MaxScore:    8,
		MaxScoreExp: 4,
		MinScoreExp: 0,
		MaxDist:     15000,
	}
	g := testScoreGrid(t, 4, 1)
	r := rasterFromRows(g, [][]float64{{0, 1000, 15001, NoData}})
	s := NewScorer(&ScoringTemplate{Name: "test"})
	got, err := s.Score("roads", r, m, UnitMeters)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{8, 4 * math.Exp(-1), 0, 0}
	for j, w := range want {
		if v := got.Data.Get(0, j); math.Abs(v-w) > 1e-12 {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}
	// Monotonically non-increasing inside (0, maxDist].
	prev := math.Inf(1)
	for d := 1.0; d <= 15000; d += 1499 {
		rr := rasterFromRows(testScoreGrid(t, 1, 1), [][]float64{{d}})
		sc, err := s.Score("roads", rr, m, UnitMeters)
		if err != nil {
			t.Fatal(err)
		}
		v := sc.Data.Get(0, 0)
		if v > prev {
			t.Errorf("score increased from %g to %g at distance %g", prev, v, d)
		}
		prev = v
	}
}

func TestScoreExpKilometers(t *testing.T) {
	m := &ScoringMethod{
		Func: ScoreExp, MaxScore: 4, MaxScoreExp: 4, MaxDist: 10,
	}
	g := testScoreGrid(t, 1, 1)
	r := rasterFromRows(g, [][]float64{{2}})
	s := NewScorer(&ScoringTemplate{})
	got, err := s.Score("rivers", r, m, UnitKilometers)
	if err != nil {
		t.Fatal(err)
	}
	if v, w := got.Data.Get(0, 0), 4*math.Exp(-2); math.Abs(v-w) > 1e-12 {
		t.Errorf("got %g, want %g", v, w)
	}
	if _, err := s.Score("rivers", r, m, UnitCategorical); err == nil {
		t.Error("expected error for categorical units with exponential decay")
	}
}

func TestScoreBins(t *testing.T) {
	m := &ScoringMethod{
		Name: "railways_scores",
		Func: ScoreBins,
		Bins: []Bin{
			{Lo: 0, Hi: 90, Score: 8},
			{Lo: 90, Hi: math.Inf(1), Score: 0},
		},
	}
	g := testScoreGrid(t, 5, 1)
	r := rasterFromRows(g, [][]float64{{0, 89.999, 90, EmptyProximity, NoData}})
	s := NewScorer(&ScoringTemplate{})
	got, err := s.Score("rail", r, m, UnitMeters)
	if err != nil {
		t.Fatal(err)
	}
	// Boundaries are half-open: a value exactly at a boundary belongs to
	// the bin naming it as lo; the empty-proximity sentinel scores 0.
	want := []float64{8, 8, 0, 0, 0}
	for j, w := range want {
		if v := got.Data.Get(0, j); v != w {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}
}

func TestScoreLog(t *testing.T) {
	m := &ScoringMethod{
		Func: ScoreLog, MaxScore: 10, MultFactor: 3.3333, ScalingFactor: 1,
	}
	g := testScoreGrid(t, 3, 1)
	r := rasterFromRows(g, [][]float64{{0, 9, 1e9}})
	s := NewScorer(&ScoringTemplate{})
	got, err := s.Score("pop", r, m, UnitHabPerPixel)
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Data.Get(0, 0); v != 0 {
		t.Errorf("log(1) pixel: got %g, want 0", v)
	}
	if v, w := got.Data.Get(0, 1), 3.3333*1.0; math.Abs(v-w) > 1e-9 {
		t.Errorf("value 9: got %g, want %g", v, w)
	}
	if v := got.Data.Get(0, 2); v != 10 {
		t.Errorf("capped pixel: got %g, want 10", v)
	}
}

func TestScoreCategorical(t *testing.T) {
	m := &ScoringMethod{
		Name: "bui_ESA_scores",
		Func: ScoreCategorical,
		Categories: []Category{
			{Label: "Urban areas", Score: 10, Values: []float64{190}},
			{Label: "Cropland", Score: 0, Values: []float64{10, 11, 12, 20}},
		},
	}
	g := testScoreGrid(t, 4, 1)
	r := rasterFromRows(g, [][]float64{{190, 11, 77, NoData}})
	s := NewScorer(&ScoringTemplate{})
	got, err := s.Score("built", r, m, UnitCategorical)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{10, 0, 0, 0}
	for j, w := range want {
		if v := got.Data.Get(0, j); v != w {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}
}

func TestScorePassThrough(t *testing.T) {
	m := &ScoringMethod{Name: "luc_MAAE_scores", Func: ScoreCategorical, PassThrough: true}
	g := testScoreGrid(t, 4, 1)
	r := rasterFromRows(g, [][]float64{{4, 10, encodeMissing, NoData}})
	s := NewScorer(&ScoringTemplate{})
	got, err := s.Score("luc", r, m, UnitCategorical)
	if err != nil {
		t.Fatal(err)
	}
	// The missing-label sentinel burned by the encoder scores 0.
	want := []float64{4, 10, 0, 0}
	for j, w := range want {
		if v := got.Data.Get(0, j); v != w {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}
}

func TestScoreQuantileBins(t *testing.T) {
	m := &ScoringMethod{
		Name: "ntl_VIIRS_scores", Func: ScoreQuantileBins,
		NumberBins: 10, MinThreshold: 1.5,
	}
	g := testScoreGrid(t, 25, 1)
	row := make([]float64, 25)
	// Values 1..20 plus noise below the threshold, zeros, and nodata,
	// which must all be excluded from bin derivation.
	for i := 0; i < 20; i++ {
		row[i] = float64(i + 2)
	}
	row[20], row[21], row[22], row[23], row[24] = 0.5, 1, 0, NoData, NoData
	r := rasterFromRows(g, [][]float64{row})
	s := NewScorer(&ScoringTemplate{})
	got, err := s.Score("ntl", r, m, UnitDigitalNumber)
	if err != nil {
		t.Fatal(err)
	}
	// Smallest kept value lands in bin 1, largest in bin 10.
	if v := got.Data.Get(0, 0); v != 1 {
		t.Errorf("min value: got bin %g, want 1", v)
	}
	if v := got.Data.Get(0, 19); v != 10 {
		t.Errorf("max value: got bin %g, want 10", v)
	}
	// Equal-frequency: each bin holds two of the twenty kept values.
	counts := make(map[float64]int)
	for j := 0; j < 20; j++ {
		counts[got.Data.Get(0, j)]++
	}
	for b := 1.0; b <= 10; b++ {
		if counts[b] != 2 {
			t.Errorf("bin %g: got %d values, want 2", b, counts[b])
		}
	}
	// Filtered pixels score 0.
	for j := 20; j < 25; j++ {
		if v := got.Data.Get(0, j); v != 0 {
			t.Errorf("filtered pixel %d: got %g, want 0", j, v)
		}
	}

	// The bin table is derived once per key: scoring a different raster
	// under the same key reuses the bins.
	r2 := rasterFromRows(testScoreGrid(t, 1, 1), [][]float64{{21}})
	got2, err := s.Score("ntl", r2, m, UnitDigitalNumber)
	if err != nil {
		t.Fatal(err)
	}
	if v := got2.Data.Get(0, 0); v != 10 {
		t.Errorf("cached bins: got %g, want 10", v)
	}
}

func TestQuantileMidpoint(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	tests := []struct {
		q, want float64
	}{
		{0, 1},
		{0.5, 2.5},
		{1, 4},
		{1. / 3, 2},
	}
	for _, tt := range tests {
		if got := quantileMidpoint(vals, tt.q); got != tt.want {
			t.Errorf("q=%g: got %g, want %g", tt.q, got, tt.want)
		}
	}
}

func TestCategoricalEncoder(t *testing.T) {
	m := &ScoringMethod{
		Name: "luc_MAAE_scores",
		Func: ScoreCategorical,
		Categories: []Category{
			{Label: "Crops", Score: 4, Labels: []string{"TIERRA AGROPECUARIA", "PASTIZAL"}},
			{Label: "Forest", Score: 0, Labels: []string{"BOSQUE"}},
		},
	}
	e, err := NewCategoricalEncoder(m)
	if err != nil {
		t.Fatal(err)
	}
	if v := e.Encode("PASTIZAL"); v != 4 {
		t.Errorf("PASTIZAL: got %g, want 4", v)
	}
	if v := e.Encode("BOSQUE"); v != 0 {
		t.Errorf("BOSQUE: got %g, want 0", v)
	}
	if v := e.Encode("NO SUCH USE"); v != encodeMissing {
		t.Errorf("missing label: got %g, want %d", v, encodeMissing)
	}
	if _, err := NewCategoricalEncoder(&ScoringMethod{Name: "x", Func: ScoreExp}); err == nil {
		t.Error("expected error for non-categorical method")
	}
}

func TestLoadScoringTemplate(t *testing.T) {
	dir, err := ioutil.TempDir("", "footprint")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	good := `
name = "GHF"

[methods.road_scores_l1]
func = "exp"
max_score = 8.0
max_score_exp = 4.0
min_score_exp = 0.0
max_dist = 15000.0

[methods.railways_scores]
func = "bins"

[[methods.railways_scores.bins]]
lo = 0.0
hi = 90.0
score = 8.0

[[methods.railways_scores.bins]]
lo = 90.0
score = 0.0
`
	path := filepath.Join(dir, "template.toml")
	if err := ioutil.WriteFile(path, []byte(good), 0644); err != nil {
		t.Fatal(err)
	}
	tpl, err := LoadScoringTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Name != "GHF" {
		t.Errorf("template name: got %q, want GHF", tpl.Name)
	}
	m, err := tpl.Method("railways_scores")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Bins) != 2 || !math.IsInf(m.Bins[1].Hi, 1) {
		t.Errorf("last bin should be unbounded, got %+v", m.Bins)
	}
	if _, err := tpl.Method("no_such_method"); err == nil {
		t.Error("expected error for unknown method name")
	}

	bad := `
[methods.broken]
func = "frobnicate"
`
	badPath := filepath.Join(dir, "bad.toml")
	if err := ioutil.WriteFile(badPath, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScoringTemplate(badPath); err == nil {
		t.Error("expected error for unknown scoring function")
	}
}
