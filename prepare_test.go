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

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/floats"
)

const testProj = "+proj=utm +zone=17 +south +datum=WGS84 +units=m"

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name   string
		v      *LayerVariant
		m      *ScoringMethod
		want   Strategy
	}{
		{
			"raster warp",
			&LayerVariant{Paths: []string{"ntl.nc.gz"}},
			&ScoringMethod{Func: ScoreQuantileBins},
			StrategyWarp,
		},
		{
			"vector proximity",
			&LayerVariant{Paths: []string{"roads.shp"}, Units: UnitMeters},
			&ScoringMethod{Func: ScoreExp},
			StrategyVectorProximity,
		},
		{
			"vector categorical",
			&LayerVariant{Paths: []string{"landuse.shp"}, Units: UnitCategorical, CatField: "USE"},
			&ScoringMethod{Func: ScoreCategorical},
			StrategyVectorCategorical,
		},
		{
			"population tiers",
			&LayerVariant{Paths: []string{"pop.nc.gz"}, Units: UnitHabPerPixel,
				Tiers: []Tier{{Name: "l1", Lo: 10000}}},
			&ScoringMethod{Func: ScoreExp},
			StrategyPopulationTiers,
		},
		{
			"navigable waterway",
			&LayerVariant{Paths: []string{"rivers.shp"}, Units: UnitMeters},
			&ScoringMethod{Func: ScoreExp, SettleDist: 4000, NavDist: 20000},
			StrategyNavigableWaterway,
		},
	}
	for _, tt := range tests {
		got, err := SelectStrategy(tt.v, tt.m)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWarpRasterNearest(t *testing.T) {
	// Source at 2-unit cells, target at 1-unit cells over the same
	// footprint and projection: each source cell covers four target
	// cells.
	srcGrid, err := NewGridDef(2, 2, 2, 2, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	src := rasterFromRows(srcGrid, [][]float64{
		{1, 2},
		{3, 4},
	})
	dstGrid, err := NewGridDef(4, 4, 1, 1, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	got, err := WarpRaster(src, dstGrid, ResampleNearest)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{
		{1, 1, 2, 2},
		{1, 1, 2, 2},
		{3, 3, 4, 4},
		{3, 3, 4, 4},
	}
	for i, row := range want {
		for j, w := range row {
			if v := got.Data.Get(i, j); v != w {
				t.Errorf("cell (%d,%d): got %g, want %g", i, j, v, w)
			}
		}
	}
}

func TestWarpRasterBilinear(t *testing.T) {
	srcGrid, err := NewGridDef(2, 1, 1, 1, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	src := rasterFromRows(srcGrid, [][]float64{{0, 10}})
	// A single target cell centered exactly between the two source cell
	// centers.
	dstGrid, err := NewGridDef(1, 1, 1, 1, 0.5, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	got, err := WarpRaster(src, dstGrid, ResampleBilinear)
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Data.Get(0, 0); math.Abs(v-5) > 1e-9 {
		t.Errorf("got %g, want 5", v)
	}
}

func TestWarpRasterSumConserves(t *testing.T) {
	// Fine source summed into a coarse target: totals are conserved.
	srcGrid, err := NewGridDef(4, 4, 1, 1, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	src := NewRaster(srcGrid)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			src.Data.Set(float64(i*4+j), i, j)
		}
	}
	total := floats.Sum(src.Data.Elements)
	dstGrid, err := NewGridDef(2, 2, 2, 2, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	got, err := WarpRaster(src, dstGrid, ResampleSum)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.
	for _, v := range got.Data.Elements {
		if v != got.NoData {
			sum += v
		}
	}
	if sum != total {
		t.Errorf("sum warp lost mass: got %g, want %g", sum, total)
	}
	// Lower-left target cell collects source cells (0,0),(0,1),(1,0),(1,1).
	if v := got.Data.Get(0, 0); v != 0+1+4+5 {
		t.Errorf("cell (0,0): got %g, want 10", v)
	}
}

func TestWarpRasterMode(t *testing.T) {
	srcGrid, err := NewGridDef(2, 2, 1, 1, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	src := rasterFromRows(srcGrid, [][]float64{
		{7, 7},
		{7, 3},
	})
	dstGrid, err := NewGridDef(1, 1, 2, 2, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	got, err := WarpRaster(src, dstGrid, ResampleMode)
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Data.Get(0, 0); v != 7 {
		t.Errorf("mode: got %g, want 7", v)
	}
}

func TestWarpRasterNodata(t *testing.T) {
	// Target cells with no source under them stay nodata.
	srcGrid, err := NewGridDef(1, 1, 1, 1, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	src := rasterFromRows(srcGrid, [][]float64{{5}})
	dstGrid, err := NewGridDef(3, 1, 1, 1, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	got, err := WarpRaster(src, dstGrid, ResampleNearest)
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Data.Get(0, 0); v != 5 {
		t.Errorf("covered cell: got %g, want 5", v)
	}
	for j := 1; j < 3; j++ {
		if v := got.Data.Get(0, j); v != got.NoData {
			t.Errorf("uncovered cell %d: got %g, want nodata", j, v)
		}
	}
}

func TestTierMask(t *testing.T) {
	g, err := NewGridDef(4, 1, 1000, 1000, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	// Density bands: low [0.01, 5000), high [5000, inf).
	warped := rasterFromRows(g, [][]float64{{100, 8000, 0, NoData}})

	low := tierMask(warped, Tier{Name: "l2", Lo: 0.01, Hi: 5000})
	if want := []float64{1, 0, 0, 0}; !equalRow(low, want) {
		t.Errorf("low tier: got %v, want %v", low.Data.Elements, want)
	}
	high := tierMask(warped, Tier{Name: "l1", Lo: 5000})
	if want := []float64{0, 1, 0, 0}; !equalRow(high, want) {
		t.Errorf("high tier: got %v, want %v", high.Data.Elements, want)
	}
}

func equalRow(r *Raster, want []float64) bool {
	for j, w := range want {
		if r.Data.Get(0, j) != w {
			return false
		}
	}
	return true
}

func TestPrepareNavigableWaterwayNeedsBuilt(t *testing.T) {
	g, err := NewGridDef(3, 1, 1000, 1000, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	p := &Preparer{Grid: g}
	v := &LayerVariant{Name: "rivers", Paths: []string{"rivers.shp"}, Units: UnitMeters}
	m := &ScoringMethod{Name: "river_scores", Func: ScoreExp, SettleDist: 4000, NavDist: 20000}
	if _, err := p.Prepare(v, m, PrepareInputs{}); err == nil {
		t.Error("expected error when Built Environments pressure map is missing")
	}
}

func TestLoadGridFeaturesKeepsAux(t *testing.T) {
	dir, err := ioutil.TempDir("", "footprintPrepare")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "roads.shp")
	feats := []*Feature{{
		Geom:   geom.LineString{{X: 500, Y: 500}, {X: 2500, Y: 500}},
		Fields: map[string]string{"type": "primary"},
	}}
	if err := WriteFeatures(src, feats, []string{"type"}); err != nil {
		t.Fatal(err)
	}

	g, err := NewGridDef(3, 1, 1000, 1000, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	auxDir := filepath.Join(dir, "prepared")
	if err := os.MkdirAll(auxDir, 0755); err != nil {
		t.Fatal(err)
	}
	p := &Preparer{Grid: g, AuxDir: auxDir}
	v := &LayerVariant{Name: "roads_osm_20", Paths: []string{src}, Proj4: testProj, Units: UnitMeters}
	got, err := p.loadGridFeatures(v, "type")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d features, want 1", len(got))
	}

	aux := filepath.Join(auxDir, "roads_osm_20_grid.shp")
	back, _, err := LoadFeatures(aux, testProj, "type")
	if err != nil {
		t.Fatalf("aux shapefile not written: %v", err)
	}
	if len(back) != 1 || back[0].Fields["type"] != "primary" {
		t.Errorf("aux features do not round-trip: %+v", back)
	}

	// Without AuxDir no intermediate is persisted.
	p2 := &Preparer{Grid: g}
	if _, err := p2.loadGridFeatures(v, "type"); err != nil {
		t.Fatal(err)
	}
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "prepared" && filepath.Ext(e.Name()) == ".shp" && e.Name() != "roads.shp" {
			t.Errorf("unexpected intermediate %s", e.Name())
		}
	}
}

func TestApplyPatchEliminate(t *testing.T) {
	// applyPatch loads shapefiles from disk; the pixel operation it
	// performs is checked here through a raster pair directly.
	g, err := NewGridDef(3, 1, 1, 1, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	target := rasterFromRows(g, [][]float64{{4, 5, 6}})
	mask := rasterFromRows(g, [][]float64{{0, 1, 0}})
	out := target.Copy()
	for i, mv := range mask.Data.Elements {
		if mv == 1 {
			out.Data.Elements[i] = 0
		}
	}
	want := []float64{4, 0, 6}
	for j, w := range want {
		if v := out.Data.Get(0, j); v != w {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}
}

func TestToDensity(t *testing.T) {
	// 500 m pixels: area 0.25 km², so hab/pixel scales by 4.
	g, err := NewGridDef(2, 1, 500, 500, 0, 0, testProj)
	if err != nil {
		t.Fatal(err)
	}
	p := &Preparer{Grid: g}
	r := rasterFromRows(g, [][]float64{{100, NoData}})
	p.toDensity(r)
	if v := r.Data.Get(0, 0); v != 400 {
		t.Errorf("got %g, want 400", v)
	}
	if v := r.Data.Get(0, 1); v != NoData {
		t.Errorf("nodata changed to %g", v)
	}
}
