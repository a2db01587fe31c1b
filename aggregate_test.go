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

import "testing"

func TestCombinePressure(t *testing.T) {
	g := testScoreGrid(t, 4, 1)
	a := rasterFromRows(g, [][]float64{{1, 5, NoData, NoData}})
	b := rasterFromRows(g, [][]float64{{3, 2, 7, NoData}})
	got, err := CombinePressure([]*Raster{a, b})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{3, 5, 7, NoData}
	for j, w := range want {
		if v := got.Data.Get(0, j); v != w {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}

	// Order independence.
	rev, err := CombinePressure([]*Raster{b, a})
	if err != nil {
		t.Fatal(err)
	}
	for j := range want {
		if rev.Data.Get(0, j) != got.Data.Get(0, j) {
			t.Errorf("pixel %d: combine is order-dependent", j)
		}
	}

	// Idempotence under duplicate inputs.
	dup, err := CombinePressure([]*Raster{a, b, a, b})
	if err != nil {
		t.Fatal(err)
	}
	for j := range want {
		if dup.Data.Get(0, j) != got.Data.Get(0, j) {
			t.Errorf("pixel %d: combine changed under duplicate inputs", j)
		}
	}

	if _, err := CombinePressure(nil); err == nil {
		t.Error("expected error for empty input")
	}

	misaligned := NewRaster(testScoreGrid(t, 5, 1))
	if _, err := CombinePressure([]*Raster{a, misaligned}); err == nil {
		t.Error("expected error for misaligned rasters")
	}
}

func TestCombineIndex(t *testing.T) {
	g := testScoreGrid(t, 4, 1)
	a := rasterFromRows(g, [][]float64{{1, 5, NoData, NoData}})
	b := rasterFromRows(g, [][]float64{{3, 2, 7, NoData}})
	got, err := CombineIndex([]*Raster{a, b})
	if err != nil {
		t.Fatal(err)
	}
	// Masked pixels contribute nothing; all-masked pixels stay nodata.
	want := []float64{4, 7, 7, NoData}
	for j, w := range want {
		if v := got.Data.Get(0, j); v != w {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}
}

func TestCombineIndexMatchesPressureSums(t *testing.T) {
	g := testScoreGrid(t, 3, 1)
	p1a := rasterFromRows(g, [][]float64{{1, 0, 2}})
	p1b := rasterFromRows(g, [][]float64{{0, 4, 1}})
	p2 := rasterFromRows(g, [][]float64{{2, 2, 2}})

	c1, err := CombinePressure([]*Raster{p1a, p1b})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := CombinePressure([]*Raster{p2})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := CombineIndex([]*Raster{c1, c2})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{3, 6, 4}
	for j, w := range want {
		if v := sum.Data.Get(0, j); v != w {
			t.Errorf("pixel %d: got %g, want %g", j, v, w)
		}
	}
}
