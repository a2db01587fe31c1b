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
	"testing"

	"github.com/ctessum/geom"
)

func TestGridDefCells(t *testing.T) {
	g, err := NewGridDef(4, 3, 100, 100, 1000, 2000, testProj)
	if err != nil {
		t.Fatal(err)
	}

	c := g.CellCenter(0, 0)
	if c.X != 1050 || c.Y != 2050 {
		t.Errorf("cell (0,0) center = %v", c)
	}
	c = g.CellCenter(2, 3)
	if c.X != 1350 || c.Y != 2250 {
		t.Errorf("cell (2,3) center = %v", c)
	}

	row, col, ok := g.CellAt(geom.Point{X: 1350, Y: 2250})
	if !ok || row != 2 || col != 3 {
		t.Errorf("CellAt = (%d, %d, %v)", row, col, ok)
	}
	if _, _, ok := g.CellAt(geom.Point{X: 999, Y: 2050}); ok {
		t.Error("point west of the grid reported inside")
	}
	if _, _, ok := g.CellAt(geom.Point{X: 1050, Y: 2300}); ok {
		t.Error("point north of the grid reported inside")
	}

	b := g.Bounds()
	if b.Min.X != 1000 || b.Min.Y != 2000 || b.Max.X != 1400 || b.Max.Y != 2300 {
		t.Errorf("bounds = %+v", b)
	}
}

func TestGridDefSameAs(t *testing.T) {
	g1, err := NewGridDef(4, 3, 100, 100, 1000, 2000, testProj)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := NewGridDef(4, 3, 100, 100, 1000, 2000, testProj)
	if err != nil {
		t.Fatal(err)
	}
	if !g1.SameAs(g2) {
		t.Error("identical grids reported different")
	}

	// A tiny round-trip error in the origin must still compare equal.
	g2.X0 += 1e-7
	if !g1.SameAs(g2) {
		t.Error("grid differing within tolerance reported different")
	}

	g3, err := NewGridDef(4, 3, 100, 100, 1000, 2100, testProj)
	if err != nil {
		t.Fatal(err)
	}
	if g1.SameAs(g3) {
		t.Error("shifted grid reported the same")
	}
	g4, err := NewGridDef(5, 3, 100, 100, 1000, 2000, testProj)
	if err != nil {
		t.Fatal(err)
	}
	if g1.SameAs(g4) {
		t.Error("differently sized grid reported the same")
	}
}

func TestBuildReferenceGrid(t *testing.T) {
	// A triangular study area: cells whose centers fall under the
	// hypotenuse are inside. 3900 keeps every center clearly off the
	// boundary line.
	boundary := geom.Polygon{{
		{X: 0, Y: 0}, {X: 3900, Y: 0}, {X: 0, Y: 3900},
	}}
	base, err := BuildReferenceGrid(boundary, 1000, testProj)
	if err != nil {
		t.Fatal(err)
	}
	if base.Grid.Nx != 4 || base.Grid.Ny != 4 {
		t.Fatalf("grid size = %d × %d", base.Grid.Nx, base.Grid.Ny)
	}
	// Row 0 is the southernmost row. Center (500, 500) lies under
	// x+y=4000, center (3500, 500) does not.
	want := [][]float64{
		{1, 1, 1, NoData},
		{1, 1, NoData, NoData},
		{1, NoData, NoData, NoData},
		{NoData, NoData, NoData, NoData},
	}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			if got := base.Data.Get(row, col); got != want[row][col] {
				t.Errorf("cell (%d,%d) = %g, want %g", row, col, got, want[row][col])
			}
		}
	}
}

func TestBuildReferenceGridEmpty(t *testing.T) {
	if _, err := BuildReferenceGrid(geom.Polygon{}, 1000, testProj); err == nil {
		t.Error("empty boundary accepted")
	}
	boundary := geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}}
	if _, err := BuildReferenceGrid(boundary, 1000, ""); err == nil {
		t.Error("missing projection accepted")
	}
}
