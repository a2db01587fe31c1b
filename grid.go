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

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
)

// NoData is the nodata value used for every raster the pipeline creates.
const NoData = -9999

// GridDef describes the reference grid that every raster in the pipeline
// must match exactly. Row 0 is the southernmost row; cell (0, 0) has its
// lower-left corner at (X0, Y0).
type GridDef struct {
	Nx, Ny int
	Dx, Dy float64
	X0, Y0 float64

	// SR is the grid's spatial reference system.
	SR *proj.SR

	// Proj4 is the Proj4 definition string that SR was parsed from. It is
	// persisted with every raster so that alignment can be verified when
	// the raster is read back.
	Proj4 string

	cellIndex *rtree.Rtree
}

// gridCell is one cell in the reference grid, held in the grid's spatial
// index for rasterization.
type gridCell struct {
	geom.Polygonal
	Row, Col int
}

// NewGridDef creates a regular grid with nx × ny cells of size dx × dy,
// with the lower-left corner at (x0, y0), in the spatial reference system
// described by the Proj4 string proj4.
func NewGridDef(nx, ny int, dx, dy, x0, y0 float64, proj4 string) (*GridDef, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("footprint: invalid grid size %d × %d", nx, ny)
	}
	sr, err := proj.Parse(proj4)
	if err != nil {
		return nil, fmt.Errorf("footprint: parsing grid projection: %v", err)
	}
	return &GridDef{
		Nx: nx, Ny: ny,
		Dx: dx, Dy: dy,
		X0: x0, Y0: y0,
		SR:    sr,
		Proj4: proj4,
	}, nil
}

// gridFromEnvelope creates the smallest grid with resolution res that
// covers the bounds b.
func gridFromEnvelope(b *geom.Bounds, res float64, proj4 string) (*GridDef, error) {
	nx := int(math.Ceil((b.Max.X - b.Min.X) / res))
	ny := int(math.Ceil((b.Max.Y - b.Min.Y) / res))
	return NewGridDef(nx, ny, res, res, b.Min.X, b.Min.Y, proj4)
}

// Bounds returns the grid envelope.
func (g *GridDef) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.X0, Y: g.Y0},
		Max: geom.Point{
			X: g.X0 + g.Dx*float64(g.Nx),
			Y: g.Y0 + g.Dy*float64(g.Ny),
		},
	}
}

// CellPolygon returns the polygon outline of cell (row, col).
func (g *GridDef) CellPolygon(row, col int) geom.Polygon {
	x := g.X0 + float64(col)*g.Dx
	y := g.Y0 + float64(row)*g.Dy
	return geom.Polygon{{
		{X: x, Y: y},
		{X: x + g.Dx, Y: y},
		{X: x + g.Dx, Y: y + g.Dy},
		{X: x, Y: y + g.Dy},
		{X: x, Y: y},
	}}
}

// CellCenter returns the center point of cell (row, col).
func (g *GridDef) CellCenter(row, col int) geom.Point {
	return geom.Point{
		X: g.X0 + (float64(col)+0.5)*g.Dx,
		Y: g.Y0 + (float64(row)+0.5)*g.Dy,
	}
}

// CellAt returns the cell indices containing point p, and whether p lies
// inside the grid at all.
func (g *GridDef) CellAt(p geom.Point) (row, col int, ok bool) {
	col = int(math.Floor((p.X - g.X0) / g.Dx))
	row = int(math.Floor((p.Y - g.Y0) / g.Dy))
	ok = row >= 0 && row < g.Ny && col >= 0 && col < g.Nx
	return
}

// index returns the spatial index of grid cells, building it on first use.
func (g *GridDef) index() *rtree.Rtree {
	if g.cellIndex != nil {
		return g.cellIndex
	}
	g.cellIndex = rtree.NewTree(25, 50)
	for row := 0; row < g.Ny; row++ {
		for col := 0; col < g.Nx; col++ {
			g.cellIndex.Insert(&gridCell{
				Polygonal: g.CellPolygon(row, col),
				Row:       row,
				Col:       col,
			})
		}
	}
	return g.cellIndex
}

// SameAs reports whether g and o describe the same grid. Floating-point
// metadata is compared with a small relative tolerance to allow for
// round-tripping through storage.
func (g *GridDef) SameAs(o *GridDef) bool {
	const tol = 1.e-9
	eq := func(a, b float64) bool {
		return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	}
	return g.Nx == o.Nx && g.Ny == o.Ny &&
		eq(g.Dx, o.Dx) && eq(g.Dy, o.Dy) &&
		eq(g.X0, o.X0) && eq(g.Y0, o.Y0) &&
		g.Proj4 == o.Proj4
}

// BuildReferenceGrid rasterizes the study-area boundary into the reference
// grid raster: the grid envelope is the boundary envelope, cells whose
// centers fall inside the boundary are 1, and all other cells are nodata.
// Every raster the pipeline later produces must match this grid exactly.
func BuildReferenceGrid(boundary geom.Polygonal, res float64, proj4 string) (*Raster, error) {
	if boundary == nil || len(boundary.Polygons()) == 0 {
		return nil, fmt.Errorf("footprint: study-area boundary is empty")
	}
	if proj4 == "" {
		return nil, fmt.Errorf("footprint: study-area boundary has no valid projection")
	}
	b := boundary.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("footprint: study-area boundary is empty")
	}
	grid, err := gridFromEnvelope(b, res, proj4)
	if err != nil {
		return nil, err
	}
	r := NewRaster(grid)
	r.Fill(NoData)
	for row := 0; row < grid.Ny; row++ {
		for col := 0; col < grid.Nx; col++ {
			in := grid.CellCenter(row, col).Within(boundary)
			if in == geom.Inside || in == geom.OnEdge {
				r.Data.Set(1, row, col)
			}
		}
	}
	return r, nil
}
