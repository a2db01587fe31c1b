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

	"github.com/ctessum/sparse"
)

// Raster is a single-band georeferenced grid. All rasters in the pipeline
// share the reference GridDef; Data has shape [Ny, Nx] with row 0 at the
// southern edge.
type Raster struct {
	Grid   *GridDef
	Data   *sparse.DenseArray
	NoData float64
}

// NewRaster creates a zero-valued raster on grid g with the standard
// nodata value.
func NewRaster(g *GridDef) *Raster {
	return &Raster{
		Grid:   g,
		Data:   sparse.ZerosDense(g.Ny, g.Nx),
		NoData: NoData,
	}
}

// Fill sets every cell to v.
func (r *Raster) Fill(v float64) {
	for i := range r.Data.Elements {
		r.Data.Elements[i] = v
	}
}

// Copy returns a deep copy of r sharing the GridDef.
func (r *Raster) Copy() *Raster {
	return &Raster{
		Grid:   r.Grid,
		Data:   r.Data.Copy(),
		NoData: r.NoData,
	}
}

// IsNoData reports whether v is r's nodata value.
func (r *Raster) IsNoData(v float64) bool { return v == r.NoData }

// CheckAlignment returns a fatal error unless r matches the reference
// grid ref exactly. Grid mismatch anywhere in the pipeline is a broken
// precondition, not a recoverable condition.
func (r *Raster) CheckAlignment(ref *GridDef) error {
	if !r.Grid.SameAs(ref) {
		return fmt.Errorf("footprint: raster grid %dx%d (%g m at %g,%g) does not match reference grid %dx%d (%g m at %g,%g)",
			r.Grid.Nx, r.Grid.Ny, r.Grid.Dx, r.Grid.X0, r.Grid.Y0,
			ref.Nx, ref.Ny, ref.Dx, ref.X0, ref.Y0)
	}
	return nil
}

// Map applies f to every cell in place.
func (r *Raster) Map(f func(v float64) float64) {
	for i, v := range r.Data.Elements {
		r.Data.Elements[i] = f(v)
	}
}

// MapCopy returns a new raster holding f applied to every cell of r.
func (r *Raster) MapCopy(f func(v float64) float64) *Raster {
	o := r.Copy()
	o.Map(f)
	return o
}

// ClipToBase masks r to the study area: cells that are nodata in the
// reference-grid raster become nodata in the result.
func (r *Raster) ClipToBase(base *Raster) (*Raster, error) {
	if err := r.CheckAlignment(base.Grid); err != nil {
		return nil, err
	}
	o := r.Copy()
	for i, v := range base.Data.Elements {
		if v == base.NoData {
			o.Data.Elements[i] = o.NoData
		}
	}
	return o, nil
}
