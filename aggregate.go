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

import "fmt"

// CombinePressure combines all scored datasets of one pressure by
// pixelwise maximum. A raster is excluded from the max at pixels where
// it holds nodata; pixels where every raster holds nodata stay nodata.
func CombinePressure(rasters []*Raster) (*Raster, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("footprint: no rasters to combine")
	}
	grid := rasters[0].Grid
	for _, r := range rasters[1:] {
		if err := r.CheckAlignment(grid); err != nil {
			return nil, err
		}
	}
	out := NewRaster(grid)
	out.Fill(out.NoData)
	for _, r := range rasters {
		for i, v := range r.Data.Elements {
			if v == r.NoData {
				continue
			}
			if cur := out.Data.Elements[i]; cur == out.NoData || v > cur {
				out.Data.Elements[i] = v
			}
		}
	}
	return out, nil
}

// CombineIndex sums pressure maps into the final index for one year. A
// masked pixel contributes nothing to the sum; pixels masked in every
// pressure stay nodata. A pressure with no datasets simply does not
// appear in the input and is the additive identity.
func CombineIndex(pressures []*Raster) (*Raster, error) {
	if len(pressures) == 0 {
		return nil, fmt.Errorf("footprint: no pressure maps to add")
	}
	grid := pressures[0].Grid
	for _, r := range pressures[1:] {
		if err := r.CheckAlignment(grid); err != nil {
			return nil, err
		}
	}
	out := NewRaster(grid)
	out.Fill(out.NoData)
	for _, r := range pressures {
		for i, v := range r.Data.Elements {
			if v == r.NoData {
				continue
			}
			if cur := out.Data.Elements[i]; cur == out.NoData {
				out.Data.Elements[i] = v
			} else {
				out.Data.Elements[i] = cur + v
			}
		}
	}
	return out, nil
}
