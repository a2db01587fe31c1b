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
	"math"
)

// EmptyProximity is the sentinel distance assigned to pixels with no
// presence pixel within range, and to every pixel of a proximity raster
// whose source contains no presence pixels at all. Every scoring method
// treats it as "no influence".
const EmptyProximity = 65535

// ProximityRaster computes, for every cell, the Euclidean distance in
// georeferenced units to the nearest presence cell (value 1) of r. The
// transform is exact (separable lower-envelope-of-parabolas method) and
// handles dx ≠ dy. Distances of EmptyProximity or more collapse to the
// EmptyProximity sentinel.
func ProximityRaster(r *Raster) *Raster {
	ny, nx := r.Grid.Ny, r.Grid.Nx
	dx, dy := r.Grid.Dx, r.Grid.Dy

	// Squared distance to the nearest presence cell in the same column.
	sq := make([]float64, ny*nx)
	col := make([]float64, ny)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			if r.Data.Get(y, x) == 1 {
				col[y] = 0
			} else {
				col[y] = math.Inf(1)
			}
		}
		dt := distanceTransform1D(col, dy)
		for y := 0; y < ny; y++ {
			sq[y*nx+x] = dt[y]
		}
	}

	// Combine across rows.
	out := NewRaster(r.Grid)
	row := make([]float64, nx)
	for y := 0; y < ny; y++ {
		copy(row, sq[y*nx:(y+1)*nx])
		dt := distanceTransform1D(row, dx)
		for x := 0; x < nx; x++ {
			d := math.Sqrt(dt[x])
			if d >= EmptyProximity || math.IsInf(d, 1) {
				d = EmptyProximity
			}
			out.Data.Set(d, y, x)
		}
	}
	return out
}

// distanceTransform1D returns, for each sample i of f (at position i*s),
// the minimum over q of f[q] + (i*s - q*s)². Samples with f = +Inf
// contribute no parabola to the lower envelope.
func distanceTransform1D(f []float64, s float64) []float64 {
	n := len(f)
	d := make([]float64, n)
	v := make([]int, 0, n)        // parabola locations in the lower envelope
	z := make([]float64, 0, n+1)  // left boundary of each parabola's region

	for q := 0; q < n; q++ {
		if math.IsInf(f[q], 1) {
			continue
		}
		xq := float64(q) * s
		for len(v) > 0 {
			p := v[len(v)-1]
			xp := float64(p) * s
			intersect := (f[q] + xq*xq - (f[p] + xp*xp)) / (2 * (xq - xp))
			if intersect <= z[len(z)-1] {
				v = v[:len(v)-1]
				z = z[:len(z)-1]
				continue
			}
			v = append(v, q)
			z = append(z, intersect)
			break
		}
		if len(v) == 0 {
			v = append(v, q)
			z = append(z, math.Inf(-1))
		}
	}

	if len(v) == 0 {
		// No finite sample anywhere: distance is unbounded.
		for i := range d {
			d[i] = math.Inf(1)
		}
		return d
	}

	k := 0
	for q := 0; q < n; q++ {
		xq := float64(q) * s
		for k < len(v)-1 && z[k+1] < xq {
			k++
		}
		xv := float64(v[k]) * s
		d[q] = (xq-xv)*(xq-xv) + f[v[k]]
	}
	return d
}
