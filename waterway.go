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
)

// Navigable-waterway preparation: river pixels in contact with the built
// environment (within SettleDist of a built pixel) seed a wavefront that
// grows along the river network, accumulating travel distance up to
// NavigableDist. River pixels reached within that distance are navigable.
//
// The growth is round-based: each round expands the whole current
// frontier before the next round starts, relaxing distances within the
// round but never revisiting a pixel in a later round. This is not an
// exact shortest-path computation; a longer route reached in an earlier
// round can shadow a shorter one. Downstream scoring expects these
// exact distances, so do not replace it with a priority-queue search.

// seedDistance is the sentinel travel distance assigned to contact
// pixels, distinct from the additive step distances accumulated later.
const seedDistance = 1

// unvisitedRiver marks river pixels that have not yet received a travel
// distance.
const unvisitedRiver = -1

type pixel struct {
	row, col int
}

// frontierEdge is one candidate expansion from a frontier pixel to an
// unvisited river neighbor.
type frontierEdge struct {
	parent   pixel
	neighbor pixel
	diagonal bool
}

// neighborOffsets is the fixed 8-connectivity scan order; growth results
// depend on it, so it must stay stable.
var neighborOffsets = [8]struct {
	dr, dc   int
	diagonal bool
}{
	{1, 0, false},
	{-1, 0, false},
	{0, 1, false},
	{0, -1, false},
	{1, 1, true},
	{1, -1, true},
	{-1, 1, true},
	{-1, -1, true},
}

// GrowRiverDistances propagates travel distance along the river network
// from every contact pixel. river holds 1 on river pixels; contact holds
// 1 on river pixels within the settlement threshold. The returned raster
// holds seedDistance on contact pixels, accumulated travel distance on
// reached river pixels, unvisitedRiver on unreached river pixels, and 0
// elsewhere. maxDist bounds the accumulated distance.
func GrowRiverDistances(river, contact *Raster, maxDist float64) (*Raster, error) {
	if err := river.CheckAlignment(contact.Grid); err != nil {
		return nil, fmt.Errorf("footprint: river and contact rasters misaligned: %v", err)
	}
	ny, nx := river.Grid.Ny, river.Grid.Nx
	direct := (river.Grid.Dx + river.Grid.Dy) / 2
	diag := math.Sqrt(river.Grid.Dx*river.Grid.Dx + river.Grid.Dy*river.Grid.Dy)

	// Travel distances: river pixels start unvisited, everything else 0.
	travel := NewRaster(river.Grid)
	for i, v := range river.Data.Elements {
		if v == 1 {
			travel.Data.Elements[i] = unvisitedRiver
		}
	}

	visited := make([]bool, ny*nx)
	isRiver := func(p pixel) bool {
		return p.row >= 0 && p.row < ny && p.col >= 0 && p.col < nx &&
			river.Data.Get(p.row, p.col) == 1
	}
	isContact := func(p pixel) bool {
		return contact.Data.Get(p.row, p.col) == 1
	}

	for row := 0; row < ny; row++ {
		for col := 0; col < nx; col++ {
			p := pixel{row, col}
			if visited[row*nx+col] || river.Data.Get(row, col) != 1 || !isContact(p) {
				continue
			}
			// Start a new cluster at this contact pixel.
			travel.Data.Set(seedDistance, row, col)
			visited[row*nx+col] = true
			cluster := []pixel{p}

			for len(cluster) > 0 {
				// Gather the whole frontier for this round before
				// assigning anything: a neighbor may be reachable from
				// several frontier pixels in the same round.
				var edges []frontierEdge
				for _, fp := range cluster {
					if travel.Data.Get(fp.row, fp.col) >= maxDist {
						continue
					}
					for _, off := range neighborOffsets {
						n := pixel{fp.row + off.dr, fp.col + off.dc}
						if isRiver(n) && !visited[n.row*nx+n.col] {
							edges = append(edges, frontierEdge{parent: fp, neighbor: n, diagonal: off.diagonal})
						}
					}
				}

				// Assign distances in gathering order, relaxing repeats
				// within the round.
				for _, e := range edges {
					visited[e.neighbor.row*nx+e.neighbor.col] = true
					if isContact(e.neighbor) {
						travel.Data.Set(seedDistance, e.neighbor.row, e.neighbor.col)
						continue
					}
					step := direct
					if e.diagonal {
						step = diag
					}
					parentDist := travel.Data.Get(e.parent.row, e.parent.col)
					oldDist := travel.Data.Get(e.neighbor.row, e.neighbor.col)
					newDist := parentDist + step
					if oldDist == unvisitedRiver {
						if parentDist == seedDistance {
							// First step away from a seed: the seed value
							// is a marker, not a distance, so do not add
							// it in.
							travel.Data.Set(step, e.neighbor.row, e.neighbor.col)
						} else {
							travel.Data.Set(newDist, e.neighbor.row, e.neighbor.col)
						}
					} else if oldDist > newDist {
						travel.Data.Set(newDist, e.neighbor.row, e.neighbor.col)
					}
				}

				// The next round's frontier is this round's newly
				// assigned pixels, deduplicated in first-appearance
				// order.
				seen := make(map[pixel]bool, len(edges))
				cluster = cluster[:0]
				for _, e := range edges {
					if !seen[e.neighbor] {
						seen[e.neighbor] = true
						cluster = append(cluster, e.neighbor)
					}
				}
			}
		}
	}
	return travel, nil
}

// NavigableMask converts a travel-distance raster to a 0/1 mask of
// navigable river pixels: reached (positive distance) and within maxDist.
func NavigableMask(travel *Raster, maxDist float64) *Raster {
	return travel.MapCopy(func(v float64) float64 {
		if v > 0 && v <= maxDist {
			return 1
		}
		return 0
	})
}

// ContactMask marks river pixels within settleDist of the built
// environment: river holds the 0/1 river raster and builtProximity the
// distance-to-built raster.
func ContactMask(river, builtProximity *Raster, settleDist float64) (*Raster, error) {
	if err := river.CheckAlignment(builtProximity.Grid); err != nil {
		return nil, fmt.Errorf("footprint: river and built-proximity rasters misaligned: %v", err)
	}
	out := NewRaster(river.Grid)
	for i, v := range river.Data.Elements {
		if v == 1 && builtProximity.Data.Elements[i] <= settleDist {
			out.Data.Elements[i] = 1
		}
	}
	return out, nil
}
