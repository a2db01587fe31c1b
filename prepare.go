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
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
)

// Strategy is the preparation route for one layer: how a raw source
// becomes a prepared raster on the reference grid.
type Strategy int

const (
	// StrategyWarp resamples a source raster onto the reference grid.
	StrategyWarp Strategy = iota
	// StrategyVectorProximity rasterizes vector features and computes
	// distance to them.
	StrategyVectorProximity
	// StrategyVectorCategorical burns a categorical attribute of vector
	// features through the categorical encoder.
	StrategyVectorCategorical
	// StrategyPopulationTiers warps a population raster, converts it to
	// density, and produces one proximity raster per density tier.
	StrategyPopulationTiers
	// StrategyNavigableWaterway grows travel distance along a river
	// network from built-environment contact points.
	StrategyNavigableWaterway
)

func (s Strategy) String() string {
	switch s {
	case StrategyWarp:
		return "warp"
	case StrategyVectorProximity:
		return "vector-proximity"
	case StrategyVectorCategorical:
		return "vector-categorical"
	case StrategyPopulationTiers:
		return "population-tiers"
	case StrategyNavigableWaterway:
		return "navigable-waterway"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// isVectorPath reports whether a source path is a vector dataset.
func isVectorPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".shp")
}

// SelectStrategy decides the preparation route for a layer from the
// layer registration and its scoring method. The mapping is closed:
// a combination it does not recognize is a configuration error.
func SelectStrategy(v *LayerVariant, m *ScoringMethod) (Strategy, error) {
	switch {
	case len(v.Tiers) > 0:
		return StrategyPopulationTiers, nil
	case m.NavDist > 0:
		return StrategyNavigableWaterway, nil
	case isVectorPath(v.Paths[0]):
		if v.Units == UnitCategorical {
			return StrategyVectorCategorical, nil
		}
		return StrategyVectorProximity, nil
	default:
		return StrategyWarp, nil
	}
}

// ResampleMethod selects how a source raster is resampled onto the
// reference grid.
type ResampleMethod int

const (
	// ResampleNearest samples the source cell under each target cell
	// center.
	ResampleNearest ResampleMethod = iota
	// ResampleBilinear interpolates the four source cells around each
	// target cell center.
	ResampleBilinear
	// ResampleMode assigns each target cell the most frequent source
	// value falling into it.
	ResampleMode
	// ResampleSum accumulates all source values falling into each target
	// cell; used for count-like quantities such as population.
	ResampleSum
)

func parseResampleMethod(s string) (ResampleMethod, error) {
	switch s {
	case "", "nearest":
		return ResampleNearest, nil
	case "bilinear":
		return ResampleBilinear, nil
	case "mode":
		return ResampleMode, nil
	case "sum":
		return ResampleSum, nil
	default:
		return 0, fmt.Errorf("footprint: unknown resampling method %q", s)
	}
}

// PreparedLayer is one prepared raster of a layer. Suffix is empty for
// single-part layers and the tier name for tiered layers.
type PreparedLayer struct {
	Suffix string
	Raster *Raster
}

// PrepareInputs carries cross-layer inputs a strategy may need.
type PrepareInputs struct {
	// BuiltPressure is the combined Built Environments pressure map for
	// the year being processed. Required by the navigable-waterway
	// strategy, which seeds river travel at settlement contact points.
	BuiltPressure *Raster
}

// Preparer converts raw source layers into prepared rasters on the
// reference grid.
type Preparer struct {
	Grid *GridDef

	// Boundary is the study-area polygon in the reference projection.
	// When ClipVectors is set, vector layers are clipped to it before
	// rasterization.
	Boundary    geom.Polygonal
	ClipVectors bool

	// SourceRoot is prepended to relative source paths.
	SourceRoot string

	// AuxDir, when set, receives the reprojected and clipped features of
	// each vector layer as a shapefile next to the prepared artifacts.
	AuxDir string
}

// Prepare runs the layer's preparation strategy for the given year and
// returns the prepared raster(s).
func (p *Preparer) Prepare(v *LayerVariant, m *ScoringMethod, in PrepareInputs) ([]PreparedLayer, error) {
	strategy, err := SelectStrategy(v, m)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"layer":    v.Name,
		"strategy": strategy.String(),
	}).Info("preparing layer")

	var out []PreparedLayer
	switch strategy {
	case StrategyWarp:
		r, err := p.prepareWarp(v, m)
		if err != nil {
			return nil, err
		}
		out = []PreparedLayer{{Raster: r}}
	case StrategyVectorProximity:
		r, err := p.prepareVectorProximity(v)
		if err != nil {
			return nil, err
		}
		out = []PreparedLayer{{Raster: r}}
	case StrategyVectorCategorical:
		r, err := p.prepareVectorCategorical(v, m)
		if err != nil {
			return nil, err
		}
		out = []PreparedLayer{{Raster: r}}
	case StrategyPopulationTiers:
		out, err = p.prepareTiers(v, m)
		if err != nil {
			return nil, err
		}
	case StrategyNavigableWaterway:
		r, err := p.prepareNavigableWaterway(v, m, in)
		if err != nil {
			return nil, err
		}
		out = []PreparedLayer{{Raster: r}}
	}

	if v.Patch != nil {
		for i := range out {
			patched, err := p.applyPatch(out[i].Raster, v.Patch)
			if err != nil {
				return nil, fmt.Errorf("footprint: patching %s: %v", v.Name, err)
			}
			out[i].Raster = patched
		}
	}
	for _, pl := range out {
		if err := pl.Raster.CheckAlignment(p.Grid); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Preparer) sourcePath(path string) string {
	if p.SourceRoot == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.SourceRoot, path)
}

// prepareWarp resamples the layer's source raster(s) onto the reference
// grid. With several sources, later rasters fill cells the earlier ones
// left nodata.
func (p *Preparer) prepareWarp(v *LayerVariant, m *ScoringMethod) (*Raster, error) {
	method, err := parseResampleMethod(m.Resampling)
	if err != nil {
		return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
	}
	var out *Raster
	for _, path := range v.Paths {
		src, err := ReadRaster(p.sourcePath(path))
		if err != nil {
			return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
		}
		w, err := WarpRaster(src, p.Grid, method)
		if err != nil {
			return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
		}
		// Sources that mark nodata as NaN carry no usable mask after
		// warping; treat their empty cells as zero.
		if math.IsNaN(src.NoData) {
			w.Map(func(val float64) float64 {
				if val == w.NoData {
					return 0
				}
				return val
			})
		}
		if out == nil {
			out = w
			continue
		}
		for i, val := range w.Data.Elements {
			if out.Data.Elements[i] == out.NoData && val != w.NoData {
				out.Data.Elements[i] = val
			}
		}
	}
	if v.Units == UnitHabPerPixel {
		p.toDensity(out)
	}
	return out, nil
}

// toDensity converts inhabitants per pixel to inhabitants per km².
func (p *Preparer) toDensity(r *Raster) {
	area := (p.Grid.Dx / 1000) * (p.Grid.Dy / 1000)
	r.Map(func(v float64) float64 {
		if v == r.NoData {
			return v
		}
		return v / area
	})
}

// loadGridFeatures reads, reprojects and (optionally) clips the layer's
// vector sources into the reference projection.
func (p *Preparer) loadGridFeatures(v *LayerVariant, fields ...string) ([]*Feature, error) {
	var all []*Feature
	for _, path := range v.Paths {
		feats, sr, err := LoadFeatures(p.sourcePath(path), v.Proj4, fields...)
		if err != nil {
			return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
		}
		if err := TransformFeatures(feats, sr, p.Grid.SR); err != nil {
			return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
		}
		all = append(all, feats...)
	}
	if p.ClipVectors && p.Boundary != nil {
		all = ClipFeatures(all, p.Boundary)
	}
	if p.AuxDir != "" && len(all) > 0 {
		aux := filepath.Join(p.AuxDir, v.Name+"_grid.shp")
		if err := WriteFeatures(aux, all, fields); err != nil {
			return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
		}
	}
	return all, nil
}

func (p *Preparer) prepareVectorProximity(v *LayerVariant) (*Raster, error) {
	feats, err := p.loadGridFeatures(v)
	if err != nil {
		return nil, err
	}
	presence, err := Rasterize(p.Grid, feats, BurnPresence)
	if err != nil {
		return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
	}
	return ProximityRaster(presence), nil
}

func (p *Preparer) prepareVectorCategorical(v *LayerVariant, m *ScoringMethod) (*Raster, error) {
	if v.CatField == "" {
		return nil, fmt.Errorf("footprint: layer %s: categorical layer has no cat_field", v.Name)
	}
	enc, err := NewCategoricalEncoder(m)
	if err != nil {
		return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
	}
	feats, err := p.loadGridFeatures(v, v.CatField)
	if err != nil {
		return nil, err
	}
	r, err := Rasterize(p.Grid, feats, enc.BurnField(v.CatField))
	if err != nil {
		return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
	}
	return r, nil
}

// prepareTiers warps a population raster with sum bucketing, converts
// it to density, and produces a proximity raster for each density band.
func (p *Preparer) prepareTiers(v *LayerVariant, m *ScoringMethod) ([]PreparedLayer, error) {
	warped, err := p.prepareWarp(v, &ScoringMethod{
		Name:       m.Name,
		Func:       m.Func,
		Resampling: "sum",
	})
	if err != nil {
		return nil, err
	}
	out := make([]PreparedLayer, 0, len(v.Tiers))
	for _, tier := range v.Tiers {
		out = append(out, PreparedLayer{
			Suffix: tier.Name,
			Raster: ProximityRaster(tierMask(warped, tier)),
		})
	}
	return out, nil
}

// tierMask marks cells whose value falls inside the tier's band
// [Lo, Hi); Hi of 0 means unbounded.
func tierMask(r *Raster, tier Tier) *Raster {
	hi := tier.Hi
	if hi == 0 {
		hi = math.Inf(1)
	}
	return r.MapCopy(func(val float64) float64 {
		if val != r.NoData && val >= tier.Lo && val < hi {
			return 1
		}
		return 0
	})
}

// prepareNavigableWaterway rasterizes the river network, finds river
// pixels in contact with the built environment, grows travel distance
// along the network, and returns the proximity raster to the navigable
// stretch.
func (p *Preparer) prepareNavigableWaterway(v *LayerVariant, m *ScoringMethod, in PrepareInputs) (*Raster, error) {
	if in.BuiltPressure == nil {
		return nil, fmt.Errorf("footprint: layer %s: navigable-waterway preparation needs the Built Environments pressure map", v.Name)
	}
	if m.SettleDist <= 0 || m.NavDist <= 0 {
		return nil, fmt.Errorf("footprint: layer %s: method %q needs sett_dist and navi_dist", v.Name, m.Name)
	}
	if err := in.BuiltPressure.CheckAlignment(p.Grid); err != nil {
		return nil, err
	}

	feats, err := p.loadGridFeatures(v)
	if err != nil {
		return nil, err
	}
	river, err := Rasterize(p.Grid, feats, BurnPresence)
	if err != nil {
		return nil, fmt.Errorf("footprint: layer %s: %v", v.Name, err)
	}

	built := in.BuiltPressure.MapCopy(func(val float64) float64 {
		if val > 0 && val != in.BuiltPressure.NoData {
			return 1
		}
		return 0
	})
	builtProx := ProximityRaster(built)

	contact, err := ContactMask(river, builtProx, m.SettleDist)
	if err != nil {
		return nil, err
	}
	travel, err := GrowRiverDistances(river, contact, m.NavDist)
	if err != nil {
		return nil, err
	}
	navigable := NavigableMask(travel, m.NavDist)
	return ProximityRaster(navigable), nil
}

// applyPatch corrects known problem areas in a prepared raster:
// "eliminate" zeroes pixels under the patch polygons, "replace" takes
// the corresponding pixels from another raster.
func (p *Preparer) applyPatch(r *Raster, rule *PatchRule) (*Raster, error) {
	var values *Raster
	switch rule.Type {
	case "eliminate":
	case "replace":
		if rule.ValuesPath == "" {
			return nil, fmt.Errorf("replace patch has no values_path")
		}
		var err error
		values, err = ReadRaster(p.sourcePath(rule.ValuesPath))
		if err != nil {
			return nil, err
		}
		if err := values.CheckAlignment(p.Grid); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown patch type %q", rule.Type)
	}

	out := r.Copy()
	for _, path := range rule.Shapefiles {
		feats, sr, err := LoadFeatures(p.sourcePath(path), "")
		if err != nil {
			return nil, err
		}
		if err := TransformFeatures(feats, sr, p.Grid.SR); err != nil {
			return nil, err
		}
		mask, err := Rasterize(p.Grid, feats, BurnPresence)
		if err != nil {
			return nil, err
		}
		for i, mv := range mask.Data.Elements {
			if mv != 1 {
				continue
			}
			if rule.Type == "eliminate" {
				out.Data.Elements[i] = 0
			} else {
				out.Data.Elements[i] = values.Data.Elements[i]
			}
		}
	}
	return out, nil
}

// WarpRaster resamples src onto the target grid. Bilinear and nearest
// sample the source under each target cell center; mode and sum bucket
// each source cell into the target cell containing its center, so
// count-like quantities are conserved. Cells receiving nothing are
// nodata.
func WarpRaster(src *Raster, dst *GridDef, method ResampleMethod) (*Raster, error) {
	out := NewRaster(dst)
	out.Fill(out.NoData)

	switch method {
	case ResampleNearest, ResampleBilinear:
		trans, err := dst.SR.NewTransform(src.Grid.SR)
		if err != nil {
			return nil, fmt.Errorf("footprint: creating warp transform: %v", err)
		}
		for row := 0; row < dst.Ny; row++ {
			for col := 0; col < dst.Nx; col++ {
				c, err := dst.CellCenter(row, col).Transform(trans)
				if err != nil {
					continue // outside the source projection's domain
				}
				pt := c.(geom.Point)
				var v float64
				var ok bool
				if method == ResampleNearest {
					v, ok = sampleNearest(src, pt)
				} else {
					v, ok = sampleBilinear(src, pt)
				}
				if ok {
					out.Data.Set(v, row, col)
				}
			}
		}

	case ResampleSum, ResampleMode:
		trans, err := src.Grid.SR.NewTransform(dst.SR)
		if err != nil {
			return nil, fmt.Errorf("footprint: creating warp transform: %v", err)
		}
		var counts []map[float64]int
		if method == ResampleMode {
			counts = make([]map[float64]int, dst.Ny*dst.Nx)
		}
		for row := 0; row < src.Grid.Ny; row++ {
			for col := 0; col < src.Grid.Nx; col++ {
				v := src.Data.Get(row, col)
				if v == src.NoData || math.IsNaN(v) {
					continue
				}
				c, err := src.Grid.CellCenter(row, col).Transform(trans)
				if err != nil {
					continue
				}
				drow, dcol, inside := dst.CellAt(c.(geom.Point))
				if !inside {
					continue
				}
				i := drow*dst.Nx + dcol
				if method == ResampleSum {
					if out.Data.Elements[i] == out.NoData {
						out.Data.Elements[i] = v
					} else {
						out.Data.Elements[i] += v
					}
				} else {
					if counts[i] == nil {
						counts[i] = make(map[float64]int)
					}
					counts[i][v]++
				}
			}
		}
		if method == ResampleMode {
			for i, cnt := range counts {
				if cnt == nil {
					continue
				}
				bestN := 0
				best := out.NoData
				for v, n := range cnt {
					if n > bestN || (n == bestN && v < best) {
						bestN = n
						best = v
					}
				}
				out.Data.Elements[i] = best
			}
		}

	default:
		return nil, fmt.Errorf("footprint: unhandled resampling method %d", method)
	}
	return out, nil
}

// srcIndex returns the fractional cell coordinates of point pt in the
// source grid.
func srcIndex(g *GridDef, pt geom.Point) (fx, fy float64) {
	fx = (pt.X-g.X0)/g.Dx - 0.5
	fy = (pt.Y-g.Y0)/g.Dy - 0.5
	return
}

func sampleNearest(src *Raster, pt geom.Point) (float64, bool) {
	row, col, ok := src.Grid.CellAt(pt)
	if !ok {
		return 0, false
	}
	v := src.Data.Get(row, col)
	if v == src.NoData || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// sampleBilinear interpolates the four source cells surrounding pt,
// renormalizing weights over the cells that hold data.
func sampleBilinear(src *Raster, pt geom.Point) (float64, bool) {
	fx, fy := srcIndex(src.Grid, pt)
	col0 := int(math.Floor(fx))
	row0 := int(math.Floor(fy))
	wx := fx - float64(col0)
	wy := fy - float64(row0)

	var sum, wsum float64
	for _, s := range []struct {
		row, col int
		w        float64
	}{
		{row0, col0, (1 - wx) * (1 - wy)},
		{row0, col0 + 1, wx * (1 - wy)},
		{row0 + 1, col0, (1 - wx) * wy},
		{row0 + 1, col0 + 1, wx * wy},
	} {
		if s.row < 0 || s.row >= src.Grid.Ny || s.col < 0 || s.col >= src.Grid.Nx || s.w == 0 {
			continue
		}
		v := src.Data.Get(s.row, s.col)
		if v == src.NoData || math.IsNaN(v) {
			continue
		}
		sum += v * s.w
		wsum += s.w
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}
