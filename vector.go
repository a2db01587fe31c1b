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
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	goshp "github.com/jonas-p/go-shp"
)

// Feature is one geometry from a vector pressure source, with the
// attribute values that were requested when it was loaded.
type Feature struct {
	geom.Geom
	Fields map[string]string
}

// LoadFeatures reads all features from the shapefile at path, keeping the
// named attribute fields. The source spatial reference is read from the
// accompanying .prj file; if the file has none, srOverride (a Proj4
// string from the layer catalog) is used instead, and if that is also
// empty the source is unusable.
func LoadFeatures(path, srOverride string, fields ...string) ([]*Feature, *proj.SR, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, nil, fmt.Errorf("footprint: opening %s: %v", path, err)
	}
	defer d.Close()
	sr, err := d.SR()
	if err != nil {
		if srOverride == "" {
			return nil, nil, fmt.Errorf("footprint: %s has no valid projection: %v", path, err)
		}
		if sr, err = proj.Parse(srOverride); err != nil {
			return nil, nil, fmt.Errorf("footprint: parsing projection override for %s: %v", path, err)
		}
	}
	var feats []*Feature
	for {
		g, attrs, more := d.DecodeRowFields(fields...)
		if !more {
			break
		}
		if g == nil {
			continue
		}
		feats = append(feats, &Feature{Geom: g, Fields: attrs})
	}
	if err := d.Error(); err != nil {
		return nil, nil, fmt.Errorf("footprint: reading %s: %v", path, err)
	}
	return feats, sr, nil
}

// TransformFeatures reprojects every feature from the spatial reference
// from to the spatial reference to, preserving attributes.
func TransformFeatures(feats []*Feature, from, to *proj.SR) error {
	trans, err := from.NewTransform(to)
	if err != nil {
		return fmt.Errorf("footprint: creating coordinate transform: %v", err)
	}
	for _, f := range feats {
		g, err := f.Geom.Transform(trans)
		if err != nil {
			return fmt.Errorf("footprint: reprojecting feature: %v", err)
		}
		f.Geom = g
	}
	return nil
}

// ClipFeatures clips every feature to the study boundary, dropping
// features that fall entirely outside it. Attributes are preserved.
func ClipFeatures(feats []*Feature, boundary geom.Polygonal) []*Feature {
	var out []*Feature
	for _, f := range feats {
		switch g := f.Geom.(type) {
		case geom.Polygonal:
			isect := g.Intersection(boundary)
			if isect == nil || isect.Area() == 0 {
				continue
			}
			out = append(out, &Feature{Geom: isect, Fields: f.Fields})
		case geom.Linear:
			clipped := g.Clip(boundary)
			if clipped == nil || clipped.Length() == 0 {
				continue
			}
			out = append(out, &Feature{Geom: clipped, Fields: f.Fields})
		case geom.PointLike:
			if w := g.Within(boundary); w == geom.Inside || w == geom.OnEdge {
				out = append(out, f)
			}
		default:
			// Geometry collections do not occur in pressure sources.
			continue
		}
	}
	return out
}

// WriteFeatures saves features to a shapefile at path, preserving the
// named attribute fields. Used to persist reprojected/clipped
// intermediates when auxiliary files are retained.
func WriteFeatures(path string, feats []*Feature, fieldNames []string) error {
	if len(feats) == 0 {
		return fmt.Errorf("footprint: no features to write to %s", path)
	}
	var shapeType goshp.ShapeType
	switch feats[0].Geom.(type) {
	case geom.Point, geom.MultiPoint:
		shapeType = goshp.POINT
	case geom.LineString, geom.MultiLineString:
		shapeType = goshp.POLYLINE
	default:
		shapeType = goshp.POLYGON
	}
	sort.Strings(fieldNames)
	shpFields := make([]goshp.Field, len(fieldNames))
	for i, name := range fieldNames {
		shpFields[i] = goshp.StringField(name, 80)
	}
	e, err := shp.NewEncoderFromFields(path, shapeType, shpFields...)
	if err != nil {
		return fmt.Errorf("footprint: creating %s: %v", path, err)
	}
	defer e.Close()
	for _, f := range feats {
		vals := make([]interface{}, len(fieldNames))
		for i, name := range fieldNames {
			vals[i] = f.Fields[name]
		}
		if err := e.EncodeFields(f.Geom, vals...); err != nil {
			return fmt.Errorf("footprint: writing feature to %s: %v", path, err)
		}
	}
	return nil
}

// BurnFunc returns the value to burn into the grid for a feature, or
// false to skip the feature.
type BurnFunc func(f *Feature) (float64, bool)

// BurnPresence burns 1 for every feature.
func BurnPresence(*Feature) (float64, bool) { return 1, true }

// Rasterize burns features onto a new raster on grid g. Every cell a
// feature touches receives the feature's burn value; cells touched by
// several features keep the value of the last one, matching the behavior
// of a feature-order rasterizer. Untouched cells are 0.
func Rasterize(g *GridDef, feats []*Feature, burn BurnFunc) (*Raster, error) {
	r := NewRaster(g)
	index := g.index()
	for _, f := range feats {
		v, ok := burn(f)
		if !ok {
			continue
		}
		for _, c := range index.SearchIntersect(f.Geom.Bounds()) {
			cell := c.(*gridCell)
			if cellTouches(f.Geom, cell.Polygonal) {
				r.Data.Set(v, cell.Row, cell.Col)
			}
		}
	}
	return r, nil
}

// cellTouches reports whether geometry g overlaps the grid cell.
func cellTouches(g geom.Geom, cell geom.Polygonal) bool {
	switch gg := g.(type) {
	case geom.PointLike:
		pts := gg.Points()
		for i := 0; i < gg.Len(); i++ {
			p := pts()
			if w := p.Within(cell); w == geom.Inside || w == geom.OnEdge {
				return true
			}
		}
		return false
	case geom.Polygonal:
		if w := cell.Centroid().Within(gg); w == geom.Inside || w == geom.OnEdge {
			return true
		}
		isect := gg.Intersection(cell)
		return isect != nil && isect.Area() > 0
	case geom.Linear:
		clipped := gg.Clip(cell)
		if clipped != nil && clipped.Length() > 0 {
			return true
		}
		// A segment endpoint exactly inside the cell with no measurable
		// clipped length still touches it.
		pts := gg.Points()
		for i := 0; i < gg.Len(); i++ {
			p := pts()
			if w := p.Within(cell); w == geom.Inside || w == geom.OnEdge {
				return true
			}
		}
		return false
	default:
		return false
	}
}
