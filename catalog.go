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

	"github.com/BurntSushi/toml"
)

// Units is the declared measurement unit of a layer's values. Scoring
// functions interpret values by it rather than guessing.
type Units int

const (
	UnitMeters Units = iota
	UnitKilometers
	UnitDigitalNumber
	UnitCategorical
	UnitHabPerPixel
)

func (u Units) String() string {
	switch u {
	case UnitMeters:
		return "meters"
	case UnitKilometers:
		return "kilometers"
	case UnitDigitalNumber:
		return "digital-number"
	case UnitCategorical:
		return "categorical"
	case UnitHabPerPixel:
		return "hab/pixel"
	default:
		return fmt.Sprintf("Units(%d)", int(u))
	}
}

func parseUnits(s string) (Units, error) {
	switch s {
	case "meters":
		return UnitMeters, nil
	case "kilometers":
		return UnitKilometers, nil
	case "digital-number":
		return UnitDigitalNumber, nil
	case "categorical":
		return UnitCategorical, nil
	case "hab/pixel":
		return UnitHabPerPixel, nil
	default:
		return 0, fmt.Errorf("footprint: unknown units %q", s)
	}
}

// Tier is one population band of a tiered layer. Values in [Lo, Hi) are
// prepared and scored separately; Hi of 0 means unbounded.
type Tier struct {
	Name string  `toml:"name"`
	Lo   float64 `toml:"lo"`
	Hi   float64 `toml:"hi"`
}

// PatchRule corrects known defects in a source layer after preparation:
// "eliminate" zeroes pixels under the problem polygons, "replace" takes
// the corresponding pixels from another raster.
type PatchRule struct {
	Type       string   `toml:"type"`
	Shapefiles []string `toml:"shapefiles"`
	ValuesPath string   `toml:"values_path"`
}

// LayerVariant is one dated registration of a source dataset.
type LayerVariant struct {
	Name     string   `toml:"name"`
	Paths    []string `toml:"paths"`
	Scoring  string   `toml:"scoring"`
	Year     int      `toml:"year"`
	UnitsStr string   `toml:"units"`
	Units    Units    `toml:"-"`

	// Optional preparation settings.
	CatField string     `toml:"cat_field"` // categorical attribute for vector layers
	Proj4    string     `toml:"proj4"`     // projection override for sources without one
	Tiers    []Tier     `toml:"tiers"`
	Patch    *PatchRule `toml:"patch"`
}

// MultitemporalGroup names dataset variants covering different years.
// Variant order is registration order and breaks year ties.
type MultitemporalGroup struct {
	Name     string   `toml:"name"`
	Variants []string `toml:"variants"`
}

// Purpose selects which pressures, datasets and years a run computes.
// Pressure iteration follows PressureOrder.
type Purpose struct {
	Name          string              `toml:"name"`
	Years         []int               `toml:"years"`
	PressureOrder []string            `toml:"pressure_order"`
	Pressures     map[string][]string `toml:"pressures"`
}

// Catalog is the full layer registry: every variant, the multitemporal
// groups, and the purposes, loaded from one TOML file.
type Catalog struct {
	Variants map[string]*LayerVariant
	Groups   map[string]*MultitemporalGroup
	Purposes map[string]*Purpose
}

type catalogFile struct {
	Variants []LayerVariant       `toml:"layers"`
	Groups   []MultitemporalGroup `toml:"multitemporal"`
	Purposes []Purpose            `toml:"purposes"`
}

// LoadCatalog reads and validates a layer catalog. Validation is
// structural only; scoring method names are checked against the
// template separately so the catalog does not depend on which template
// is in use.
func LoadCatalog(path string) (*Catalog, error) {
	var cf catalogFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return nil, fmt.Errorf("footprint: reading catalog %s: %v", path, err)
	}
	c := &Catalog{
		Variants: make(map[string]*LayerVariant, len(cf.Variants)),
		Groups:   make(map[string]*MultitemporalGroup, len(cf.Groups)),
		Purposes: make(map[string]*Purpose, len(cf.Purposes)),
	}
	for i := range cf.Variants {
		v := cf.Variants[i]
		if v.Name == "" {
			return nil, fmt.Errorf("footprint: catalog %s: layer %d has no name", path, i)
		}
		if len(v.Paths) == 0 {
			return nil, fmt.Errorf("footprint: catalog %s: layer %q has no paths", path, v.Name)
		}
		if v.Scoring == "" {
			return nil, fmt.Errorf("footprint: catalog %s: layer %q has no scoring method", path, v.Name)
		}
		u, err := parseUnits(v.UnitsStr)
		if err != nil {
			return nil, fmt.Errorf("footprint: catalog %s: layer %q: %v", path, v.Name, err)
		}
		v.Units = u
		if _, ok := c.Variants[v.Name]; ok {
			return nil, fmt.Errorf("footprint: catalog %s: duplicate layer %q", path, v.Name)
		}
		c.Variants[v.Name] = &v
	}
	for i := range cf.Groups {
		g := cf.Groups[i]
		for _, name := range g.Variants {
			if _, ok := c.Variants[name]; !ok {
				return nil, fmt.Errorf("footprint: catalog %s: group %q references unknown layer %q",
					path, g.Name, name)
			}
		}
		c.Groups[g.Name] = &g
	}
	for i := range cf.Purposes {
		p := cf.Purposes[i]
		if len(p.PressureOrder) == 0 {
			// Deterministic default order.
			for name := range p.Pressures {
				p.PressureOrder = append(p.PressureOrder, name)
			}
			sort.Strings(p.PressureOrder)
		}
		for _, pressure := range p.PressureOrder {
			datasets, ok := p.Pressures[pressure]
			if !ok {
				return nil, fmt.Errorf("footprint: catalog %s: purpose %q orders unknown pressure %q",
					path, p.Name, pressure)
			}
			for _, ds := range datasets {
				if _, ok := c.Variants[ds]; ok {
					continue
				}
				if _, ok := c.Groups[ds]; ok {
					continue
				}
				return nil, fmt.Errorf("footprint: catalog %s: purpose %q pressure %q references unknown dataset %q",
					path, p.Name, pressure, ds)
			}
		}
		c.Purposes[p.Name] = &p
	}
	return c, nil
}

// Resolve returns the layer variant to use for a dataset name in a given
// year. A plain layer name resolves to itself; a multitemporal group
// resolves to the variant whose year is nearest the requested year, the
// earliest-registered variant winning ties. The resolved variant's own
// scoring method is used, so a map series can change methods when its
// sources change (a sensor upgrade, a reclassified product).
func (c *Catalog) Resolve(dataset string, year int) (v *LayerVariant, scoring string, err error) {
	if lv, ok := c.Variants[dataset]; ok {
		return lv, lv.Scoring, nil
	}
	g, ok := c.Groups[dataset]
	if !ok {
		return nil, "", fmt.Errorf("footprint: dataset %q not in catalog", dataset)
	}
	if len(g.Variants) == 0 {
		return nil, "", fmt.Errorf("footprint: multitemporal group %q has no variants", dataset)
	}
	best := c.Variants[g.Variants[0]]
	for _, name := range g.Variants[1:] {
		cand := c.Variants[name]
		if abs(cand.Year-year) < abs(best.Year-year) {
			best = cand
		}
	}
	return best, best.Scoring, nil
}

// CheckScoring verifies every catalog scoring reference against the
// template, so missing methods fail before any stage runs.
func (c *Catalog) CheckScoring(t *ScoringTemplate) error {
	names := make([]string, 0, len(c.Variants))
	for name := range c.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := c.Variants[name]
		if _, err := t.Method(v.Scoring); err != nil {
			return fmt.Errorf("footprint: layer %q: %v", name, err)
		}
		for _, tier := range v.Tiers {
			if _, err := t.Method(v.Scoring + "_" + tier.Name); err != nil {
				return fmt.Errorf("footprint: layer %q tier %q: %v", name, tier.Name, err)
			}
		}
	}
	return nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
