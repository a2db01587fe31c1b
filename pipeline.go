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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
)

// Stages selects which pipeline stages a run executes. Disabled stages
// are expected to have run before; later stages read their outputs from
// the workspace.
type Stages struct {
	Prepare  bool
	Score    bool
	Combine  bool
	Finalize bool
}

// AllStages enables everything.
func AllStages() Stages {
	return Stages{Prepare: true, Score: true, Combine: true, Finalize: true}
}

// ParseStages parses a list of stage names.
func ParseStages(names []string) (Stages, error) {
	var s Stages
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "prepare":
			s.Prepare = true
		case "score":
			s.Score = true
		case "combine":
			s.Combine = true
		case "finalize":
			s.Finalize = true
		case "":
		default:
			return s, fmt.Errorf("footprint: unknown stage %q", n)
		}
	}
	return s, nil
}

// Version gives the version number of this version of Footprint.
const Version = "1.1.0"

// builtPressureName is the pressure whose combined map seeds the
// navigable-waterway contact points.
const builtPressureName = "Built_Environments"

// Config holds everything a pipeline run needs.
type Config struct {
	// Root is the workspace: base rasters, prepared and scored layers,
	// results and the artifact manifest all live under it.
	Root string
	// SourceRoot is prepended to relative source paths in the catalog.
	SourceRoot string

	Country      string
	BoundaryPath string // study-area polygon (shapefile)
	BoundaryProj string // Proj4 override when the boundary has no .prj
	ClipVectors  bool   // clip vector layers to the boundary before rasterizing
	GridProj     string // Proj4 definition of the reference grid
	Resolution   float64

	CatalogPath  string
	TemplatePath string

	Purpose string
	Stages  Stages
	KeepAux bool
}

// Workspace computes artifact paths from the naming scheme shared by
// every stage.
type Workspace struct {
	Root     string
	Extent   string // boundary name, part of every artifact name
	Template string
	Res      int
}

func (w *Workspace) baseDir() string     { return filepath.Join(w.Root, "b02_Base_rasters") }
func (w *Workspace) preparedDir() string { return filepath.Join(w.Root, "b03_Prepared_pressures") }
func (w *Workspace) scoredDir() string   { return filepath.Join(w.Root, "b04_Scored_pressures") }
func (w *Workspace) mapsDir() string     { return filepath.Join(w.Root, "b05_HF_maps") }

// EnsureDirs creates the working folders. They can be deleted between
// runs; the pipeline reconstructs their contents.
func (w *Workspace) EnsureDirs() error {
	for _, dir := range []string{w.baseDir(), w.preparedDir(), w.scoredDir(), w.mapsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("footprint: creating working folder: %v", err)
		}
	}
	return nil
}

// BasePath is the reference-grid raster.
func (w *Workspace) BasePath() string {
	return filepath.Join(w.baseDir(), fmt.Sprintf("base_%s_%dm.nc.gz", w.Extent, w.Res))
}

// PreparedPath is a prepared layer part; suffix is empty except for
// tiered layers.
func (w *Workspace) PreparedPath(layer, suffix string) string {
	return filepath.Join(w.preparedDir(),
		fmt.Sprintf("%s_%s_%s_%dm_prepared%s.nc.gz", layer, w.Extent, w.Template, w.Res, suffixPart(suffix)))
}

// ScoredPath is a scored layer part for one map year.
func (w *Workspace) ScoredPath(layer string, year int, suffix string) string {
	return filepath.Join(w.scoredDir(),
		fmt.Sprintf("%s_%d_%s_%s_%dm_scored%s.nc.gz", layer, year, w.Extent, w.Template, w.Res, suffixPart(suffix)))
}

// NewResultsDir names a fresh per-run results folder:
// country code + timestamp + purpose.
func (w *Workspace) NewResultsDir(country, purpose string, now time.Time) string {
	cc := country
	if len(cc) > 2 {
		cc = cc[:2]
	}
	return filepath.Join(w.mapsDir(),
		fmt.Sprintf("%s_%s_%s", cc, now.Format("20060102_150405"), purpose))
}

// PressureMapPath is the combined map of one pressure for one year.
func (w *Workspace) PressureMapPath(resultsDir, pressure string, year int) string {
	return filepath.Join(resultsDir,
		fmt.Sprintf("p_%s_%d_%s_%s_%dm.nc.gz", pressure, year, w.Extent, w.Template, w.Res))
}

// IndexPath is the final Human Footprint map for one year.
func (w *Workspace) IndexPath(resultsDir, country string, year int) string {
	return filepath.Join(resultsDir,
		fmt.Sprintf("HF_%s_%d_%s_%dm.nc.gz", country, year, w.Template, w.Res))
}

func suffixPart(suffix string) string {
	if suffix == "" {
		return ""
	}
	return "_" + suffix
}

// Driver runs the pipeline: purpose → pressures → years → datasets,
// with the enabled stages in dependency order. All completed artifacts
// are skipped through the manifest, so a crashed run is resumed by
// re-invocation.
type Driver struct {
	cfg      Config
	catalog  *Catalog
	template *ScoringTemplate
	scorer   *Scorer
	preparer *Preparer
	manifest *Manifest
	ws       *Workspace

	base       *Raster
	resultsDir string

	// pressureMaps holds this run's combined pressure rasters per year,
	// so cross-pressure dependencies (navigable waterways) do not
	// re-read from disk.
	pressureMaps map[int]map[string]*Raster
}

// NewDriver loads and validates all configuration. Configuration errors
// surface here, before any stage runs.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Resolution <= 0 {
		return nil, fmt.Errorf("footprint: invalid resolution %g", cfg.Resolution)
	}
	template, err := LoadScoringTemplate(cfg.TemplatePath)
	if err != nil {
		return nil, err
	}
	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if err := catalog.CheckScoring(template); err != nil {
		return nil, err
	}
	// The purpose is optional here so the grid can be built and the
	// configuration checked without one; Run requires it.
	if _, ok := catalog.Purposes[cfg.Purpose]; !ok && cfg.Purpose != "" {
		return nil, fmt.Errorf("footprint: purpose %q not in catalog", cfg.Purpose)
	}
	ws := &Workspace{
		Root:     filepath.Join(cfg.Root, "HF_maps"),
		Extent:   strings.TrimSuffix(filepath.Base(cfg.BoundaryPath), filepath.Ext(cfg.BoundaryPath)),
		Template: template.Name,
		Res:      int(cfg.Resolution),
	}
	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}
	manifest, err := OpenManifest(ws.Root)
	if err != nil {
		return nil, err
	}
	return &Driver{
		cfg:          cfg,
		catalog:      catalog,
		template:     template,
		scorer:       NewScorer(template),
		manifest:     manifest,
		ws:           ws,
		pressureMaps: make(map[int]map[string]*Raster),
	}, nil
}

// CreateGrid builds only the reference-grid raster, without running any
// pressure stage.
func (d *Driver) CreateGrid() error {
	return d.buildBase()
}

// Run executes the enabled stages for the configured purpose.
func (d *Driver) Run() error {
	if d.cfg.Purpose == "" {
		return fmt.Errorf("footprint: no purpose given")
	}
	if err := d.buildBase(); err != nil {
		return err
	}

	boundary, err := d.loadBoundary()
	if err != nil {
		return err
	}
	d.preparer = &Preparer{
		Grid:        d.base.Grid,
		Boundary:    boundary,
		ClipVectors: d.cfg.ClipVectors,
		SourceRoot:  d.cfg.SourceRoot,
	}
	if d.cfg.KeepAux {
		d.preparer.AuxDir = d.ws.preparedDir()
	}

	purpose := d.catalog.Purposes[d.cfg.Purpose]
	d.resultsDir = d.ws.NewResultsDir(d.cfg.Country, purpose.Name, time.Now())
	if d.cfg.Stages.Combine || d.cfg.Stages.Finalize {
		if err := os.MkdirAll(d.resultsDir, 0755); err != nil {
			return fmt.Errorf("footprint: creating results folder: %v", err)
		}
		logrus.WithField("dir", d.resultsDir).Info("created results folder")
	}

	for _, year := range purpose.Years {
		logrus.WithFields(logrus.Fields{
			"purpose": purpose.Name,
			"year":    year,
		}).Info("processing map year")
		var pressureRasters []*Raster
		for _, pressure := range purpose.PressureOrder {
			datasets := purpose.Pressures[pressure]
			if len(datasets) == 0 {
				continue
			}
			pm, err := d.runPressure(pressure, year, datasets)
			if err != nil {
				return err
			}
			if pm != nil {
				pressureRasters = append(pressureRasters, pm)
			}
		}
		if d.cfg.Stages.Finalize {
			if err := d.finalize(year, pressureRasters); err != nil {
				return err
			}
		}
	}
	return nil
}

// runPressure prepares, scores and combines every dataset of one
// pressure for one year, returning the combined pressure map (nil when
// the combine stage is disabled or nothing scored).
func (d *Driver) runPressure(pressure string, year int, datasets []string) (*Raster, error) {
	var scored []*Raster
	for _, ds := range datasets {
		variant, scoringName, err := d.catalog.Resolve(ds, year)
		if err != nil {
			return nil, err
		}
		method, err := d.template.Method(scoringName)
		if err != nil {
			return nil, err
		}
		r, err := d.runDataset(variant, method, year)
		if err != nil {
			// A broken source fails its own layer only; siblings and
			// other pressures continue.
			logrus.WithFields(logrus.Fields{
				"layer": variant.Name,
				"year":  year,
			}).WithError(err).Error("skipping layer")
			continue
		}
		if r != nil {
			scored = append(scored, r)
		}
	}

	if !d.cfg.Stages.Combine || len(scored) == 0 {
		return nil, nil
	}
	pm, err := CombinePressure(scored)
	if err != nil {
		return nil, err
	}
	path := d.ws.PressureMapPath(d.resultsDir, pressure, year)
	if err := d.writeArtifact(path, pm); err != nil {
		return nil, err
	}
	if d.pressureMaps[year] == nil {
		d.pressureMaps[year] = make(map[string]*Raster)
	}
	d.pressureMaps[year][pressure] = pm
	return pm, nil
}

// runDataset runs the prepare and score stages for one resolved layer
// variant and returns its scored raster (nil when scoring is disabled).
func (d *Driver) runDataset(v *LayerVariant, m *ScoringMethod, year int) (*Raster, error) {
	parts, err := d.preparedParts(v)
	if err != nil {
		return nil, err
	}

	if d.cfg.Stages.Prepare {
		if err := d.prepare(v, m, year, parts); err != nil {
			return nil, err
		}
	}
	if !d.cfg.Stages.Score && !d.cfg.Stages.Combine {
		return nil, nil
	}

	var scoredParts []*Raster
	for _, suffix := range parts {
		scoredPath := d.ws.ScoredPath(v.Name, year, suffix)
		if d.manifest.Completed(scoredPath) {
			logrus.WithField("layer", v.Name).Debug("already scored")
			r, err := ReadRaster(scoredPath)
			if err != nil {
				return nil, err
			}
			scoredParts = append(scoredParts, r)
			continue
		}
		if !d.cfg.Stages.Score {
			return nil, fmt.Errorf("footprint: scored artifact %s missing and scoring stage disabled", scoredPath)
		}
		preparedPath := d.ws.PreparedPath(v.Name, suffix)
		prepared, err := ReadRaster(preparedPath)
		if err != nil {
			return nil, err
		}
		methodName := m.Name
		if suffix != "" {
			methodName = m.Name + "_" + suffix
		}
		partMethod, err := d.template.Method(methodName)
		if err != nil {
			return nil, err
		}
		s, err := d.scorer.Score(preparedPath, prepared, partMethod, v.Units)
		if err != nil {
			return nil, err
		}
		s, err = s.ClipToBase(d.base)
		if err != nil {
			return nil, err
		}
		if err := d.writeArtifact(scoredPath, s); err != nil {
			return nil, err
		}
		scoredParts = append(scoredParts, s)
	}

	if len(scoredParts) == 1 {
		return scoredParts[0], nil
	}
	// Tiered layers: the dataset's score is the max over its tiers.
	return CombinePressure(scoredParts)
}

// preparedParts returns the artifact suffixes a layer produces: one
// empty suffix normally, one per tier for tiered layers.
func (d *Driver) preparedParts(v *LayerVariant) ([]string, error) {
	if len(v.Tiers) == 0 {
		return []string{""}, nil
	}
	parts := make([]string, len(v.Tiers))
	for i, t := range v.Tiers {
		if t.Name == "" {
			return nil, fmt.Errorf("footprint: layer %s: tier %d has no name", v.Name, i)
		}
		parts[i] = t.Name
	}
	return parts, nil
}

// prepare runs the preparation strategy unless every part is already in
// the ledger.
func (d *Driver) prepare(v *LayerVariant, m *ScoringMethod, year int, parts []string) error {
	done := true
	for _, suffix := range parts {
		if !d.manifest.Completed(d.ws.PreparedPath(v.Name, suffix)) {
			done = false
			break
		}
	}
	if done {
		logrus.WithField("layer", v.Name).Debug("already prepared")
		return nil
	}

	var in PrepareInputs
	strategy, err := SelectStrategy(v, m)
	if err != nil {
		return err
	}
	if strategy == StrategyNavigableWaterway {
		built, err := d.builtPressure(year)
		if err != nil {
			return err
		}
		in.BuiltPressure = built
	}

	prepared, err := d.preparer.Prepare(v, m, in)
	if err != nil {
		return err
	}
	for _, pl := range prepared {
		if err := d.writeArtifact(d.ws.PreparedPath(v.Name, pl.Suffix), pl.Raster); err != nil {
			return err
		}
	}
	return nil
}

// builtPressure fetches the combined Built Environments map for a year,
// from this run if the pressure was combined earlier in the pressure
// order, or from the results folder of a previous invocation.
func (d *Driver) builtPressure(year int) (*Raster, error) {
	if pm := d.pressureMaps[year][builtPressureName]; pm != nil {
		return pm, nil
	}
	path := d.ws.PressureMapPath(d.resultsDir, builtPressureName, year)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("footprint: %s pressure map for %d not available; order it before the waterway pressure or enable the combine stage",
			builtPressureName, year)
	}
	return ReadRaster(path)
}

// finalize sums the pressure maps of one year into the Human Footprint
// map.
func (d *Driver) finalize(year int, pressureRasters []*Raster) error {
	if len(pressureRasters) == 0 {
		logrus.WithField("year", year).Warn("no pressure maps to add")
		return nil
	}
	hf, err := CombineIndex(pressureRasters)
	if err != nil {
		return err
	}
	path := d.ws.IndexPath(d.resultsDir, d.cfg.Country, year)
	if err := d.writeArtifact(path, hf); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"year": year,
		"path": path,
	}).Info("wrote Human Footprint map")
	return nil
}

// buildBase creates the reference-grid raster unless the ledger already
// has it.
func (d *Driver) buildBase() error {
	path := d.ws.BasePath()
	if d.manifest.Completed(path) {
		logrus.Debug("base raster already existed")
		r, err := ReadRaster(path)
		if err != nil {
			return err
		}
		d.base = r
		return nil
	}
	logrus.Info("creating base raster")
	boundary, err := d.loadBoundary()
	if err != nil {
		return err
	}
	base, err := BuildReferenceGrid(boundary, d.cfg.Resolution, d.cfg.GridProj)
	if err != nil {
		return err
	}
	if err := d.writeArtifact(path, base); err != nil {
		return err
	}
	d.base = base
	return nil
}

// loadBoundary reads the study-area polygon and reprojects it to the
// reference grid projection.
func (d *Driver) loadBoundary() (geom.Polygonal, error) {
	feats, sr, err := LoadFeatures(d.cfg.BoundaryPath, d.cfg.BoundaryProj)
	if err != nil {
		return nil, fmt.Errorf("footprint: loading study-area boundary: %v", err)
	}
	gridSR, err := proj.Parse(d.cfg.GridProj)
	if err != nil {
		return nil, fmt.Errorf("footprint: parsing grid projection: %v", err)
	}
	if err := TransformFeatures(feats, sr, gridSR); err != nil {
		return nil, fmt.Errorf("footprint: reprojecting study-area boundary: %v", err)
	}
	var mp geom.MultiPolygon
	for _, f := range feats {
		p, ok := f.Geom.(geom.Polygonal)
		if !ok {
			continue
		}
		mp = append(mp, p.Polygons()...)
	}
	if len(mp) == 0 {
		return nil, fmt.Errorf("footprint: study-area boundary %s has no polygons", d.cfg.BoundaryPath)
	}
	return mp, nil
}

// writeArtifact writes r to a scratch NetCDF file, compresses it to the
// final artifact, records it in the ledger, and removes the scratch
// unless auxiliary files are kept. The scratch is deleted only after
// the compressed copy is verified.
func (d *Driver) writeArtifact(path string, r *Raster) error {
	if !strings.HasSuffix(path, ".gz") {
		return fmt.Errorf("footprint: artifact %s must be compressed", path)
	}
	scratch := strings.TrimSuffix(path, ".gz")
	if err := WriteRaster(scratch, r); err != nil {
		return err
	}
	if err := CompressRaster(scratch, path); err != nil {
		return err
	}
	if err := d.manifest.Record(path); err != nil {
		return err
	}
	if !d.cfg.KeepAux {
		if err := os.Remove(scratch); err != nil {
			return fmt.Errorf("footprint: removing scratch %s: %v", scratch, err)
		}
	}
	return nil
}
