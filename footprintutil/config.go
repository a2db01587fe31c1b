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

package footprintutil

import (
	"fmt"
	"os"

	"github.com/lifeonland/footprint"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"
)

// PipelineConfig assembles the pipeline configuration from the
// configuration information in cfg. Path-valued settings may contain
// environment variables.
func PipelineConfig(cfg *viper.Viper) (footprint.Config, error) {
	c := footprint.Config{
		Root:         os.ExpandEnv(cfg.GetString("Workspace.Root")),
		SourceRoot:   os.ExpandEnv(cfg.GetString("Workspace.SourceRoot")),
		KeepAux:      cfg.GetBool("Workspace.KeepAux"),
		Country:      cfg.GetString("Run.Country"),
		BoundaryPath: os.ExpandEnv(cfg.GetString("Grid.Boundary")),
		BoundaryProj: cfg.GetString("Grid.BoundaryProj"),
		GridProj:     cfg.GetString("Grid.Proj"),
		Resolution:   cast.ToFloat64(cfg.Get("Grid.Resolution")),
		CatalogPath:  os.ExpandEnv(cfg.GetString("Catalog")),
		TemplatePath: os.ExpandEnv(cfg.GetString("ScoringTemplate")),
		Purpose:      cfg.GetString("Run.Purpose"),
		ClipVectors:  cfg.GetBool("Run.ClipVectors"),
	}
	if c.BoundaryPath == "" {
		return c, fmt.Errorf("footprint: Grid.Boundary is not set")
	}
	if c.GridProj == "" {
		return c, fmt.Errorf("footprint: Grid.Proj is not set")
	}
	if c.CatalogPath == "" {
		return c, fmt.Errorf("footprint: Catalog is not set")
	}
	if c.TemplatePath == "" {
		return c, fmt.Errorf("footprint: ScoringTemplate is not set")
	}
	stages, err := footprint.ParseStages(cfg.GetStringSlice("Run.Stages"))
	if err != nil {
		return c, err
	}
	c.Stages = stages
	return c, nil
}
