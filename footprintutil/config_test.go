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
	"os"
	"testing"

	"github.com/lnashier/viper"
)

func TestPipelineConfig(t *testing.T) {
	os.Setenv("FOOTPRINT_TEST_DIR", "/data")
	defer os.Unsetenv("FOOTPRINT_TEST_DIR")

	cfg := viper.New()
	cfg.Set("Workspace.Root", "${FOOTPRINT_TEST_DIR}/workspace")
	cfg.Set("Grid.Boundary", "${FOOTPRINT_TEST_DIR}/ecuador.shp")
	cfg.Set("Grid.Proj", "+proj=utm +zone=17 +south +datum=WGS84 +units=m")
	cfg.Set("Grid.Resolution", 300)
	cfg.Set("Catalog", "/data/catalog.toml")
	cfg.Set("ScoringTemplate", "/data/template.toml")
	cfg.Set("Run.Purpose", "SDG15")
	cfg.Set("Run.Stages", []string{"prepare", "score"})

	c, err := PipelineConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if c.Root != "/data/workspace" {
		t.Errorf("Root = %q", c.Root)
	}
	if c.BoundaryPath != "/data/ecuador.shp" {
		t.Errorf("BoundaryPath = %q", c.BoundaryPath)
	}
	if c.Resolution != 300 {
		t.Errorf("Resolution = %g", c.Resolution)
	}
	if !c.Stages.Prepare || !c.Stages.Score || c.Stages.Combine || c.Stages.Finalize {
		t.Errorf("Stages = %+v", c.Stages)
	}
}

func TestPipelineConfigMissing(t *testing.T) {
	cfg := viper.New()
	cfg.Set("Grid.Proj", "+proj=longlat")
	if _, err := PipelineConfig(cfg); err == nil {
		t.Error("missing boundary accepted")
	}
}
