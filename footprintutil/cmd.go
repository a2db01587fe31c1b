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

// Package footprintutil provides the command-line interface for building
// Human Footprint maps.
package footprintutil

import (
	"fmt"

	"github.com/lifeonland/footprint"
	"github.com/lnashier/viper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to Footprint.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Workspace.Root",
			usage: `
              Workspace.Root is the directory the HF_maps working folders
              (base rasters, prepared and scored pressures, result maps and
              the artifact manifest) are created in.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Workspace.SourceRoot",
			usage: `
              Workspace.SourceRoot is prepended to relative source paths in
              the layer catalog.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Workspace.KeepAux",
			usage: `
              Workspace.KeepAux prevents the deletion of uncompressed
              intermediate rasters after their compressed final version has
              been verified.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.Boundary",
			usage: `
              Grid.Boundary is the path to the shapefile holding the study
              area polygon. Its file name becomes the extent label in every
              artifact name.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.BoundaryProj",
			usage: `
              Grid.BoundaryProj is a Proj4 definition used for the study
              area polygon when its shapefile carries no .prj file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.Proj",
			usage: `
              Grid.Proj is the Proj4 definition of the reference grid
              projection. It must be a meter-based projection.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.Resolution",
			usage: `
              Grid.Resolution is the reference grid cell size [m].`,
			shorthand:  "r",
			defaultVal: 300.0,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Catalog",
			usage: `
              Catalog is the path to the layer catalog: the TOML registry of
              pressure source layers, multitemporal groups and purposes.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ScoringTemplate",
			usage: `
              ScoringTemplate is the path to the TOML scoring template
              naming each layer's scoring method and its parameters.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Run.Country",
			usage: `
              Run.Country names the country or study area; its first two
              letters prefix the results folder.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Run.Purpose",
			usage: `
              Run.Purpose selects the purpose from the catalog: the set of
              map years and the datasets of each pressure.`,
			shorthand:  "p",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Run.Stages",
			usage: `
              Run.Stages lists the pipeline stages to execute, from
              prepare, score, combine and finalize. Disabled stages are
              expected to have run before.`,
			defaultVal: []string{"prepare", "score", "combine", "finalize"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Run.ClipVectors",
			usage: `
              Run.ClipVectors clips vector pressure sources to the study
              area before rasterizing them. Slower to prepare, smaller
              intermediates.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("FOOTPRINT")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(gridCmd)
	Root.AddCommand(checkCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("footprint: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "footprint",
	Short: "A Human Footprint map builder.",
	Long: `Footprint builds Human Footprint maps: raster indices of cumulative
human pressure on the landscape, assembled from infrastructure, land
cover, population and accessibility source layers.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'FOOTPRINT_var' where 'var' is the name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration
information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Footprint.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Footprint v%s\n", footprint.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the maps of a purpose.",
	Long: `run executes the pipeline for one purpose: it prepares and scores every
pressure layer the purpose uses, combines the scored layers into pressure
maps and adds them into one Human Footprint map per map year. Completed
artifacts recorded in the workspace manifest are skipped, so an interrupted
run is resumed by running the same command again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := PipelineConfig(Cfg)
		if err != nil {
			return err
		}
		d, err := footprint.NewDriver(cfg)
		if err != nil {
			return err
		}
		return d.Run()
	},
	DisableAutoGenTag: true,
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Create the reference grid.",
	Long: `grid creates the base raster: the reference grid every source layer is
warped or rasterized onto, built from the study area polygon at the
configured resolution.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := PipelineConfig(Cfg)
		if err != nil {
			return err
		}
		cfg.Stages = footprint.Stages{}
		d, err := footprint.NewDriver(cfg)
		if err != nil {
			return err
		}
		return d.CreateGrid()
	},
	DisableAutoGenTag: true,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration.",
	Long: `check loads the layer catalog and the scoring template and verifies that
they are consistent: every dataset the purpose names exists, every layer's
scoring method (including per-tier methods) is in the template, and all
units are known.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := PipelineConfig(Cfg)
		if err != nil {
			return err
		}
		if _, err := footprint.NewDriver(cfg); err != nil {
			return err
		}
		cmd.Println("configuration ok")
		return nil
	},
	DisableAutoGenTag: true,
}
