package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/geo"
	"github.com/azybler/lanegraph/pkg/lanemap"
)

// options are the flags shared by every command.
type options struct {
	configPath string
	verbose    bool
	localXY    bool
	projection string
	originLat  float64
	originLon  float64
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "lanegraph",
		Short:         "Load Lanelet2 maps and query their lane graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Development logging")
	flags.BoolVar(&opts.localXY, "local-xy", false, "Use local_x/local_y node tags when every node has them")
	flags.StringVar(&opts.projection, "projection", "", "Projection family: utm, mercator or equirectangular")
	flags.Float64Var(&opts.originLat, "origin-lat", 0, "Projection origin latitude")
	flags.Float64Var(&opts.originLon, "origin-lon", 0, "Projection origin longitude")

	rootCmd.AddCommand(inspectCmd(&opts))
	rootCmd.AddCommand(nearestCmd(&opts))
	rootCmd.AddCommand(reachableCmd(&opts))
	rootCmd.AddCommand(routeCmd(&opts))
	rootCmd.AddCommand(associateCmd(&opts))
	rootCmd.AddCommand(serveCmd(&opts))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// config resolves the effective configuration: defaults, then the config
// file, then explicitly set flags.
func (o *options) config(cmd *cobra.Command) (lanemap.Config, error) {
	cfg := lanemap.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = lanemap.LoadConfig(o.configPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("local-xy") {
		cfg.PreferLocalXY = o.localXY
	}
	if flags.Changed("projection") {
		cfg.Projection.Family = o.projection
	}
	if flags.Changed("origin-lat") {
		cfg.Projection.OriginLat = o.originLat
	}
	if flags.Changed("origin-lon") {
		cfg.Projection.OriginLon = o.originLon
	}
	if cfg.Projection.Family == "" {
		cfg.Projection.Family = geo.FamilyUTM
	}
	return cfg, nil
}

// load builds the map at path with the effective configuration.
func (o *options) load(cmd *cobra.Command, path string) (*lanemap.Map, *zap.Logger, error) {
	logger, err := newLogger(o.verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	cfg, err := o.config(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg.Logger = logger

	m, err := lanemap.LoadFile(cmd.Context(), path, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, logger, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
