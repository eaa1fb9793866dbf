package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/api"
	"github.com/azybler/lanegraph/pkg/lanemap"
	"github.com/azybler/lanegraph/pkg/track"
)

func inspectCmd(opts *options) *cobra.Command {
	var components bool

	cmd := &cobra.Command{
		Use:   "inspect [map.osm]",
		Short: "Validate a map and print its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, logger, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := struct {
				lanemap.Stats
				Bounds     any       `json:"bounds,omitempty"`
				Components [][]int64 `json:"component_members,omitempty"`
			}{Stats: m.Stats()}
			if b := m.Bounds(); b != nil {
				out.Bounds = b
			}
			if components {
				out.Components = m.Graph().Components()
			}
			return printJSON(out)
		},
	}

	cmd.Flags().BoolVar(&components, "components", false, "List the lanelets of every connected component")
	return cmd
}

func nearestCmd(opts *options) *cobra.Command {
	var x, y, lat, lon, heading float64

	cmd := &cobra.Command{
		Use:   "nearest [map.osm]",
		Short: "Find the lanelet nearest to a point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, logger, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer logger.Sync()

			p := orb.Point{x, y}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				p = m.Project(lat, lon)
			}

			if cmd.Flags().Changed("heading") {
				match, err := m.NearestLaneHeading(p, heading)
				if err != nil {
					return err
				}
				return printJSON(match)
			}
			match, err := m.NearestLane(p)
			if err != nil {
				return err
			}
			return printJSON(match)
		},
	}

	cmd.Flags().Float64Var(&x, "x", 0, "Planar x in meters")
	cmd.Flags().Float64Var(&y, "y", 0, "Planar y in meters")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude (overrides --x/--y)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude (overrides --x/--y)")
	cmd.Flags().Float64Var(&heading, "heading", 0, "Heading in radians, counterclockwise from east")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lanelet id %q", s)
	}
	return id, nil
}

func reachableCmd(opts *options) *cobra.Command {
	var hops int

	cmd := &cobra.Command{
		Use:   "reachable [map.osm] [lanelet-id]",
		Short: "List lanelets reachable along successor edges",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			m, logger, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer logger.Sync()

			ids, err := m.Reachable(id, hops)
			if err != nil {
				return err
			}
			return printJSON(ids)
		},
	}

	cmd.Flags().IntVar(&hops, "hops", 1, "Maximum successor steps")
	return cmd
}

func routeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "route [map.osm] [from-id] [to-id]",
		Short: "Compute a lane-level route between two lanelets",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseID(args[1])
			if err != nil {
				return err
			}
			to, err := parseID(args[2])
			if err != nil {
				return err
			}
			m, logger, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer logger.Sync()

			res, err := m.Route(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func associateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "associate [map.osm] [track.json]",
		Short: "Assign a lanelet to every sample of a JSON track",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading track file: %w", err)
			}
			var tr track.Track
			if err := json.Unmarshal(data, &tr); err != nil {
				return fmt.Errorf("parsing track JSON: %w", err)
			}

			m, logger, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer logger.Sync()

			assoc, err := m.AssociateTrack(tr)
			if err != nil {
				return err
			}
			return printJSON(assoc)
		},
	}
}

func serveCmd(opts *options) *cobra.Command {
	var (
		port        int
		corsOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "serve [map.osm]",
		Short: "Serve lane graph queries over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, logger, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg := api.DefaultConfig(fmt.Sprintf(":%d", port))
			cfg.CORSOrigins = corsOrigins
			srv := api.NewServer(cfg, api.NewHandlers(m, logger), logger)

			logger.Info("ready", zap.String("map_id", m.ID()), zap.Int("port", port))
			return api.ListenAndServe(srv, logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "CORS allowed origins (empty = same-origin)")
	return cmd
}
