package lanemap

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/azybler/lanegraph/pkg/geo"
	"github.com/azybler/lanegraph/pkg/graph"
	osmparser "github.com/azybler/lanegraph/pkg/osm"
	"github.com/azybler/lanegraph/pkg/routing"
)

// Config controls map loading and querying.
type Config struct {
	Projection geo.ProjectionConfig `yaml:"projection"`

	// PreferLocalXY uses authored local_x/local_y node tags instead of
	// projecting lat/lon, when every node has them.
	PreferLocalXY bool `yaml:"prefer_local_xy"`

	Tolerance          float64 `yaml:"tolerance"`            // meters
	MaxJunctionHeading float64 `yaml:"max_junction_heading"` // radians
	MaxInputBytes      int     `yaml:"max_input_bytes"`

	Query routing.Config `yaml:"query"`

	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns the default configuration: UTM around (0, 0) and
// the default graph and query tolerances.
func DefaultConfig() Config {
	return Config{
		Projection:         geo.DefaultProjectionConfig(),
		Tolerance:          graph.DefaultTolerance,
		MaxJunctionHeading: graph.DefaultMaxJunctionHeading,
		MaxInputBytes:      osmparser.DefaultMaxBytes,
		Query:              routing.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config file. Fields absent from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}
