// Package config loads the tuning knobs of the visibility pipeline from TOML and
// converts them into the functional options each component is built with.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-visibility/engine/batching"
	"github.com/Carmen-Shannon/oxy-visibility/engine/cluster"
	"github.com/Carmen-Shannon/oxy-visibility/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/visibility"
	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid value")

// Duration is a time.Duration read from a TOML string such as "500ms".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete pipeline configuration.
type Config struct {
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Visibility VisibilityConfig `toml:"visibility"`
	Batching   BatchingConfig   `toml:"batching"`
	Cluster    ClusterConfig    `toml:"cluster"`
	Occlusion  OcclusionConfig  `toml:"occlusion"`
}

// PipelineConfig holds settings shared by every stage.
type PipelineConfig struct {
	FramesInFlight  int      `toml:"frames_in_flight"`
	LogLevel        string   `toml:"log_level"`
	ProfileInterval Duration `toml:"profile_interval"`
}

// VisibilityConfig configures the resolver.
type VisibilityConfig struct {
	LODThresholds [4]float32 `toml:"lod_thresholds"`
	MaxLights     int        `toml:"max_lights"`
	SortMode      string     `toml:"sort_mode"`
}

// BatchingConfig configures the draw batcher.
type BatchingConfig struct {
	MaxInstancesPerDraw int `toml:"max_instances_per_draw"`
}

// ClusterConfig configures the cluster grid. Zero MaxLightIndices and Workers
// select the grid defaults.
type ClusterConfig struct {
	GridX               uint32 `toml:"grid_x"`
	GridY               uint32 `toml:"grid_y"`
	GridZ               uint32 `toml:"grid_z"`
	MaxLightsPerCluster int    `toml:"max_lights_per_cluster"`
	MaxLightIndices     int    `toml:"max_light_indices"`
	Workers             int    `toml:"workers"`
	ValidateKernels     bool   `toml:"validate_kernels"`
}

// OcclusionConfig configures the Hi-Z culler.
type OcclusionConfig struct {
	Enabled         bool `toml:"enabled"`
	MaxObjects      int  `toml:"max_objects"`
	Readback        bool `toml:"readback"`
	Software        bool `toml:"software"`
	ValidateKernels bool `toml:"validate_kernels"`
}

// Default returns the configuration every component uses when built without options.
//
// Returns:
//   - Config: the defaults
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			FramesInFlight:  renderer.FramesInFlight,
			LogLevel:        "info",
			ProfileInterval: Duration(time.Second),
		},
		Visibility: VisibilityConfig{
			LODThresholds: visibility.DefaultLODThresholds,
			SortMode:      visibility.SortFrontToBack.String(),
		},
		Batching: BatchingConfig{
			MaxInstancesPerDraw: batching.DefaultMaxInstancesPerDraw,
		},
		Cluster: ClusterConfig{
			GridX:               cluster.DefaultGridX,
			GridY:               cluster.DefaultGridY,
			GridZ:               cluster.DefaultGridZ,
			MaxLightsPerCluster: cluster.DefaultMaxLightsPerCluster,
			ValidateKernels:     true,
		},
		Occlusion: OcclusionConfig{
			Enabled:         true,
			MaxObjects:      occlusion.DefaultMaxObjects,
			ValidateKernels: true,
		},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default value; unknown keys are an error.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - Config: the loaded and validated configuration
//   - error: on read, decode or validation failure
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as TOML.
//
// Parameters:
//   - path: the destination file, truncated if it exists
//
// Returns:
//   - error: on encode or write failure
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every out-of-range value, each wrapping ErrInvalid.
//
// Returns:
//   - error: nil when the configuration is usable
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Pipeline.FramesInFlight < 1 {
		bad("pipeline.frames_in_flight %d, need at least 1", c.Pipeline.FramesInFlight)
	}
	if _, err := log.ParseLevel(c.Pipeline.LogLevel); err != nil {
		bad("pipeline.log_level %q", c.Pipeline.LogLevel)
	}
	if c.Pipeline.ProfileInterval < 0 {
		bad("pipeline.profile_interval %v is negative", time.Duration(c.Pipeline.ProfileInterval))
	}

	prev := float32(0)
	for i, t := range c.Visibility.LODThresholds {
		if t <= prev {
			bad("visibility.lod_thresholds[%d] %v does not exceed %v", i, t, prev)
		}
		prev = t
	}
	if c.Visibility.MaxLights < 0 {
		bad("visibility.max_lights %d is negative", c.Visibility.MaxLights)
	}
	if _, ok := visibility.ParseSortMode(c.Visibility.SortMode); !ok {
		bad("visibility.sort_mode %q", c.Visibility.SortMode)
	}

	if c.Batching.MaxInstancesPerDraw < 1 {
		bad("batching.max_instances_per_draw %d, need at least 1", c.Batching.MaxInstancesPerDraw)
	}

	if c.Cluster.GridX == 0 || c.Cluster.GridY == 0 || c.Cluster.GridZ == 0 {
		bad("cluster grid %dx%dx%d has an empty axis", c.Cluster.GridX, c.Cluster.GridY, c.Cluster.GridZ)
	}
	if c.Cluster.MaxLightsPerCluster < 1 {
		bad("cluster.max_lights_per_cluster %d, need at least 1", c.Cluster.MaxLightsPerCluster)
	}
	if c.Cluster.MaxLightIndices < 0 || c.Cluster.Workers < 0 {
		bad("cluster.max_light_indices and cluster.workers must not be negative")
	}

	if c.Occlusion.MaxObjects < 1 {
		bad("occlusion.max_objects %d, need at least 1", c.Occlusion.MaxObjects)
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, InfoLevel when unparsable.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.Pipeline.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// SortMode returns the parsed resolver sort mode, SortFrontToBack when unparsable.
func (c Config) SortMode() visibility.SortMode {
	m, ok := visibility.ParseSortMode(c.Visibility.SortMode)
	if !ok {
		return visibility.SortFrontToBack
	}
	return m
}

// VisibilityOptions converts the resolver settings.
func (c Config) VisibilityOptions() []visibility.ResolverBuilderOption {
	return []visibility.ResolverBuilderOption{
		visibility.WithLODThresholds(c.Visibility.LODThresholds),
		visibility.WithMaxLights(c.Visibility.MaxLights),
	}
}

// BatcherOptions converts the batcher settings. The device is supplied by the caller.
func (c Config) BatcherOptions() []batching.DrawBatcherBuilderOption {
	return []batching.DrawBatcherBuilderOption{
		batching.WithMaxInstancesPerDraw(c.Batching.MaxInstancesPerDraw),
		batching.WithFramesInFlight(c.Pipeline.FramesInFlight),
	}
}

// ClusterOptions converts the cluster grid settings.
func (c Config) ClusterOptions() []cluster.ClusterGridBuilderOption {
	workers := c.Cluster.Workers
	if workers == 0 {
		workers = max(runtime.NumCPU()-1, 1)
	}
	return []cluster.ClusterGridBuilderOption{
		cluster.WithGridSize(c.Cluster.GridX, c.Cluster.GridY, c.Cluster.GridZ),
		cluster.WithMaxLightsPerCluster(c.Cluster.MaxLightsPerCluster),
		cluster.WithMaxLightIndices(c.Cluster.MaxLightIndices),
		cluster.WithWorkers(workers),
		cluster.WithFramesInFlight(c.Pipeline.FramesInFlight),
		cluster.WithKernelValidation(c.Cluster.ValidateKernels),
	}
}

// OcclusionOptions converts the Hi-Z settings.
func (c Config) OcclusionOptions() []occlusion.HiZCullerBuilderOption {
	opts := []occlusion.HiZCullerBuilderOption{
		occlusion.WithMaxObjects(c.Occlusion.MaxObjects),
		occlusion.WithReadback(c.Occlusion.Readback),
		occlusion.WithFramesInFlight(c.Pipeline.FramesInFlight),
		occlusion.WithKernelValidation(c.Occlusion.ValidateKernels),
	}
	if c.Occlusion.Software {
		opts = append(opts, occlusion.WithSoftwareStrategy())
	}
	return opts
}
