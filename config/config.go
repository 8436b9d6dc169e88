// Package config holds planarar settings loaded from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"planarar/smoothing"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all planarar configuration.
type Config struct {
	Board       BoardConfig       `yaml:"board"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Run         RunConfig         `yaml:"run"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BoardConfig describes the printed checkerboard.
type BoardConfig struct {
	Columns    int     `yaml:"columns"` // inner corners per row
	Rows       int     `yaml:"rows"`    // inner corners per column
	SquareSize float64 `yaml:"square_size"`
}

// CalibrationConfig configures the calibrate command.
type CalibrationConfig struct {
	Images      string `yaml:"images"` // glob
	Profile     string `yaml:"profile"`
	Sample      string `yaml:"sample"` // image to undistort after calibrating, default last used view
	ResultImage string `yaml:"result_image"`
	Workers     int    `yaml:"workers"`
	Strict      bool   `yaml:"strict"`
}

// RunConfig configures the live loop.
type RunConfig struct {
	Source        string          `yaml:"source"` // camera index, file or URL
	Replacement   string          `yaml:"replacement"`
	MaskThreshold float64         `yaml:"mask_threshold"`
	Solver        string          `yaml:"solver"` // perspective or dlt
	Profile       string          `yaml:"profile"`
	Window        string          `yaml:"window"`
	HotReload     bool            `yaml:"hot_reload"`
	MaxErrors     int             `yaml:"max_errors"`
	SnapshotDir   string          `yaml:"snapshot_dir"`
	Record        string          `yaml:"record"`
	RecordFPS     float64         `yaml:"record_fps"`
	StatsInterval time.Duration   `yaml:"stats_interval"`
	Smoothing     SmoothingConfig `yaml:"smoothing"`
	HUD           HUDConfig       `yaml:"hud"`
}

// SmoothingConfig configures corner smoothing.
type SmoothingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ProcessNoise     float64 `yaml:"process_noise"`
	MeasurementNoise float64 `yaml:"measurement_noise"`
	MaxMissed        int     `yaml:"max_missed"`
}

// HUDConfig configures the on-screen overlay text.
type HUDConfig struct {
	ShowStatus  bool   `yaml:"show_status"`
	ShowCorners bool   `yaml:"show_corners"`
	TextColor   string `yaml:"text_color"`
	CornerColor string `yaml:"corner_color"`
	MaxMessages int    `yaml:"max_messages"`
}

// LoggingConfig configures the debug logger.
type LoggingConfig struct {
	Verbose bool   `yaml:"verbose"`
	File    string `yaml:"file"`
}

// Solvers lists the supported transform solvers.
var Solvers = []string{"perspective", "dlt"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	smooth := smoothing.DefaultOptions()
	return &Config{
		Board: BoardConfig{
			Columns:    9,
			Rows:       6,
			SquareSize: 1,
		},
		Calibration: CalibrationConfig{
			Images:      "*.JPG",
			Profile:     "calibration.json",
			ResultImage: "Calibresult.jpg",
			Workers:     4,
		},
		Run: RunConfig{
			Source:        "0",
			Replacement:   "AR.JPG",
			MaskThreshold: 10,
			Solver:        "perspective",
			Window:        "planarar",
			HotReload:     true,
			MaxErrors:     5,
			SnapshotDir:   "snapshots",
			RecordFPS:     30,
			StatsInterval: 10 * time.Second,
			Smoothing: SmoothingConfig{
				Enabled:          false,
				ProcessNoise:     smooth.ProcessNoise,
				MeasurementNoise: smooth.MeasurementNoise,
				MaxMissed:        smooth.MaxMissed,
			},
			HUD: HUDConfig{
				ShowStatus:  true,
				ShowCorners: false,
				TextColor:   "#ffffff",
				CornerColor: "#00ff00",
				MaxMessages: 3,
			},
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults when the file doesn't exist
		case err != nil:
			return nil, errors.Wrap(err, "failed to read config")
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "failed to parse config")
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// applyEnvOverrides applies PLANARAR_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PLANARAR_SOURCE"); v != "" {
		c.Run.Source = v
	}
	if v := os.Getenv("PLANARAR_REPLACEMENT"); v != "" {
		c.Run.Replacement = v
	}
	if v := os.Getenv("PLANARAR_SOLVER"); v != "" {
		c.Run.Solver = v
	}
	if v := os.Getenv("PLANARAR_PROFILE"); v != "" {
		c.Run.Profile = v
		c.Calibration.Profile = v
	}
	if v := os.Getenv("PLANARAR_IMAGES"); v != "" {
		c.Calibration.Images = v
	}
	if v := os.Getenv("PLANARAR_MASK_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid PLANARAR_MASK_THRESHOLD %q", v)
		}
		c.Run.MaskThreshold = f
	}
	if v := os.Getenv("PLANARAR_VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid PLANARAR_VERBOSE %q", v)
		}
		c.Logging.Verbose = b
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Board.Columns < 2 || c.Board.Rows < 2 {
		return fmt.Errorf("board must have at least 2x2 inner corners, got %dx%d", c.Board.Columns, c.Board.Rows)
	}
	if c.Board.SquareSize <= 0 {
		return fmt.Errorf("square size must be positive, got %v", c.Board.SquareSize)
	}
	if c.Run.MaskThreshold < 0 || c.Run.MaskThreshold > 255 {
		return fmt.Errorf("mask threshold must be within 0..255, got %v", c.Run.MaskThreshold)
	}

	validSolver := false
	for _, s := range Solvers {
		if c.Run.Solver == s {
			validSolver = true
			break
		}
	}
	if !validSolver {
		return fmt.Errorf("invalid solver: %s (valid: %v)", c.Run.Solver, Solvers)
	}

	if c.Run.MaxErrors < 1 {
		return fmt.Errorf("max_errors must be at least 1, got %d", c.Run.MaxErrors)
	}
	if c.Calibration.Workers < 1 {
		return fmt.Errorf("calibration workers must be at least 1, got %d", c.Calibration.Workers)
	}
	if c.Run.Smoothing.Enabled && c.Run.Smoothing.MaxMissed < 0 {
		return fmt.Errorf("smoothing max_missed must not be negative, got %d", c.Run.Smoothing.MaxMissed)
	}
	if c.Run.Record != "" && c.Run.RecordFPS <= 0 {
		return fmt.Errorf("record_fps must be positive, got %v", c.Run.RecordFPS)
	}
	return nil
}
