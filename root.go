package main

import (
	"fmt"
	"io"

	"planarar/board"
	"planarar/config"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and state shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	Columns    int
	Rows       int
	SquareSize float64

	// Populated before any subcommand runs
	Config *config.Config
	Logger *DebugLogger

	// ownLogger is false when a logger was injected (tests)
	ownLogger bool
}

// NewRootCommand creates the root command for the planarar CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "planarar",
		Short: "planarar - planar augmented reality on a checkerboard",
		Long: `planarar calibrates a camera from checkerboard photographs and overlays an
image onto a checkerboard seen by a live camera.

Typical session:
  planarar pattern board.png           # print this
  planarar calibrate --images '*.JPG'  # writes calibration.json and Calibresult.jpg
  planarar run --replacement AR.JPG --profile calibration.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.ownLogger && opts.Logger != nil {
				opts.Logger.Close()
			}
		},
	}

	defaults := config.DefaultConfig()

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "planarar.yaml", "path to YAML config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug level logging")
	cmd.PersistentFlags().IntVar(&opts.Columns, "columns", defaults.Board.Columns, "inner corners per checkerboard row")
	cmd.PersistentFlags().IntVar(&opts.Rows, "rows", defaults.Board.Rows, "inner corners per checkerboard column")
	cmd.PersistentFlags().Float64Var(&opts.SquareSize, "square-size", defaults.Board.SquareSize, "checkerboard square size in world units")

	// Add subcommands
	cmd.AddCommand(NewCalibrateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewHomographyCommand(opts))
	cmd.AddCommand(NewUndistortCommand(opts))
	cmd.AddCommand(NewPatternCommand(opts))

	return cmd
}

// setup loads configuration, applies global flag overrides and installs
// the debug logger
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}

	override(cmd, "verbose", &cfg.Logging.Verbose, o.Verbose)
	override(cmd, "columns", &cfg.Board.Columns, o.Columns)
	override(cmd, "rows", &cfg.Board.Rows, o.Rows)
	override(cmd, "square-size", &cfg.Board.SquareSize, o.SquareSize)
	o.Config = cfg

	if o.Logger == nil {
		dl, err := NewDebugLogger(cfg.Logging.Verbose, cfg.Logging.File)
		if err != nil {
			return err
		}
		o.Logger = dl
		o.ownLogger = true
	}
	installDebugLogger(o.Logger)
	debugMsg("CONFIG", fmt.Sprintf("Loaded config from %s", o.ConfigPath))
	return nil
}

// pattern returns the configured checkerboard
func (o *RootOptions) pattern() board.Pattern {
	return board.Pattern{
		Columns:    o.Config.Board.Columns,
		Rows:       o.Config.Board.Rows,
		SquareSize: o.Config.Board.SquareSize,
	}
}

// override copies a flag value into dst when the flag was set on the command line
func override[T any](cmd *cobra.Command, name string, dst *T, value T) {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		*dst = value
	}
}

// guard runs fn and turns a panic into an error
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func stdout(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
