package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planarar/board"
	"planarar/calibration"
	"planarar/capture"
	"planarar/config"
	"planarar/overlay"
	"planarar/session"
	"planarar/smoothing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Source        string
	Replacement   string
	Solver        string
	Profile       string
	MaskThreshold float64
	Smooth        bool
	Record        string
	Snapshots     string
	HUD           bool
	Corners       bool
	HotReload     bool
	MaxFrames     int
	Headless      bool

	// display overrides the window (for testing)
	display Display
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	defaults := config.DefaultConfig().Run

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Overlay an image onto the checkerboard in a live video",
		Long: `Capture frames, find the checkerboard and warp the replacement image onto
it. Replacement pixels darker than --mask-threshold are keyed out so the
video shows through.

Keys:
  q  quit
  p  toggle image processing
  s  save a snapshot

Example:
  planarar run --source 0 --replacement AR.JPG
  planarar run --source clip.mp4 --solver dlt --smooth --record out.avi`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", defaults.Source, "camera index, video file, stream URL or still image")
	cmd.Flags().StringVarP(&opts.Replacement, "replacement", "r", defaults.Replacement, "image drawn onto the checkerboard")
	cmd.Flags().StringVar(&opts.Solver, "solver", defaults.Solver, "transform solver (perspective|dlt)")
	cmd.Flags().StringVar(&opts.Profile, "profile", defaults.Profile, "calibration profile used to undistort frames")
	cmd.Flags().Float64Var(&opts.MaskThreshold, "mask-threshold", defaults.MaskThreshold, "gray level at or below which replacement pixels are transparent")
	cmd.Flags().BoolVar(&opts.Smooth, "smooth", defaults.Smoothing.Enabled, "smooth board corners between frames")
	cmd.Flags().StringVar(&opts.Record, "record", defaults.Record, "record displayed frames to this video file")
	cmd.Flags().StringVar(&opts.Snapshots, "snapshots", defaults.SnapshotDir, "directory for snapshots taken with s")
	cmd.Flags().BoolVar(&opts.HUD, "hud", defaults.HUD.ShowStatus, "show status text")
	cmd.Flags().BoolVar(&opts.Corners, "corners", defaults.HUD.ShowCorners, "mark detected corners")
	cmd.Flags().BoolVar(&opts.HotReload, "hot-reload", defaults.HotReload, "reload the replacement image when it changes on disk")
	cmd.Flags().IntVar(&opts.MaxFrames, "max-frames", 0, "stop after this many frames (0 runs until q)")
	cmd.Flags().BoolVar(&opts.Headless, "headless", false, "do not open a window")

	return cmd
}

func (o *RunOptions) apply(cmd *cobra.Command, cfg *config.RunConfig) {
	override(cmd, "source", &cfg.Source, o.Source)
	override(cmd, "replacement", &cfg.Replacement, o.Replacement)
	override(cmd, "solver", &cfg.Solver, o.Solver)
	override(cmd, "profile", &cfg.Profile, o.Profile)
	override(cmd, "mask-threshold", &cfg.MaskThreshold, o.MaskThreshold)
	override(cmd, "smooth", &cfg.Smoothing.Enabled, o.Smooth)
	override(cmd, "record", &cfg.Record, o.Record)
	override(cmd, "snapshots", &cfg.SnapshotDir, o.Snapshots)
	override(cmd, "hud", &cfg.HUD.ShowStatus, o.HUD)
	override(cmd, "corners", &cfg.HUD.ShowCorners, o.Corners)
	override(cmd, "hot-reload", &cfg.HotReload, o.HotReload)
}

func runLive(cmd *cobra.Command, opts *RunOptions) error {
	cfg := opts.Config
	opts.apply(cmd, &cfg.Run)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := stdout(cmd)
	loop, err := buildLoop(opts, cfg, out)
	if err != nil {
		return err
	}

	var watcher *overlay.Watcher
	if cfg.Run.HotReload {
		watcher, err = startWatcher(ctx, cfg.Run.Replacement, loop)
		if err != nil {
			debugMsg("WATCH", fmt.Sprintf("Hot reload disabled: %v", err))
		}
	}

	fmt.Fprintf(out, "🎯 Overlaying %s onto a %dx%d board from %s (q quits, p toggles, s snapshots)\n",
		cfg.Run.Replacement, cfg.Board.Columns, cfg.Board.Rows, loop.source.Name())

	runErr := loop.run(ctx)

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			debugMsg("WATCH", err.Error())
		}
	}
	debugMsg("STATS", loop.stats.Report().String())
	if err := loop.Close(); err != nil {
		debugMsg("ERROR", fmt.Sprintf("Cleanup: %v", err))
	}
	return runErr
}

// buildLoop opens the source and assembles every stage of the live loop
func buildLoop(opts *RunOptions, cfg *config.Config, out io.Writer) (loop *liveLoop, err error) {
	rc := cfg.Run
	pattern := opts.pattern()

	// Release whatever was opened if a later stage fails
	var closers []io.Closer
	var unsubscribe func()
	defer func() {
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			if unsubscribe != nil {
				unsubscribe()
			}
		}
	}()

	compositor, err := overlay.LoadCompositor(rc.Replacement, float32(rc.MaskThreshold))
	if err != nil {
		return nil, err
	}
	closers = append(closers, compositor)

	var undistorter *calibration.Undistorter
	if rc.Profile != "" {
		profile, err := calibration.LoadProfile(rc.Profile)
		if err != nil {
			return nil, err
		}
		undistorter, err = calibration.NewUndistorter(profile, 1)
		if err != nil {
			return nil, err
		}
		closers = append(closers, undistorter)
	}

	hud, err := overlay.NewHUD(overlay.HUDOptions{
		ShowStatus:  rc.HUD.ShowStatus,
		ShowCorners: rc.HUD.ShowCorners,
		TextColor:   rc.HUD.TextColor,
		CornerColor: rc.HUD.CornerColor,
		MaxMessages: rc.HUD.MaxMessages,
	})
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		// Operator-relevant log lines also appear on screen
		unsubscribe = opts.Logger.Subscribe(func(m DebugMessage) {
			if alerting(m.Component) {
				hud.Log(m.Message)
			}
		})
	}

	source, err := capture.Open(rc.Source)
	if err != nil {
		return nil, err
	}

	display := opts.display
	if display == nil {
		if opts.Headless {
			display = &headlessDisplay{}
		} else {
			display = newWindowDisplay(rc.Window)
		}
	}

	controller := session.NewController(out)
	controller.SetToggleCallback(func(processing bool, message string) {
		hud.Log(message)
		debugMsg("SESSION", message)
	})

	var smoother *smoothing.CornerSmoother
	if rc.Smoothing.Enabled {
		smoother = smoothing.NewCornerSmoother(smoothing.Options{
			ProcessNoise:     rc.Smoothing.ProcessNoise,
			MeasurementNoise: rc.Smoothing.MeasurementNoise,
			MaxMissed:        rc.Smoothing.MaxMissed,
		})
	}

	buffer := capture.NewFrameBuffer(rc.MaxErrors)
	return &liveLoop{
		source:        source,
		display:       display,
		detector:      board.NewLiveManager(pattern, false),
		pattern:       pattern,
		compositor:    compositor,
		undistorter:   undistorter,
		smoother:      smoother,
		hud:           hud,
		controller:    controller,
		stats:         capture.NewStats(),
		buffer:        buffer,
		solver:        rc.Solver,
		recordPath:    rc.Record,
		recordFPS:     rc.RecordFPS,
		snapshotDir:   rc.SnapshotDir,
		statsInterval: rc.StatsInterval,
		maxFrames:     opts.MaxFrames,
		maxReadErrors: buffer.MaxErrors() * 10,
		out:           out,
		now:           time.Now,
		unsubscribe:   unsubscribe,
	}, nil
}

// startWatcher reloads the replacement image whenever it changes on disk
func startWatcher(ctx context.Context, path string, loop *liveLoop) (*overlay.Watcher, error) {
	w, err := overlay.NewWatcher(path, 200*time.Millisecond, func(p string) error {
		if err := loop.compositor.Reload(p); err != nil {
			return err
		}
		loop.hud.Log("Reloaded replacement image")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, errors.Wrap(err, "failed to start watcher")
	}
	return w, nil
}
