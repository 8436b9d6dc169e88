package main

import (
	"fmt"

	"planarar/board"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

// PatternOptions holds flags for the pattern command.
type PatternOptions struct {
	*RootOptions
	Square int
	Margin int
}

// NewPatternCommand creates the pattern command.
func NewPatternCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PatternOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pattern <output>",
		Short: "Write a printable checkerboard image",
		Long: `Render a checkerboard with the configured number of inner corners. Print
it flat for calibration and for the live overlay.

Example:
  planarar pattern board.png --square 80`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := opts.pattern()
			if err := p.Validate(); err != nil {
				return err
			}
			if opts.Square < 4 || opts.Margin < 0 {
				return fmt.Errorf("square must be at least 4px and margin non-negative, got %d and %d", opts.Square, opts.Margin)
			}

			img := board.Render(p, opts.Square, opts.Margin)
			defer img.Close()
			if !gocv.IMWrite(args[0], img) {
				return fmt.Errorf("failed to write %s", args[0])
			}
			fmt.Fprintf(stdout(cmd), "✅ Wrote %dx%d board (%dx%d px) to %s\n",
				p.Columns, p.Rows, img.Cols(), img.Rows(), args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Square, "square", 60, "square edge in pixels")
	cmd.Flags().IntVar(&opts.Margin, "margin", 40, "white border in pixels")

	return cmd
}
