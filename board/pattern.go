package board

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"
)

// Pattern describes a checkerboard by its inner corner counts
type Pattern struct {
	Columns    int     // Inner corners along a row
	Rows       int     // Inner corners along a column
	SquareSize float64 // Edge length of one square in world units
}

// DefaultPattern is the 9x6 inner-corner board used for both calibration and AR
func DefaultPattern() Pattern {
	return Pattern{Columns: 9, Rows: 6, SquareSize: 1}
}

// Validate checks that the pattern can be detected at all
func (p Pattern) Validate() error {
	if p.Columns < 2 || p.Rows < 2 {
		return fmt.Errorf("pattern must have at least 2x2 inner corners, got %dx%d", p.Columns, p.Rows)
	}
	if p.SquareSize <= 0 {
		return fmt.Errorf("square size must be positive, got %v", p.SquareSize)
	}
	return nil
}

// Size returns the OpenCV pattern size (columns, rows)
func (p Pattern) Size() image.Point {
	return image.Pt(p.Columns, p.Rows)
}

// Count is the number of inner corners
func (p Pattern) Count() int {
	return p.Columns * p.Rows
}

// ObjectPoints returns the planar world coordinates of every inner corner
// in detection order: x varies fastest, z is always 0.
func (p Pattern) ObjectPoints() []gocv.Point3f {
	pts := make([]gocv.Point3f, 0, p.Count())
	for y := 0; y < p.Rows; y++ {
		for x := 0; x < p.Columns; x++ {
			pts = append(pts, gocv.Point3f{
				X: float32(float64(x) * p.SquareSize),
				Y: float32(float64(y) * p.SquareSize),
				Z: 0,
			})
		}
	}
	return pts
}

// PlanePoints returns ObjectPoints projected onto the board plane
func (p Pattern) PlanePoints() []r2.Point {
	obj := p.ObjectPoints()
	pts := make([]r2.Point, len(obj))
	for i, o := range obj {
		pts[i] = r2.Point{X: float64(o.X), Y: float64(o.Y)}
	}
	return pts
}

// OuterIndices returns the corner indices of the first, end-of-first-row,
// last and start-of-last-row corners, in that order.
func (p Pattern) OuterIndices() [4]int {
	n := p.Count()
	return [4]int{0, p.Columns - 1, n - 1, n - p.Columns}
}

// ReferencePoints spreads the inner corner grid evenly over a reference
// image of the given size so that the outer corners land on the image
// corners (0,0), (w,0), (w,h), (0,h).
func (p Pattern) ReferencePoints(width, height int) []r2.Point {
	pts := make([]r2.Point, 0, p.Count())
	stepX := float64(width) / float64(p.Columns-1)
	stepY := float64(height) / float64(p.Rows-1)
	for y := 0; y < p.Rows; y++ {
		for x := 0; x < p.Columns; x++ {
			pts = append(pts, r2.Point{X: float64(x) * stepX, Y: float64(y) * stepY})
		}
	}
	return pts
}
