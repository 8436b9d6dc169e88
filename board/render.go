package board

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Render draws a printable checkerboard for pattern as a single-channel
// image. square is the edge of one square in pixels and margin the white
// border around the board. Inner corner (x, y) lands on pixel
// (margin+(x+1)*square, margin+(y+1)*square).
func Render(p Pattern, square, margin int) gocv.Mat {
	squaresX := p.Columns + 1
	squaresY := p.Rows + 1
	width := squaresX*square + 2*margin
	height := squaresY*square + 2*margin

	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	img.SetTo(gocv.NewScalar(255, 255, 255, 0))

	black := color.RGBA{0, 0, 0, 0}
	for sy := 0; sy < squaresY; sy++ {
		for sx := 0; sx < squaresX; sx++ {
			if (sx+sy)%2 != 0 {
				continue
			}
			x0 := margin + sx*square
			y0 := margin + sy*square
			gocv.Rectangle(&img, image.Rect(x0, y0, x0+square, y0+square), black, -1)
		}
	}
	return img
}

// RenderedCorner returns where Render places inner corner (x, y)
func RenderedCorner(x, y, square, margin int) image.Point {
	return image.Pt(margin+(x+1)*square, margin+(y+1)*square)
}
