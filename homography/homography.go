package homography

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

var (
	ErrPointCountMismatch = errors.New("number of points do not match")
	ErrTooFewPoints       = errors.New("at least 4 correspondences are required")
	ErrDegenerate         = errors.New("degenerate point configuration")
)

// Matrix is a 3x3 plane-to-plane projective transform, row-major.
type Matrix [3][3]float64

// Identity returns the identity homography
func Identity() Matrix {
	return Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Solve computes the homography H mapping from[i] to to[i] with the direct
// linear transform. Each correspondence contributes two rows to the
// constraint matrix A and the solution is the eigenvector of AᵀA with the
// smallest eigenvalue. Points are Hartley-normalised before solving.
func Solve(from, to []r2.Point) (Matrix, error) {
	if len(from) != len(to) {
		return Matrix{}, errors.Wrapf(ErrPointCountMismatch, "%d source vs %d target", len(from), len(to))
	}
	if len(from) < 4 {
		return Matrix{}, errors.Wrapf(ErrTooFewPoints, "got %d", len(from))
	}

	tFrom, err := normalisation(from)
	if err != nil {
		return Matrix{}, err
	}
	tTo, err := normalisation(to)
	if err != nil {
		return Matrix{}, err
	}

	// Accumulate AᵀA directly, two constraint rows per correspondence
	var ata [9][9]float64
	for i := range from {
		p, _ := tFrom.Apply(from[i])
		q, _ := tTo.Apply(to[i])

		rowX := [9]float64{p.X, p.Y, 1, 0, 0, 0, -q.X * p.X, -q.X * p.Y, -q.X}
		rowY := [9]float64{0, 0, 0, p.X, p.Y, 1, -q.Y * p.X, -q.Y * p.Y, -q.Y}
		accumulate(&ata, rowX)
		accumulate(&ata, rowY)
	}

	values, vectors, ok := eigenSym(ata)
	if !ok {
		return Matrix{}, errors.Wrap(ErrDegenerate, "eigen decomposition did not converge")
	}

	// A second vanishing eigenvalue means the solution is not unique
	largest := math.Abs(values[8])
	if largest == 0 || math.Abs(values[1]) <= 1e-12*largest {
		return Matrix{}, ErrDegenerate
	}

	var hn Matrix
	for k := 0; k < 9; k++ {
		hn[k/3][k%3] = vectors.At(k, 0)
	}

	invTo, err := tTo.Inverse()
	if err != nil {
		return Matrix{}, err
	}
	h := invTo.Mul(hn).Mul(tFrom)

	if math.Abs(h[2][2]) < 1e-12 {
		return Matrix{}, errors.Wrap(ErrDegenerate, "homography maps origin to infinity")
	}
	return h.Scale(1 / h[2][2]), nil
}

// Apply maps p through the homography. ok is false when p maps to infinity.
func (h Matrix) Apply(p r2.Point) (r2.Point, bool) {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if w == 0 {
		return r2.Point{}, false
	}
	return r2.Point{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}, true
}

// Mul returns h * o
func (h Matrix) Mul(o Matrix) Matrix {
	var out Matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			for k := 0; k < 3; k++ {
				out[r][c] += h[r][k] * o[k][c]
			}
		}
	}
	return out
}

// Scale multiplies every element by s
func (h Matrix) Scale(s float64) Matrix {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] *= s
		}
	}
	return h
}

// Inverse returns the inverse homography
func (h Matrix) Inverse() (Matrix, error) {
	det := h[0][0]*(h[1][1]*h[2][2]-h[1][2]*h[2][1]) -
		h[0][1]*(h[1][0]*h[2][2]-h[1][2]*h[2][0]) +
		h[0][2]*(h[1][0]*h[2][1]-h[1][1]*h[2][0])
	if math.Abs(det) < 1e-15 {
		return Matrix{}, errors.Wrap(ErrDegenerate, "singular matrix")
	}

	inv := Matrix{
		{
			h[1][1]*h[2][2] - h[1][2]*h[2][1],
			h[0][2]*h[2][1] - h[0][1]*h[2][2],
			h[0][1]*h[1][2] - h[0][2]*h[1][1],
		},
		{
			h[1][2]*h[2][0] - h[1][0]*h[2][2],
			h[0][0]*h[2][2] - h[0][2]*h[2][0],
			h[0][2]*h[1][0] - h[0][0]*h[1][2],
		},
		{
			h[1][0]*h[2][1] - h[1][1]*h[2][0],
			h[0][1]*h[2][0] - h[0][0]*h[2][1],
			h[0][0]*h[1][1] - h[0][1]*h[1][0],
		},
	}
	return inv.Scale(1 / det), nil
}

// Values returns the matrix elements in row-major order
func (h Matrix) Values() []float64 {
	out := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		out = append(out, h[r][0], h[r][1], h[r][2])
	}
	return out
}

// ReprojectionError returns the RMS distance between h(from[i]) and to[i]
func ReprojectionError(h Matrix, from, to []r2.Point) (float64, error) {
	if len(from) != len(to) {
		return 0, ErrPointCountMismatch
	}
	if len(from) == 0 {
		return 0, nil
	}

	var sum float64
	for i := range from {
		mapped, ok := h.Apply(from[i])
		if !ok {
			return math.Inf(1), nil
		}
		d := mapped.Sub(to[i])
		sum += d.Dot(d)
	}
	return math.Sqrt(sum / float64(len(from))), nil
}

// normalisation returns the similarity that moves the centroid of pts to
// the origin with mean distance sqrt(2)
func normalisation(pts []r2.Point) (Matrix, error) {
	var centroid r2.Point
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))

	var meanDist float64
	for _, p := range pts {
		meanDist += p.Sub(centroid).Norm()
	}
	meanDist /= float64(len(pts))
	if meanDist == 0 {
		return Matrix{}, errors.Wrap(ErrDegenerate, "all points coincide")
	}

	s := math.Sqrt2 / meanDist
	return Matrix{
		{s, 0, -s * centroid.X},
		{0, s, -s * centroid.Y},
		{0, 0, 1},
	}, nil
}

func accumulate(ata *[9][9]float64, row [9]float64) {
	for r := 0; r < 9; r++ {
		if row[r] == 0 {
			continue
		}
		for c := 0; c < 9; c++ {
			ata[r][c] += row[r] * row[c]
		}
	}
}
