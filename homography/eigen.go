package homography

import (
	"gonum.org/v1/gonum/mat"
)

// eigenSym decomposes the symmetric 9x9 matrix a. values are in ascending
// order and column j of vectors belongs to values[j].
func eigenSym(a [9][9]float64) (values []float64, vectors *mat.Dense, ok bool) {
	data := make([]float64, 0, 81)
	for r := range a {
		data = append(data, a[r][:]...)
	}

	var es mat.EigenSym
	if !es.Factorize(mat.NewSymDense(9, data), true) {
		return nil, nil, false
	}
	vectors = &mat.Dense{}
	es.VectorsTo(vectors)
	return es.Values(nil), vectors, true
}
