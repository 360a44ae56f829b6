package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RowSums returns a slice containing m row sums.
// It panics if m is nil.
func RowSums(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	sum := make([]float64, rows)

	for i := 0; i < rows; i++ {
		sum[i] = floats.Sum(m.RawRowView(i))
	}

	return sum
}

// ColSums returns a slice containing m column sums.
// It panics if m is nil.
func ColSums(m *mat.Dense) []float64 {
	_, cols := m.Dims()
	sum := make([]float64, cols)

	for i := 0; i < cols; i++ {
		sum[i] = mat.Sum(m.ColView(i))
	}

	return sum
}

// Sum returns the sum of all m elements.
// It panics if m is nil.
func Sum(m *mat.Dense) float64 {
	return floats.Sum(RowSums(m))
}

// WeightedSum returns the sum of the elementwise product of m and weights w.
// It returns error if the dimensions of m and w differ.
func WeightedSum(m, w *mat.Dense) (float64, error) {
	mr, mc := m.Dims()
	wr, wc := w.Dims()
	if mr != wr || mc != wc {
		return 0, fmt.Errorf("mismatched dimensions: [%d x %d] and [%d x %d]", mr, mc, wr, wc)
	}

	prod := mat.NewDense(mr, mc, nil)
	prod.MulElem(m, w)

	return Sum(prod), nil
}
