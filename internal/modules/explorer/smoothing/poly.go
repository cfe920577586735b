// Package smoothing fits least-squares polynomials to reading series.
//
// Fits are solved with a Householder QR factorization of the Vandermonde
// matrix rather than the normal equations, and the abscissa is mapped onto
// [-1, 1] before the matrix is built to keep high degrees conditioned.
package smoothing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"crd-explorer/internal/modules/explorer/types"
)

// rankTol is the relative threshold below which a diagonal entry of R is
// treated as zero.
const rankTol = 1e-12

// Model is a fitted polynomial c[0] + c[1]u + ... + c[d]u^d where
// u = (x - Offset) / Scale.
type Model struct {
	Coefficients []float64
	Offset       float64
	Scale        float64
	// Condition is the condition number of the scaled Vandermonde matrix.
	Condition float64
}

func (m Model) Degree() int {
	return len(m.Coefficients) - 1
}

// Eval evaluates the model at x using Horner's scheme.
func (m Model) Eval(x float64) float64 {
	u := x - m.Offset
	if m.Scale != 0 {
		u /= m.Scale
	}
	var y float64
	for i := len(m.Coefficients) - 1; i >= 0; i-- {
		y = y*u + m.Coefficients[i]
	}
	return y
}

// NormalizeTimeAxis returns, for each timestamp, the seconds elapsed since
// the earliest one. The earliest maps to exactly 0.
func NormalizeTimeAxis(ts []time.Time) []float64 {
	if len(ts) == 0 {
		return []float64{}
	}
	first := ts[0]
	for _, t := range ts[1:] {
		if t.Before(first) {
			first = t
		}
	}
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = t.Sub(first).Seconds()
	}
	return out
}

// Fit solves the least-squares polynomial of the given degree through
// (x[i], y[i]). It fails with ErrEmptyInput for no points and with
// ErrUnderdeterminedFit when there are fewer than degree+1 points or fewer
// than degree+1 distinct x values.
func Fit(x, y []float64, degree int) (Model, error) {
	if len(x) != len(y) {
		return Model{}, fmt.Errorf("x has %d points, y has %d: %w", len(x), len(y), types.ErrInvalidInput)
	}
	if len(x) == 0 {
		return Model{}, types.ErrEmptyInput
	}
	if degree < 0 {
		return Model{}, fmt.Errorf("degree %d: %w", degree, types.ErrInvalidDegree)
	}
	if len(x) < degree+1 {
		return Model{}, fmt.Errorf("%d points cannot determine a degree %d polynomial: %w",
			len(x), degree, types.ErrUnderdeterminedFit)
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return Model{}, fmt.Errorf("point %d is not finite: %w", i, types.ErrInvalidInput)
		}
	}

	offset, scale := axisScale(x)
	u := make([]float64, len(x))
	for i, v := range x {
		u[i] = (v - offset) / scale
	}

	a := vandermonde(u, degree)
	var qr mat.QR
	qr.Factorize(a)
	if !fullRank(&qr, degree+1) {
		return Model{}, fmt.Errorf("degree %d fit is numerically rank deficient (timestamps too few or too clustered): %w",
			degree, types.ErrUnderdeterminedFit)
	}

	b := mat.NewVecDense(len(y), append([]float64(nil), y...))
	var c mat.VecDense
	if err := qr.SolveVecTo(&c, false, b); err != nil {
		// An ill-conditioned but full-rank system still yields the QR
		// solution; only a hard failure is fatal.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return Model{}, fmt.Errorf("solve degree %d fit: %v: %w", degree, err, types.ErrUnderdeterminedFit)
		}
	}

	coeffs := make([]float64, c.Len())
	for i := range coeffs {
		coeffs[i] = c.AtVec(i)
	}
	return Model{Coefficients: coeffs, Offset: offset, Scale: scale, Condition: qr.Cond()}, nil
}

// axisScale maps [min(x), max(x)] onto [-1, 1]. A zero-width axis keeps a
// unit scale so Eval stays defined.
func axisScale(x []float64) (offset, scale float64) {
	lo, hi := x[0], x[0]
	for _, v := range x[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	scale = (hi - lo) / 2
	if scale == 0 {
		scale = 1
	}
	return lo + (hi-lo)/2, scale
}

func vandermonde(u []float64, degree int) *mat.Dense {
	a := mat.NewDense(len(u), degree+1, nil)
	for i := range u {
		for j, p := 0, 1.0; j <= degree; j, p = j+1, p*u[i] {
			a.Set(i, j, p)
		}
	}
	return a
}

func fullRank(qr *mat.QR, cols int) bool {
	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for i := 0; i < cols; i++ {
		maxDiag = math.Max(maxDiag, math.Abs(r.At(i, i)))
	}
	if maxDiag == 0 {
		return false
	}
	for i := 0; i < cols; i++ {
		if math.Abs(r.At(i, i)) <= rankTol*maxDiag {
			return false
		}
	}
	return true
}
