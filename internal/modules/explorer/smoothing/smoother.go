package smoothing

import (
	"fmt"

	"crd-explorer/internal/modules/explorer/types"
)

// Smoother applies a degree policy to polynomial fits of reading series.
type Smoother struct {
	maxDegree int
}

func NewSmoother(maxDegree int) *Smoother {
	if maxDegree < 1 {
		maxDegree = 1
	}
	return &Smoother{maxDegree: maxDegree}
}

func (s *Smoother) MaxDegree() int {
	return s.maxDegree
}

// FitSeries fits a polynomial of the given degree to the series against its
// normalized time axis and returns one fitted point per reading, in input
// order, carrying the reading's original timestamp.
func (s *Smoother) FitSeries(series types.Series, degree int) ([]types.FittedPoint, error) {
	fitted, _, err := s.FitSeriesModel(series, degree)
	return fitted, err
}

// FitSeriesModel is FitSeries that also returns the model.
func (s *Smoother) FitSeriesModel(series types.Series, degree int) ([]types.FittedPoint, Model, error) {
	n := series.Len()
	if n == 0 {
		return nil, Model{}, fmt.Errorf("series %s/%d: %w", series.StationID, series.VariableID, types.ErrEmptyInput)
	}
	if degree < 1 || degree > s.maxDegree {
		return nil, Model{}, fmt.Errorf("degree %d outside 1..%d: %w", degree, s.maxDegree, types.ErrInvalidDegree)
	}
	if n < degree+1 {
		return nil, Model{}, fmt.Errorf("series %s/%d has %d readings, degree %d needs %d: %w",
			series.StationID, series.VariableID, n, degree, degree+1, types.ErrUnderdeterminedFit)
	}

	x := NormalizeTimeAxis(series.Times())
	model, err := Fit(x, series.Values(), degree)
	if err != nil {
		return nil, Model{}, err
	}

	out := make([]types.FittedPoint, n)
	for i, r := range series.Readings {
		out[i] = types.FittedPoint{Time: r.Time, Value: model.Eval(x[i])}
	}
	return out, model, nil
}
