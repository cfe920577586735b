package smoothing

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"crd-explorer/internal/modules/explorer/types"
)

var t0 = time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC)

func seriesOf(values []float64, step time.Duration) types.Series {
	s := types.Series{StationID: "FW001", VariableID: 9, From: t0}
	for i, v := range values {
		s.Readings = append(s.Readings, types.Reading{
			StationID:  "FW001",
			VariableID: 9,
			Time:       t0.Add(time.Duration(i) * step),
			Value:      v,
		})
	}
	return s
}

func closeTo(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol*math.Max(1, math.Abs(want))
}

func TestNormalizeTimeAxis(t *testing.T) {
	t.Run("seconds since first", func(t *testing.T) {
		ts := []time.Time{t0, t0.Add(90 * time.Minute), t0.Add(48 * time.Hour)}
		got := NormalizeTimeAxis(ts)
		want := []float64{0, 5400, 172800}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("axis[%d] = %v; want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := NormalizeTimeAxis(nil); len(got) != 0 {
			t.Errorf("NormalizeTimeAxis(nil) = %v; want empty", got)
		}
	})

	t.Run("relative to minimum regardless of zone", func(t *testing.T) {
		pst := time.FixedZone("PST", -8*3600)
		ts := []time.Time{t0.In(pst), t0.Add(time.Hour)}
		got := NormalizeTimeAxis(ts)
		if got[0] != 0 || got[1] != 3600 {
			t.Errorf("axis = %v; want [0 3600]", got)
		}
	})

	t.Run("epoch magnitudes collapse", func(t *testing.T) {
		ts := []time.Time{time.Unix(1_000_000_000, 0), time.Unix(1_000_000_001, 0)}
		got := NormalizeTimeAxis(ts)
		if got[0] != 0 || got[1] != 1 {
			t.Errorf("axis = %v; want [0 1]", got)
		}
	})
}

func TestFitSeries_LinearReference(t *testing.T) {
	// Reference: slope = sum((x-xbar)(y-ybar)) / sum((x-xbar)^2) = 1800 / 2*3600^2,
	// intercept = ybar - slope*xbar = 5.25.
	s := seriesOf([]float64{5.0, 6.0, 5.5}, time.Hour)

	fitted, model, err := NewSmoother(20).FitSeriesModel(s, 1)
	if err != nil {
		t.Fatalf("FitSeriesModel: %v", err)
	}
	want := []float64{5.25, 5.5, 5.75}
	if len(fitted) != len(want) {
		t.Fatalf("got %d fitted points, want %d", len(fitted), len(want))
	}
	for i := range want {
		if !closeTo(fitted[i].Value, want[i], 1e-9) {
			t.Errorf("fitted[%d] = %v; want %v", i, fitted[i].Value, want[i])
		}
		if !fitted[i].Time.Equal(s.Readings[i].Time) {
			t.Errorf("fitted[%d].Time = %v; want original %v", i, fitted[i].Time, s.Readings[i].Time)
		}
	}
	slope := (model.Eval(7200) - model.Eval(0)) / 7200
	if !closeTo(slope, 1.0/14400, 1e-9) {
		t.Errorf("slope = %v; want %v", slope, 1.0/14400)
	}
	if model.Degree() != 1 {
		t.Errorf("Degree() = %d; want 1", model.Degree())
	}
}

func TestFitSeries_InterpolatesAtDegreeNMinusOne(t *testing.T) {
	values := []float64{11.2, 9.8, 14.1, 7.3, 12.9, 10.0}
	s := seriesOf(values, 6*time.Hour)

	fitted, err := NewSmoother(20).FitSeries(s, len(values)-1)
	if err != nil {
		t.Fatalf("FitSeries: %v", err)
	}
	for i, v := range values {
		if !closeTo(fitted[i].Value, v, 1e-6) {
			t.Errorf("fitted[%d] = %v; want %v", i, fitted[i].Value, v)
		}
	}
}

func TestFitSeries_LengthAndOrder(t *testing.T) {
	values := make([]float64, 40)
	for i := range values {
		values[i] = 10 + 5*math.Sin(float64(i)/6) + 0.3*math.Cos(float64(i)*7)
	}
	s := seriesOf(values, 24*time.Hour)
	sm := NewSmoother(20)

	for d := 1; d <= 20; d++ {
		fitted, err := sm.FitSeries(s, d)
		if err != nil {
			t.Fatalf("degree %d: %v", d, err)
		}
		if len(fitted) != len(values) {
			t.Fatalf("degree %d: got %d points, want %d", d, len(fitted), len(values))
		}
		for i := range fitted {
			if !fitted[i].Time.Equal(s.Readings[i].Time) {
				t.Fatalf("degree %d: point %d out of order", d, i)
			}
			if math.IsNaN(fitted[i].Value) || math.IsInf(fitted[i].Value, 0) {
				t.Fatalf("degree %d: point %d not finite", d, i)
			}
		}
	}
}

func TestFitSeries_HigherDegreeNeverFitsWorse(t *testing.T) {
	values := make([]float64, 120)
	for i := range values {
		values[i] = 8 + 6*math.Sin(2*math.Pi*float64(i)/120) + 0.5*math.Sin(float64(i)*1.7)
	}
	s := seriesOf(values, 3*24*time.Hour)
	sm := NewSmoother(20)

	sse := func(d int) float64 {
		fitted, err := sm.FitSeries(s, d)
		if err != nil {
			t.Fatalf("degree %d: %v", d, err)
		}
		var sum float64
		for i := range values {
			r := fitted[i].Value - values[i]
			sum += r * r
		}
		return sum
	}
	prev := sse(1)
	for d := 2; d <= 20; d++ {
		cur := sse(d)
		if cur > prev*(1+1e-9)+1e-9 {
			t.Errorf("SSE(degree %d) = %v > SSE(degree %d) = %v", d, cur, d-1, prev)
		}
		prev = cur
	}
}

func TestFitSeries_RecoversPolynomialOverYears(t *testing.T) {
	// Nine years of daily readings on an exact quadratic in elapsed days.
	var s types.Series
	for i := 0; i < 9*365; i += 5 {
		x := float64(i)
		s.Readings = append(s.Readings, types.Reading{
			Time:  t0.Add(time.Duration(i) * 24 * time.Hour),
			Value: 4 + 0.01*x - 2e-6*x*x,
		})
	}

	fitted, err := NewSmoother(20).FitSeries(s, 2)
	if err != nil {
		t.Fatalf("FitSeries: %v", err)
	}
	for i, r := range s.Readings {
		if !closeTo(fitted[i].Value, r.Value, 1e-8) {
			t.Fatalf("fitted[%d] = %v; want %v", i, fitted[i].Value, r.Value)
		}
	}
}

func TestFitSeries_Errors(t *testing.T) {
	sm := NewSmoother(6)
	tests := []struct {
		name   string
		series types.Series
		degree int
		want   error
	}{
		{name: "empty series", series: types.Series{}, degree: 1, want: types.ErrEmptyInput},
		{name: "empty series any degree", series: types.Series{}, degree: 99, want: types.ErrEmptyInput},
		{name: "single point", series: seriesOf([]float64{3}, time.Hour), degree: 1, want: types.ErrUnderdeterminedFit},
		{name: "degree equals points", series: seriesOf([]float64{3, 4, 5}, time.Hour), degree: 3, want: types.ErrUnderdeterminedFit},
		{name: "degree zero", series: seriesOf([]float64{3, 4, 5}, time.Hour), degree: 0, want: types.ErrInvalidInput},
		{name: "degree above policy", series: seriesOf([]float64{1, 2, 3, 4, 5, 6, 7, 8}, time.Hour), degree: 7, want: types.ErrInvalidDegree},
		{name: "duplicate timestamps", series: seriesOf([]float64{3, 4, 5}, 0), degree: 1, want: types.ErrUnderdeterminedFit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fitted, err := sm.FitSeries(tt.series, tt.degree)
			if !errors.Is(err, tt.want) {
				t.Fatalf("FitSeries err = %v; want %v", err, tt.want)
			}
			if fitted != nil {
				t.Errorf("FitSeries returned %d points alongside error", len(fitted))
			}
		})
	}
}

func TestFit_Validation(t *testing.T) {
	if _, err := Fit([]float64{1, 2}, []float64{1}, 1); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("mismatched lengths err = %v; want ErrInvalidInput", err)
	}
	if _, err := Fit([]float64{0, 1, math.NaN()}, []float64{1, 2, 3}, 1); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("NaN x err = %v; want ErrInvalidInput", err)
	}
	if _, err := Fit([]float64{0, 1, 2}, []float64{1, math.Inf(1), 3}, 1); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Inf y err = %v; want ErrInvalidInput", err)
	}
	if _, err := Fit(nil, nil, 1); !errors.Is(err, types.ErrEmptyInput) {
		t.Errorf("empty err = %v; want ErrEmptyInput", err)
	}
}

func TestFit_ConstantModel(t *testing.T) {
	m, err := Fit([]float64{5, 5, 5}, []float64{1, 2, 3}, 0)
	if err != nil {
		t.Fatalf("Fit degree 0: %v", err)
	}
	if !closeTo(m.Eval(5), 2, 1e-12) {
		t.Errorf("Eval = %v; want mean 2", m.Eval(5))
	}
}

func TestNewSmoother_ClampsPolicy(t *testing.T) {
	if got := NewSmoother(0).MaxDegree(); got != 1 {
		t.Errorf("NewSmoother(0).MaxDegree() = %d; want 1", got)
	}
	if got := NewSmoother(6).MaxDegree(); got != 6 {
		t.Errorf("NewSmoother(6).MaxDegree() = %d; want 6", got)
	}
}

func TestFitSeries_ClusteredTimestampsAreRankDeficient(t *testing.T) {
	s := seriesOf([]float64{1, 2, 3, 4, 5}, time.Second)
	s.Readings = append(s.Readings, types.Reading{
		StationID:  "FW001",
		VariableID: 9,
		Time:       t0.AddDate(9, 0, 0),
		Value:      6,
	})

	_, err := NewSmoother(20).FitSeries(s, 5)
	if !errors.Is(err, types.ErrUnderdeterminedFit) {
		t.Fatalf("err = %v; want ErrUnderdeterminedFit", err)
	}
	if !strings.Contains(err.Error(), "too clustered") {
		t.Errorf("err = %q; want it to name clustered timestamps", err)
	}
}
