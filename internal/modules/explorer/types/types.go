package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrOutOfRange         = errors.New("out of range")
	ErrEmptyInput         = errors.New("empty input")
	ErrUnderdeterminedFit = errors.New("underdetermined fit")
	ErrFetchTimeout       = errors.New("fetch timeout")
	ErrFetchFailure       = errors.New("fetch failure")
	ErrNotFound           = errors.New("not found")

	// ErrInvalidDegree is an ErrInvalidInput for polynomial degrees outside
	// the configured policy.
	ErrInvalidDegree = fmt.Errorf("%w: polynomial degree", ErrInvalidInput)
)

type Station struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type Variable struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// Label is the axis label used for plots, e.g. "Air temperature (C)".
func (v Variable) Label() string {
	if v.Unit == "" {
		return v.Name
	}
	return v.Name + " (" + v.Unit + ")"
}

type Reading struct {
	StationID  string    `json:"stationId"`
	VariableID int       `json:"variableId"`
	Time       time.Time `json:"time"`
	Value      float64   `json:"value"`
}

// Series is the readings of one station/variable pair ordered by time.
type Series struct {
	StationID  string    `json:"stationId"`
	VariableID int       `json:"variableId"`
	From       time.Time `json:"from"`
	Readings   []Reading `json:"readings"`
}

func (s Series) Len() int {
	return len(s.Readings)
}

func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s.Readings))
	for i, r := range s.Readings {
		out[i] = r.Time
	}
	return out
}

func (s Series) Values() []float64 {
	out := make([]float64, len(s.Readings))
	for i, r := range s.Readings {
		out[i] = r.Value
	}
	return out
}

// FittedPoint is a model prediction attached to the absolute timestamp of
// the reading it was evaluated at.
type FittedPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// TablePreview is a generic row dump of one catalog or readings table.
type TablePreview struct {
	Table   string           `json:"table"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// ErrorKind names the taxonomy member err belongs to, "ok" for nil and
// "internal" for anything outside the taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidDegree):
		return "invalid_degree"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrUnderdeterminedFit):
		return "underdetermined_fit"
	case errors.Is(err, ErrFetchTimeout):
		return "fetch_timeout"
	case errors.Is(err, ErrFetchFailure):
		return "fetch_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
