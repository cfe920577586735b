package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"crd-explorer/internal/modules/explorer/series"
	"crd-explorer/internal/modules/explorer/types"
	"crd-explorer/internal/utils"
)

var validate = validator.New()

// seriesQuery holds the parameters of /api/v1/series and /partials/series.
// Year stays raw: the loader owns its parsing and range rules.
type seriesQuery struct {
	StationID  string `validate:"required,alphanum,max=16"`
	VariableID int    `validate:"required,gt=0"`
	Year       string
	// Degree 0 means no fit.
	Degree int `validate:"gte=0"`
}

// trendQuery holds the parameters of /api/v1/trend. VariableID 0 selects
// the default trend variable and Degree 0 the configured default.
type trendQuery struct {
	StationID  string `validate:"required,alphanum,max=16"`
	VariableID int    `validate:"gte=0"`
	Year       int
	Degree     int `validate:"gte=0"`
}

func parseSeriesQuery(r *http.Request) (seriesQuery, error) {
	q := r.URL.Query()
	var out seriesQuery
	var err error

	out.StationID = strings.TrimSpace(q.Get("station_id"))
	if out.VariableID, err = intParam(q.Get("variable_id"), "variable_id"); err != nil {
		return seriesQuery{}, err
	}
	out.Year = q.Get("year")
	if out.Degree, err = intParam(q.Get("degree"), "degree"); err != nil {
		return seriesQuery{}, err
	}
	if err := validate.Struct(out); err != nil {
		return seriesQuery{}, invalid(err)
	}
	return out, nil
}

func parseTrendQuery(r *http.Request, defaultDegree int) (trendQuery, error) {
	q := r.URL.Query()
	var out trendQuery
	var err error

	out.StationID = strings.TrimSpace(q.Get("station_id"))
	if out.VariableID, err = intParam(q.Get("variable_id"), "variable_id"); err != nil {
		return trendQuery{}, err
	}
	if out.Year, err = series.ParseYear(q.Get("year")); err != nil {
		return trendQuery{}, err
	}
	if out.Degree, err = intParam(q.Get("degree"), "degree"); err != nil {
		return trendQuery{}, err
	}
	if err := validate.Struct(out); err != nil {
		return trendQuery{}, invalid(err)
	}
	if out.Degree == 0 {
		out.Degree = defaultDegree
	}
	return out, nil
}

// intParam parses an optional integer parameter; empty is 0.
func intParam(s, name string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid '%s' (expected integer): %w", name, types.ErrInvalidInput)
	}
	return n, nil
}

func invalid(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid '%s' (%s): %w", queryName(fe.Field()), fe.Tag(), types.ErrInvalidInput)
	}
	return fmt.Errorf("%v: %w", err, types.ErrInvalidInput)
}

func queryName(field string) string {
	switch field {
	case "StationID":
		return "station_id"
	case "VariableID":
		return "variable_id"
	case "Degree":
		return "degree"
	case "Year":
		return "year"
	default:
		return strings.ToLower(field)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrOutOfRange),
		errors.Is(err, types.ErrEmptyInput),
		errors.Is(err, types.ErrUnderdeterminedFit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrFetchTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrFetchFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the client-facing text of err. Store and internal faults
// are not echoed.
func messageFor(err error, cutoffYear int) string {
	switch {
	case errors.Is(err, types.ErrOutOfRange):
		return fmt.Sprintf("year must be before %d", cutoffYear)
	case errors.Is(err, types.ErrFetchTimeout):
		return "the data store did not answer in time"
	case errors.Is(err, types.ErrFetchFailure):
		return "the data store failed"
	case statusFor(err) == http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func (c *explorerControllerImpl) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	c.logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path,
		"status", status,
		"kind", types.ErrorKind(err),
		"error", err,
	)
	utils.WriteError(w, status, messageFor(err, c.service.CutoffYear()))
}

type point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

func readingPoints(readings []types.Reading) []point {
	out := make([]point, len(readings))
	for i, r := range readings {
		out[i] = point{Time: r.Time, Value: r.Value}
	}
	return out
}

func fittedPoints(fitted []types.FittedPoint) []point {
	out := make([]point, len(fitted))
	for i, f := range fitted {
		out[i] = point{Time: f.Time, Value: f.Value}
	}
	return out
}

func formatCoord(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 4, 64)
}
