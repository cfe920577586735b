package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crd-explorer/internal/modules/explorer/service"
	"crd-explorer/internal/modules/explorer/types"
	"crd-explorer/internal/modules/explorer/views"
)

type mockExplorer struct {
	stations    []types.Station
	stationsErr error
	variables   []types.Variable
	series      types.Series
	seriesErr   error
	fitted      []types.FittedPoint
	fitErr      error
	trend       service.TrendResult
	trendErr    error
	previewErr  error

	gotYear   string
	gotTrend  [4]any
	gotDegree int
}

func (m *mockExplorer) LoadSeries(_ context.Context, stationID string, variableID int, startYear string) (types.Series, error) {
	m.gotYear = startYear
	if m.seriesErr != nil {
		return types.Series{}, m.seriesErr
	}
	s := m.series
	s.StationID, s.VariableID = stationID, variableID
	return s, nil
}

func (m *mockExplorer) FitPolynomial(_ types.Series, degree int) ([]types.FittedPoint, error) {
	m.gotDegree = degree
	return m.fitted, m.fitErr
}

func (m *mockExplorer) Trend(_ context.Context, stationID string, variableID, year, degree int) (service.TrendResult, error) {
	m.gotTrend = [4]any{stationID, variableID, year, degree}
	return m.trend, m.trendErr
}

func (m *mockExplorer) Variable(_ context.Context, id int) (types.Variable, error) {
	for _, v := range m.variables {
		if v.ID == id {
			return v, nil
		}
	}
	return types.Variable{}, fmt.Errorf("%w: variable %d: %w", types.ErrFetchFailure, id, types.ErrNotFound)
}

func (m *mockExplorer) Stations(context.Context) ([]types.Station, error) {
	return m.stations, m.stationsErr
}

func (m *mockExplorer) Variables(context.Context) ([]types.Variable, error) {
	return m.variables, nil
}

func (m *mockExplorer) StationVariables(_ context.Context, stationID string) ([]types.Variable, error) {
	for _, s := range m.stations {
		if s.ID == stationID {
			return m.variables, nil
		}
	}
	return nil, fmt.Errorf("station %q: %w", stationID, types.ErrNotFound)
}

func (m *mockExplorer) PreviewTable(_ context.Context, table string) (types.TablePreview, error) {
	if m.previewErr != nil {
		return types.TablePreview{}, m.previewErr
	}
	return types.TablePreview{Table: table, Columns: []string{"id"}, Rows: []map[string]any{{"id": "FW001"}}}, nil
}

func (m *mockExplorer) MaxDegree() int  { return 20 }
func (m *mockExplorer) CutoffYear() int { return 2005 }

var t0 = time.Date(2004, time.March, 1, 0, 0, 0, 0, time.UTC)

func newMock() *mockExplorer {
	lat, lon := 42.7, -73.8
	return &mockExplorer{
		stations: []types.Station{
			{ID: "FW001", Name: "Station One", Latitude: &lat, Longitude: &lon},
			{ID: "FW005", Name: "Station Five"},
		},
		variables: []types.Variable{{ID: 9, Name: "Air temperature", Unit: "C"}, {ID: 4, Name: "variable 4"}},
		series: types.Series{
			From: time.Date(2004, time.January, 1, 0, 0, 0, 0, time.UTC),
			Readings: []types.Reading{
				{Time: t0, Value: 5},
				{Time: t0.Add(time.Hour), Value: 6},
				{Time: t0.Add(2 * time.Hour), Value: 5.5},
			},
		},
		fitted: []types.FittedPoint{
			{Time: t0, Value: 5.25},
			{Time: t0.Add(time.Hour), Value: 5.5},
			{Time: t0.Add(2 * time.Hour), Value: 5.75},
		},
	}
}

func newCtrl(m *mockExplorer) *explorerControllerImpl {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExplorerController(m, Options{DefaultDegree: 3}, logger).(*explorerControllerImpl)
}

func serve(t *testing.T, m *mockExplorer, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	newCtrl(m).RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return out
}

func Test_handleDashboard(t *testing.T) {
	t.Run("returns 404 when path is not /", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		rec := httptest.NewRecorder()

		newCtrl(newMock()).handleDashboard(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("returns 500 when stations fail", func(t *testing.T) {
		m := newMock()
		m.stationsErr = errors.New("db error")
		rec := serve(t, m, "/")

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
		if !strings.Contains(rec.Body.String(), "failed to load stations") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("renders HTML when templates loaded", func(t *testing.T) {
		if err := views.LoadTemplates(); err != nil {
			t.Fatalf("LoadTemplates: %v", err)
		}
		rec := serve(t, newMock(), "/")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
			t.Errorf("Content-Type = %q; want text/html; charset=utf-8", ct)
		}
		body := rec.Body.String()
		for _, want := range []string{"<!DOCTYPE html>", "Station One", "42.7000", "-73.8000", "Air temperature (C)", `max="2004"`} {
			if !strings.Contains(body, want) {
				t.Errorf("dashboard missing %q", want)
			}
		}
	})
}

func Test_catalogHandlers(t *testing.T) {
	t.Run("stations", func(t *testing.T) {
		rec := serve(t, newMock(), "/api/v1/stations")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		got := decode[[]types.Station](t, rec)
		if len(got) != 2 || got[0].ID != "FW001" || got[1].Latitude != nil {
			t.Errorf("stations = %+v", got)
		}
	})

	t.Run("stations empty is array", func(t *testing.T) {
		m := newMock()
		m.stations = nil
		rec := serve(t, m, "/api/v1/stations")
		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("body = %q; want []", rec.Body.String())
		}
	})

	t.Run("stations store failure", func(t *testing.T) {
		m := newMock()
		m.stationsErr = fmt.Errorf("%w: disk I/O error", types.ErrFetchFailure)
		rec := serve(t, m, "/api/v1/stations")
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d; want 502", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "disk") {
			t.Errorf("store detail leaked: %q", rec.Body.String())
		}
	})

	t.Run("variables", func(t *testing.T) {
		rec := serve(t, newMock(), "/api/v1/variables")
		got := decode[[]types.Variable](t, rec)
		if rec.Code != http.StatusOK || len(got) != 2 {
			t.Errorf("status %d, variables %+v", rec.Code, got)
		}
	})

	t.Run("station variables", func(t *testing.T) {
		rec := serve(t, newMock(), "/api/v1/stations/FW005/variables")
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d; want 200", rec.Code)
		}
	})

	t.Run("station variables unknown station", func(t *testing.T) {
		rec := serve(t, newMock(), "/api/v1/stations/FW002/variables")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d; want 404", rec.Code)
		}
	})

	t.Run("table", func(t *testing.T) {
		rec := serve(t, newMock(), "/api/v1/tables/stations")
		got := decode[types.TablePreview](t, rec)
		if rec.Code != http.StatusOK || got.Table != "stations" || len(got.Rows) != 1 {
			t.Errorf("status %d, preview %+v", rec.Code, got)
		}
	})

	t.Run("table unknown", func(t *testing.T) {
		m := newMock()
		m.previewErr = fmt.Errorf("table %q: %w", "users", types.ErrInvalidInput)
		rec := serve(t, m, "/api/v1/tables/users")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want 400", rec.Code)
		}
	})
}

func Test_handleSeries(t *testing.T) {
	t.Run("returns series with label", func(t *testing.T) {
		m := newMock()
		rec := serve(t, m, "/api/v1/series?station_id=FW001&variable_id=9&year=2004")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
		}
		got := decode[seriesResponse](t, rec)
		if got.Label != "Air temperature (C)" || got.Count != 3 || len(got.Readings) != 3 {
			t.Errorf("response = %+v", got)
		}
		if got.StationID != "FW001" || got.VariableID != 9 {
			t.Errorf("identity = %s/%d", got.StationID, got.VariableID)
		}
		if m.gotYear != "2004" {
			t.Errorf("year passed = %q; want raw 2004", m.gotYear)
		}
	})

	t.Run("empty series is 200", func(t *testing.T) {
		m := newMock()
		m.series.Readings = []types.Reading{}
		rec := serve(t, m, "/api/v1/series?station_id=FW001&variable_id=9&year=1995")
		got := decode[seriesResponse](t, rec)
		if rec.Code != http.StatusOK || got.Count != 0 || got.Readings == nil {
			t.Errorf("status %d, response %+v", rec.Code, got)
		}
	})

	tests := []struct {
		name   string
		target string
		err    error
		want   int
		body   string
	}{
		{"missing station", "/api/v1/series?variable_id=9&year=2004", nil, http.StatusBadRequest, "station_id"},
		{"bad station chars", "/api/v1/series?station_id=FW0%3B1&variable_id=9&year=2004", nil, http.StatusBadRequest, "station_id"},
		{"missing variable", "/api/v1/series?station_id=FW001&year=2004", nil, http.StatusBadRequest, "variable_id"},
		{"non integer variable", "/api/v1/series?station_id=FW001&variable_id=temp&year=2004", nil, http.StatusBadRequest, "variable_id"},
		{"loader invalid", "/api/v1/series?station_id=FW001&variable_id=9&year=x", fmt.Errorf("start year: %w", types.ErrInvalidInput), http.StatusBadRequest, "start year"},
		{"out of range", "/api/v1/series?station_id=FW001&variable_id=9&year=2005", types.ErrOutOfRange, http.StatusUnprocessableEntity, "before 2005"},
		{"timeout", "/api/v1/series?station_id=FW001&variable_id=9&year=2000", types.ErrFetchTimeout, http.StatusGatewayTimeout, "in time"},
		{"failure", "/api/v1/series?station_id=FW001&variable_id=9&year=2000", types.ErrFetchFailure, http.StatusBadGateway, "store failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock()
			m.seriesErr = tt.err
			rec := serve(t, m, tt.target)
			if rec.Code != tt.want {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			body := decode[map[string]any](t, rec)
			if msg, _ := body["message"].(string); !strings.Contains(msg, tt.body) {
				t.Errorf("message = %q; want containing %q", msg, tt.body)
			}
		})
	}
}

func Test_handleTrend(t *testing.T) {
	t.Run("defaults degree and variable", func(t *testing.T) {
		m := newMock()
		m.trend = service.TrendResult{
			Variable: m.variables[0],
			Degree:   3,
			Raw:      types.Series{StationID: "FW001", VariableID: 9, Readings: m.series.Readings},
			Fitted:   m.fitted,
		}
		rec := serve(t, m, "/api/v1/trend?station_id=FW001&year=2004")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
		}
		if m.gotTrend != [4]any{"FW001", 0, 2004, 3} {
			t.Errorf("Trend called with %v", m.gotTrend)
		}
		got := decode[trendResponse](t, rec)
		if len(got.Raw) != len(got.Fitted) || len(got.Raw) != 3 {
			t.Errorf("raw %d fitted %d; want 3 each", len(got.Raw), len(got.Fitted))
		}
		if got.Label != "Air temperature (C)" || got.Degree != 3 {
			t.Errorf("response = %+v", got)
		}
	})

	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"missing year", "/api/v1/trend?station_id=FW001", nil, http.StatusBadRequest},
		{"negative degree", "/api/v1/trend?station_id=FW001&year=2004&degree=-1", nil, http.StatusBadRequest},
		{"degree too high", "/api/v1/trend?station_id=FW001&year=2004&degree=25", fmt.Errorf("degree 25: %w", types.ErrInvalidDegree), http.StatusBadRequest},
		{"underdetermined", "/api/v1/trend?station_id=FW001&year=2004&degree=5", types.ErrUnderdeterminedFit, http.StatusUnprocessableEntity},
		{"empty", "/api/v1/trend?station_id=FW001&year=2004", types.ErrEmptyInput, http.StatusUnprocessableEntity},
		{"out of range", "/api/v1/trend?station_id=FW001&year=2010", types.ErrOutOfRange, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock()
			m.trendErr = tt.err
			rec := serve(t, m, tt.target)
			if rec.Code != tt.want {
				t.Errorf("status = %d; want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func Test_handleSeriesPartial(t *testing.T) {
	if err := views.LoadTemplates(); err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	t.Run("raw and fitted", func(t *testing.T) {
		m := newMock()
		rec := serve(t, m, "/partials/series?station_id=FW001&variable_id=9&year=2004&degree=1")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := rec.Body.String()
		for _, want := range []string{"3 readings, degree 1 fit", "5.75", "Air temperature (C)"} {
			if !strings.Contains(body, want) {
				t.Errorf("partial missing %q: %s", want, body)
			}
		}
		if m.gotDegree != 1 {
			t.Errorf("fit degree = %d; want 1", m.gotDegree)
		}
	})

	t.Run("fit failure keeps raw table", func(t *testing.T) {
		m := newMock()
		m.fitErr = types.ErrUnderdeterminedFit
		rec := serve(t, m, "/partials/series?station_id=FW001&variable_id=9&year=2004&degree=5")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "underdetermined fit") || strings.Contains(body, "<th>Fitted</th>") {
			t.Errorf("partial = %s", body)
		}
	})

	t.Run("out of range renders message", func(t *testing.T) {
		m := newMock()
		m.seriesErr = types.ErrOutOfRange
		rec := serve(t, m, "/partials/series?station_id=FW001&variable_id=9&year=2005")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d; want 422", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		if !strings.Contains(rec.Body.String(), "year must be before 2005") {
			t.Errorf("partial = %s", rec.Body.String())
		}
	})
}
