package controller

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crd-explorer/internal/modules/explorer/repository"
	"crd-explorer/internal/modules/explorer/service"
	"crd-explorer/internal/modules/explorer/types"
	"crd-explorer/internal/modules/explorer/views"
	"crd-explorer/internal/utils"
)

type seriesResponse struct {
	StationID  string    `json:"stationId"`
	VariableID int       `json:"variableId"`
	Label      string    `json:"label"`
	From       time.Time `json:"from"`
	Count      int       `json:"count"`
	Readings   []point   `json:"readings"`
}

type trendResponse struct {
	StationID string         `json:"stationId"`
	Variable  types.Variable `json:"variable"`
	Label     string         `json:"label"`
	Degree    int            `json:"degree"`
	From      time.Time      `json:"from"`
	Raw       []point        `json:"raw"`
	Fitted    []point        `json:"fitted"`
}

func (c *explorerControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	stations, err := c.service.Stations(ctx)
	if err != nil {
		c.logger.Error("dashboard: get stations failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load stations")
		return
	}
	variables, err := c.service.Variables(ctx)
	if err != nil {
		c.logger.Error("dashboard: get variables failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load variables")
		return
	}

	selectedID := r.URL.Query().Get("station_id")
	if selectedID == "" && len(stations) > 0 {
		selectedID = stations[0].ID
	}
	rows := make([]views.StationRow, 0, len(stations))
	for _, s := range stations {
		rows = append(rows, views.StationRow{
			ID:        s.ID,
			Name:      s.Name,
			Latitude:  formatCoord(s.Latitude),
			Longitude: formatCoord(s.Longitude),
		})
	}
	lastYear := c.service.CutoffYear() - 1
	data := &views.DashboardData{
		Stations:           rows,
		Variables:          variables,
		Tables:             repository.PreviewTables(),
		SelectedStationID:  selectedID,
		SelectedVariableID: service.DefaultTrendVariable,
		SelectedYear:       lastYear,
		FirstYear:          c.opts.FirstYear,
		LastYear:           lastYear,
		MaxDegree:          c.service.MaxDegree(),
		DefaultDegree:      c.opts.DefaultDegree,
	}

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, data); err != nil {
		c.logger.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	utils.WriteHTML(w, http.StatusOK, buf.Bytes())
}

func (c *explorerControllerImpl) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := c.service.Stations(r.Context())
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, nonNil(stations))
}

func (c *explorerControllerImpl) handleVariables(w http.ResponseWriter, r *http.Request) {
	variables, err := c.service.Variables(r.Context())
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, nonNil(variables))
}

func (c *explorerControllerImpl) handleStationVariables(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing station id")
		return
	}
	variables, err := c.service.StationVariables(r.Context(), id)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, nonNil(variables))
}

func (c *explorerControllerImpl) handleTable(w http.ResponseWriter, r *http.Request) {
	preview, err := c.service.PreviewTable(r.Context(), r.PathValue("name"))
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, preview)
}

func (c *explorerControllerImpl) handleSeries(w http.ResponseWriter, r *http.Request) {
	q, err := parseSeriesQuery(r)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	ctx := r.Context()
	s, err := c.service.LoadSeries(ctx, q.StationID, q.VariableID, q.Year)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	variable, err := c.service.Variable(ctx, q.VariableID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, seriesResponse{
		StationID:  s.StationID,
		VariableID: s.VariableID,
		Label:      variable.Label(),
		From:       s.From,
		Count:      s.Len(),
		Readings:   readingPoints(s.Readings),
	})
}

func (c *explorerControllerImpl) handleTrend(w http.ResponseWriter, r *http.Request) {
	q, err := parseTrendQuery(r, c.opts.DefaultDegree)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	res, err := c.service.Trend(r.Context(), q.StationID, q.VariableID, q.Year, q.Degree)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, trendResponse{
		StationID: res.Raw.StationID,
		Variable:  res.Variable,
		Label:     res.Variable.Label(),
		Degree:    res.Degree,
		From:      res.Raw.From,
		Raw:       readingPoints(res.Raw.Readings),
		Fitted:    fittedPoints(res.Fitted),
	})
}

// handleSeriesPartial renders the series table fragment. Failures render
// as a message inside the fragment, with the mapped status code.
func (c *explorerControllerImpl) handleSeriesPartial(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	data := &views.SeriesData{Year: r.URL.Query().Get("year")}

	fail := func(err error) {
		status = statusFor(err)
		data.Error = messageFor(err, c.service.CutoffYear())
		c.logger.Debug("series partial failed", "kind", types.ErrorKind(err), "error", err)
	}

	q, err := parseSeriesQuery(r)
	if err != nil {
		fail(err)
	} else {
		c.fillSeriesPartial(r, q, data, fail)
	}

	var buf bytes.Buffer
	if err := views.RenderSeriesPartial(&buf, data); err != nil {
		c.logger.Error("series partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	utils.WriteHTML(w, status, buf.Bytes())
}

func (c *explorerControllerImpl) fillSeriesPartial(r *http.Request, q seriesQuery, data *views.SeriesData, fail func(error)) {
	ctx := r.Context()
	data.StationID = q.StationID

	s, err := c.service.LoadSeries(ctx, q.StationID, q.VariableID, q.Year)
	if err != nil {
		fail(err)
		return
	}
	data.Year = strconv.Itoa(s.From.Year())
	variable, err := c.service.Variable(ctx, q.VariableID)
	if err != nil {
		fail(err)
		return
	}
	data.Label = variable.Label()

	data.Rows = make([]views.SeriesRow, s.Len())
	for i, rd := range s.Readings {
		data.Rows[i] = views.SeriesRow{Time: rd.Time, Value: rd.Value}
	}
	if q.Degree == 0 || s.Len() == 0 {
		return
	}

	fitted, err := c.service.FitPolynomial(s, q.Degree)
	if err != nil {
		// the raw table is still worth showing
		data.FitError = messageFor(err, c.service.CutoffYear())
		if errors.Is(err, types.ErrInvalidInput) {
			data.FitError = "degree must be between 1 and " + strconv.Itoa(c.service.MaxDegree())
		}
		return
	}
	data.Degree = q.Degree
	for i := range fitted {
		data.Rows[i].Fitted = fitted[i].Value
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
