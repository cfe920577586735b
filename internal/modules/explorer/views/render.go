package views

import (
	"errors"
	"html/template"
	"io"
	"io/fs"
	"time"

	"crd-explorer/internal/modules/explorer/types"
)

var dashboardTmpl *template.Template

var errNotLoaded = errors.New("dashboard template not loaded: call views.LoadTemplates during startup")

// loadTemplatesFromFS loads dashboard templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	tmpl, err := template.ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	dashboardTmpl = tmpl
	return nil
}

// LoadTemplates loads embedded dashboard templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// StationRow is a station as listed on the dashboard, coordinates
// pre-formatted and blank when unknown.
type StationRow struct {
	ID        string
	Name      string
	Latitude  string
	Longitude string
}

type DashboardData struct {
	Stations           []StationRow
	Variables          []types.Variable
	Tables             []string
	SelectedStationID  string
	SelectedVariableID int
	SelectedYear       int
	FirstYear          int
	LastYear           int
	MaxDegree          int
	DefaultDegree      int
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errNotLoaded
	}
	if data == nil {
		data = &DashboardData{}
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

// SeriesRow is one reading, with its fitted value when a fit was requested.
type SeriesRow struct {
	Time   time.Time
	Value  float64
	Fitted float64
}

// SeriesData is the view model of the series partial. Degree 0 means no
// fitted column.
type SeriesData struct {
	StationID string
	Label     string
	Year      string
	Degree    int
	Rows      []SeriesRow
	Error     string
	FitError  string
}

// RenderSeriesPartial executes only the series partial into w.
// Use for HTMX fragment refresh.
func RenderSeriesPartial(w io.Writer, data *SeriesData) error {
	if dashboardTmpl == nil {
		return errNotLoaded
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/series.html", data)
}
