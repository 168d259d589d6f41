package visitcounter

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/visitcounter/analytics"
	"github.com/eringen/visitcounter/views"
)

// dashboardRange picks the range from the query, then the session, then day.
func dashboardRange(c echo.Context) (analytics.Range, bool, error) {
	if q := c.QueryParam("range"); q != "" {
		r, err := analytics.ParseRange(q)
		return r, true, err
	}
	if saved := savedRange(c); saved != "" {
		if r, err := analytics.ParseRange(saved); err == nil {
			return r, false, nil
		}
	}
	return analytics.RangeDay, false, nil
}

// handleDashboard records the viewer's visit and renders the dashboard.
func (a *App) handleDashboard(c echo.Context) error {
	ctx := c.Request().Context()

	r, fromQuery, err := dashboardRange(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if fromQuery {
		if err := saveRange(c, string(r)); err != nil {
			c.Logger().Warnf("Failed to save dashboard range: %v", err)
		}
	}

	vm := views.DashboardViewModel{
		SiteName: a.Config.SiteName,
		Range:    string(r),
	}
	for _, rr := range analytics.Ranges() {
		vm.Ranges = append(vm.Ranges, string(rr))
	}

	rec, err := a.Visitors.Record(ctx, c.RealIP(), c.Request().UserAgent())
	switch {
	case rec.Identifier != "":
		if err != nil {
			c.Logger().Warnf("Visit logged but totals cache not cleared: %v", err)
		}
		vm.Visitor = visitorViewModel(rec)
	case err != nil:
		c.Logger().Errorf("Failed to log visitor: %v", err)
	}

	buckets, err := a.Visitors.Series(ctx, r)
	if err != nil {
		c.Logger().Errorf("Failed to get stats: %v", err)
		vm.Error = "Error fetching stats"
	}
	vm.Buckets = bucketViewModels(buckets)

	totals, err := a.Visitors.Totals(ctx)
	if err != nil {
		return err
	}
	vm.Totals = views.TotalsViewModel{Total: totals.TotalVisitors, Unique: totals.UniqueVisitors}

	return Render(c, views.Dashboard(vm))
}

// handleChartFragment returns only the SVG chart, for in-place range switches.
func (a *App) handleChartFragment(c echo.Context) error {
	r, _, err := dashboardRange(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	buckets, err := a.Visitors.Series(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return Render(c, views.Chart(bucketViewModels(buckets)))
}

// handleBadge serves a PNG counter badge with the total visitor count.
func (a *App) handleBadge(c echo.Context) error {
	totals, err := a.Visitors.Totals(c.Request().Context())
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := RenderBadge(&buf, "visitors", totals.TotalVisitors); err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var rangeErr *analytics.InvalidRangeError
	if errors.As(err, &rangeErr) {
		err = echo.NewHTTPError(http.StatusBadRequest, rangeErr.Error())
	}
	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
		message = "Internal server error"
	}

	if isAPIPath(c.Request().URL.Path) {
		_ = c.JSON(code, map[string]string{"error": message})
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if rerr := RenderStatus(c, code, views.ErrorPage(a.Config.SiteName, code, message)); rerr != nil {
		c.Logger().Errorf("render error page: %v", rerr)
		_ = c.String(code, message)
	}
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/visitor/") || strings.HasPrefix(p, "/api/")
}

func visitorViewModel(rec analytics.VisitRecord) *views.VisitorViewModel {
	browser, os, device := analytics.ParseUserAgent(rec.UserAgent)
	return &views.VisitorViewModel{
		Identifier: rec.Identifier,
		UserAgent:  rec.UserAgent,
		LastVisit:  rec.LastVisit.UTC().Format("2006-01-02 15:04:05 MST"),
		Browser:    browser,
		OS:         os,
		Device:     device,
	}
}

func bucketViewModels(buckets []analytics.Bucket) []views.BucketViewModel {
	out := make([]views.BucketViewModel, len(buckets))
	for i, b := range buckets {
		out[i] = views.BucketViewModel{Key: b.Key, Label: b.Label, Count: b.Count}
	}
	return out
}
