package visitcounter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eringen/visitcounter/analytics"
)

func setupTestApp(t *testing.T) *App {
	t.Helper()
	store, err := analytics.NewSQLiteStore(filepath.Join(t.TempDir(), "visitors.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	a := New(Config{SiteName: "Test Counter", LogLevel: "off"},
		WithStore(store),
		WithTotalsCache(analytics.NewMemoryTotalsCache(time.Minute)))
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func serve(a *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func get(a *App, target string) *httptest.ResponseRecorder {
	return serve(a, httptest.NewRequest(http.MethodGet, target, nil))
}

func TestHealth(t *testing.T) {
	a := setupTestApp(t)
	rec := get(a, "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestVisitorRoutesMirrored(t *testing.T) {
	a := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/visitor/log", nil)
	req.Header.Set("CF-Connecting-IP", "198.51.100.20")
	req.Header.Set("User-Agent", "TestAgent/2.0")
	rec := serve(a, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("log = %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "198.51.100.20") {
		t.Errorf("log response missing identifier: %s", rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}

	for _, prefix := range []string{"/visitor", "/api/visitor"} {
		rec := get(a, prefix+"/stats?range=week")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s/stats = %d", prefix, rec.Code)
		}
		var buckets []analytics.Bucket
		if err := json.Unmarshal(rec.Body.Bytes(), &buckets); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(buckets) != 7 || analytics.Total(buckets) != 1 {
			t.Errorf("%s/stats: %d buckets, total %d", prefix, len(buckets), analytics.Total(buckets))
		}

		rec = get(a, prefix+"/total")
		var totals analytics.Totals
		if err := json.Unmarshal(rec.Body.Bytes(), &totals); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if totals.TotalVisitors != 1 {
			t.Errorf("%s/total = %+v", prefix, totals)
		}
	}

	if rec := get(a, "/api/visitor/stats?range=decade"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid range = %d, want 400", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	a := setupTestApp(t)

	rec := get(a, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard = %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"Test Counter", "192.0.2.1", `class="range active" href="/?range=day"`, "<svg"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if n := strings.Count(body, "<rect"); n != 24 {
		t.Errorf("day chart has %d bars, want 24", n)
	}
}

func TestDashboardRemembersRange(t *testing.T) {
	a := setupTestApp(t)

	rec := get(a, "/?range=month")
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard = %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = serve(a, req)
	if !strings.Contains(rec.Body.String(), `class="range active" href="/?range=month"`) {
		t.Error("saved range not applied")
	}
	if n := strings.Count(rec.Body.String(), "<rect"); n != 30 {
		t.Errorf("month chart has %d bars, want 30", n)
	}
}

func TestDashboardInvalidRange(t *testing.T) {
	a := setupTestApp(t)
	rec := get(a, "/?range=decade")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want an HTML error page", ct)
	}
	if !strings.Contains(rec.Body.String(), `invalid range &#34;decade&#34;`) {
		t.Errorf("error page missing message: %s", rec.Body.String())
	}
}

func TestNotFoundResponses(t *testing.T) {
	a := setupTestApp(t)

	rec := get(a, "/nope")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "<h1>404</h1>") {
		t.Errorf("page 404 = %d %s", rec.Code, rec.Body.String())
	}

	rec = get(a, "/api/visitor/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("api 404 = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("api 404 is not JSON: %v", err)
	}
	if body["error"] != "Not Found" {
		t.Errorf("api 404 body = %v", body)
	}
}

func TestChartFragment(t *testing.T) {
	a := setupTestApp(t)
	rec := get(a, "/fragments/chart?range=year")
	if rec.Code != http.StatusOK {
		t.Fatalf("fragment = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<html") {
		t.Error("fragment should not include the page shell")
	}
	if n := strings.Count(body, "<rect"); n != 12 {
		t.Errorf("year chart has %d bars, want 12", n)
	}
}

func TestBadgeRoute(t *testing.T) {
	a := setupTestApp(t)
	rec := get(a, "/visitor/badge.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("badge = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestEmbeddedStylesheet(t *testing.T) {
	a := setupTestApp(t)
	rec := get(a, "/public/dashboard.css")
	if rec.Code != http.StatusOK {
		t.Fatalf("stylesheet = %d", rec.Code)
	}
	if rec.Header().Get("Cache-Control") != "public, max-age=86400" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
}

func TestParseLogLevel(t *testing.T) {
	if parseLogLevel("WARN") != parseLogLevel("warning") {
		t.Error("warn aliases differ")
	}
	if parseLogLevel("bogus") != parseLogLevel("info") {
		t.Error("unknown level should fall back to info")
	}
}
