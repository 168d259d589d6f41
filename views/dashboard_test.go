package views

import (
	"context"
	"strings"
	"testing"
)

func render(t *testing.T, vm DashboardViewModel) string {
	t.Helper()
	var sb strings.Builder
	if err := Dashboard(vm).Render(context.Background(), &sb); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return sb.String()
}

func TestDashboardEscapesText(t *testing.T) {
	out := render(t, DashboardViewModel{
		SiteName: "<script>alert(1)</script>",
		Range:    "day",
		Ranges:   []string{"day", "week"},
		Visitor: &VisitorViewModel{
			Identifier: "10.0.0.1",
			UserAgent:  `"><img src=x onerror=alert(1)>`,
		},
	})
	if strings.Contains(out, "<script>alert(1)</script>") {
		t.Error("site name not escaped")
	}
	if strings.Contains(out, "<img src=x") {
		t.Error("user agent not escaped")
	}
	if !strings.Contains(out, `class="range active" href="/?range=day"`) {
		t.Error("active range link missing")
	}
}

func TestDashboardShowsErrorInsteadOfChart(t *testing.T) {
	out := render(t, DashboardViewModel{SiteName: "x", Error: "Error fetching stats"})
	if !strings.Contains(out, "Error fetching stats") {
		t.Error("error message missing")
	}
	if strings.Contains(out, "<svg") {
		t.Error("chart rendered alongside error")
	}
	if !strings.Contains(out, "Visitor information unavailable") {
		t.Error("nil visitor should render placeholder")
	}
}

func TestChartRendersOneBarPerBucket(t *testing.T) {
	buckets := make([]BucketViewModel, 24)
	for i := range buckets {
		buckets[i] = BucketViewModel{Key: "k", Label: "l", Count: i}
	}
	var sb strings.Builder
	if err := Chart(buckets).Render(context.Background(), &sb); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := sb.String()
	if n := strings.Count(out, "<rect"); n != 24 {
		t.Errorf("got %d bars, want 24", n)
	}
	if n := strings.Count(out, "<text"); n > maxLabels {
		t.Errorf("got %d labels, want at most %d", n, maxLabels)
	}
}

func TestChartEmpty(t *testing.T) {
	var sb strings.Builder
	if err := Chart(nil).Render(context.Background(), &sb); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(sb.String(), "<rect") {
		t.Error("empty chart should have no bars")
	}
}

func TestErrorPage(t *testing.T) {
	var sb strings.Builder
	if err := ErrorPage("Counter", 400, `bad <range>`).Render(context.Background(), &sb); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := sb.String()
	if !strings.Contains(out, "<h1>400</h1>") || !strings.Contains(out, "bad &lt;range&gt;") {
		t.Errorf("unexpected error page: %s", out)
	}
}

func TestFormatCount(t *testing.T) {
	tests := map[int]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		1234567: "1,234,567",
		-4200:   "-4,200",
		100000:  "100,000",
	}
	for n, want := range tests {
		if got := formatCount(n); got != want {
			t.Errorf("formatCount(%d) = %q, want %q", n, got, want)
		}
	}
}
