package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "visitors.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStoreSchemaVersion(t *testing.T) {
	s := setupTestStore(t)

	v, err := s.GetSetting("schema_version")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if v != "1" {
		t.Errorf("schema_version = %q, want 1", v)
	}
}

func TestNewSQLiteStoreRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visitors.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.SetSetting("schema_version", "99"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	s.Close()

	if _, err := NewSQLiteStore(path); err == nil {
		t.Fatal("expected error opening a database with a newer schema")
	}
}

func TestRecordVisitInsertThenUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(3 * time.Hour)

	rec, err := s.RecordVisit(ctx, "203.0.113.7", "curl/8.0", first)
	if err != nil {
		t.Fatalf("RecordVisit failed: %v", err)
	}
	if rec.Identifier != "203.0.113.7" || rec.UserAgent != "curl/8.0" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.LastVisit.Equal(first) || !rec.CreatedAt.Equal(first) {
		t.Errorf("timestamps = %s / %s, want %s", rec.LastVisit, rec.CreatedAt, first)
	}

	rec, err = s.RecordVisit(ctx, "203.0.113.7", "Mozilla/5.0 Firefox/126.0", second)
	if err != nil {
		t.Fatalf("second RecordVisit failed: %v", err)
	}
	if !rec.LastVisit.Equal(second) || !rec.UpdatedAt.Equal(second) {
		t.Errorf("last visit = %s, want %s", rec.LastVisit, second)
	}
	if !rec.CreatedAt.Equal(first) {
		t.Errorf("created at changed to %s", rec.CreatedAt)
	}
	if rec.UserAgent != "Mozilla/5.0 Firefox/126.0" {
		t.Errorf("user agent not replaced: %q", rec.UserAgent)
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.TotalVisitors != 1 || totals.UniqueVisitors != 1 {
		t.Errorf("totals = %+v, want one visitor", totals)
	}
}

func TestRecordVisitEmptyIdentifier(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.RecordVisit(context.Background(), "  ", "ua", time.Now())
	if !errors.Is(err, ErrEmptyIdentifier) {
		t.Fatalf("expected ErrEmptyIdentifier, got %v", err)
	}
}

func TestRecordVisitNormalizesMappedIPv4(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := s.RecordVisit(ctx, "::ffff:192.0.2.1", "", now); err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	rec, err := s.RecordVisit(ctx, "192.0.2.1", "", now)
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	if rec.Identifier != "192.0.2.1" {
		t.Errorf("identifier = %q", rec.Identifier)
	}
	totals, _ := s.Totals(ctx)
	if totals.TotalVisitors != 1 {
		t.Errorf("mapped and plain IPv4 stored separately: %+v", totals)
	}
}

func TestRecordVisitClampsUserAgent(t *testing.T) {
	s := setupTestStore(t)
	rec, err := s.RecordVisit(context.Background(), "198.51.100.1", strings.Repeat("x", 2000), time.Now())
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	if len(rec.UserAgent) != maxUserAgentLen {
		t.Errorf("user agent length = %d, want %d", len(rec.UserAgent), maxUserAgentLen)
	}
}

func TestVisitsSince(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		if _, err := s.RecordVisit(ctx, id, "ua", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("RecordVisit: %v", err)
		}
	}

	visits, err := s.VisitsSince(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("VisitsSince failed: %v", err)
	}
	if len(visits) != 2 {
		t.Fatalf("got %d visits, want 2", len(visits))
	}
	if visits[0].Identifier != "10.0.0.2" || visits[1].Identifier != "10.0.0.3" {
		t.Errorf("visits = %+v", visits)
	}
}

func TestVisitsSinceNonUTCBounds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.RecordVisit(ctx, "10.0.0.1", "ua", at); err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}

	loc := time.FixedZone("UTC-5", -5*60*60)
	visits, err := s.VisitsSince(ctx, at.In(loc), at.In(loc))
	if err != nil {
		t.Fatalf("VisitsSince: %v", err)
	}
	if len(visits) != 1 {
		t.Errorf("got %d visits, want 1", len(visits))
	}
}

func TestSeedAndSummary(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	records := []VisitRecord{
		{Identifier: "10.0.0.1", UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) Mobile", LastVisit: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)},
		{Identifier: "10.0.0.2", UserAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/120", LastVisit: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{Identifier: "10.0.0.3", UserAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/120", LastVisit: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)},
		{Identifier: "10.0.0.1", UserAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/120", LastVisit: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Identifier: "", UserAgent: "skipped", LastVisit: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	n, err := s.Seed(ctx, records)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Seed wrote %d, want 4", n)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.TotalVisitors != 3 || sum.UniqueVisitors != 3 {
		t.Errorf("totals = %+v, want 3/3", sum.Totals)
	}
	if !sum.Earliest.Equal(records[1].LastVisit) || !sum.Latest.Equal(records[3].LastVisit) {
		t.Errorf("date range = %s..%s", sum.Earliest, sum.Latest)
	}
	wantYears := []YearCount{{2024, 2}, {2025, 1}}
	if len(sum.VisitsByYear) != len(wantYears) {
		t.Fatalf("VisitsByYear = %+v", sum.VisitsByYear)
	}
	for i, y := range wantYears {
		if sum.VisitsByYear[i] != y {
			t.Errorf("VisitsByYear[%d] = %+v, want %+v", i, sum.VisitsByYear[i], y)
		}
	}
	if sum.TopUserAgent != "Mozilla/5.0 (Windows NT 10.0) Chrome/120" || sum.TopAgentVisits != 3 {
		t.Errorf("top agent = %q (%d)", sum.TopUserAgent, sum.TopAgentVisits)
	}
	if sum.Mobile != 0 || sum.Desktop != 3 {
		t.Errorf("mobile/desktop = %d/%d, want 0/3", sum.Mobile, sum.Desktop)
	}
}

func TestSummaryDeviceSplitMatchesParser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	agents := map[string]string{
		"10.0.0.1": "Mozilla/5.0 (Windows NT 10.0; Win64; x64; Touch; Tablet PC 2.0)",
		"10.0.0.2": "Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/124.0.0.0 Safari/537.36",
		"10.0.0.3": "Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
	}
	wantMobile := 0
	for ip, ua := range agents {
		if _, err := s.RecordVisit(ctx, ip, ua, now); err != nil {
			t.Fatalf("RecordVisit: %v", err)
		}
		if IsMobile(ua) {
			wantMobile++
		}
	}
	if wantMobile != 2 {
		t.Fatalf("IsMobile classified %d agents as mobile, want 2", wantMobile)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Mobile != 2 || sum.Desktop != 1 {
		t.Errorf("mobile/desktop = %d/%d, want 2/1", sum.Mobile, sum.Desktop)
	}
}

func TestSummaryTopAgentTieBreak(t *testing.T) {
	var sum Summary
	sum.addAgents([]agentCount{{"b", 2}, {"a", 2}, {"c", 1}})
	if sum.TopUserAgent != "a" || sum.TopAgentVisits != 2 {
		t.Errorf("top agent = %q (%d), want a (2)", sum.TopUserAgent, sum.TopAgentVisits)
	}
	if sum.Desktop != 5 {
		t.Errorf("Desktop = %d, want 5", sum.Desktop)
	}
}

func TestClear(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		if _, err := s.RecordVisit(ctx, ip, "ua", time.Now()); err != nil {
			t.Fatalf("RecordVisit: %v", err)
		}
	}

	n, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}
	totals, _ := s.Totals(ctx)
	if totals.TotalVisitors != 0 {
		t.Errorf("totals after Clear = %+v", totals)
	}
}

func TestSummaryEmptyStore(t *testing.T) {
	s := setupTestStore(t)
	sum, err := s.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.TotalVisitors != 0 || !sum.Earliest.IsZero() || len(sum.VisitsByYear) != 0 || sum.TopUserAgent != "" {
		t.Errorf("unexpected summary for empty store: %+v", sum)
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), StoreConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenStoreDefaultsToSQLite(t *testing.T) {
	st, err := OpenStore(context.Background(), StoreConfig{DatabasePath: filepath.Join(t.TempDir(), "v.db")})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*SQLiteStore); !ok {
		t.Errorf("OpenStore returned %T, want *SQLiteStore", st)
	}
}

func TestSQLTimeScan(t *testing.T) {
	want := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	for _, src := range []any{
		formatTime(want),
		[]byte(formatTime(want)),
		want.In(time.FixedZone("X", 3600)),
		"2025-06-01T14:30:00Z",
		"2025-06-01 14:30:00",
	} {
		var st sqlTime
		if err := st.Scan(src); err != nil {
			t.Errorf("Scan(%v): %v", src, err)
			continue
		}
		if !st.Time.Equal(want) {
			t.Errorf("Scan(%v) = %s, want %s", src, st.Time, want)
		}
	}

	var st sqlTime
	if err := st.Scan("yesterday"); err == nil {
		t.Error("Scan should reject unknown formats")
	}
	if err := st.Scan(nil); err != nil || !st.Time.IsZero() {
		t.Errorf("Scan(nil) = %s, %v", st.Time, err)
	}
}
