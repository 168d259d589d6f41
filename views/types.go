// Package views renders the visitor dashboard.
// The view models mirror analytics types to keep this package free of storage imports.
package views

// DashboardViewModel is everything the dashboard page shows.
type DashboardViewModel struct {
	SiteName string
	Range    string
	Ranges   []string
	Buckets  []BucketViewModel
	Totals   TotalsViewModel
	Visitor  *VisitorViewModel // nil when the visit could not be recorded
	Error    string
}

// BucketViewModel is one bar of the chart.
type BucketViewModel struct {
	Key   string
	Label string
	Count int
}

// TotalsViewModel holds the headline counters.
type TotalsViewModel struct {
	Total  int
	Unique int
}

// VisitorViewModel is the current visitor's own card.
type VisitorViewModel struct {
	Identifier string
	UserAgent  string
	LastVisit  string
	Browser    string
	OS         string
	Device     string
}
