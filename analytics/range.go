package analytics

import (
	"fmt"
	"time"
)

// Range selects the time window and bucket width of a stats request.
type Range string

const (
	RangeDay   Range = "day"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
	RangeYear  Range = "year"
)

// InvalidRangeError is returned when a range is not one of day, week, month or year.
type InvalidRangeError struct {
	Value string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %q: want one of day, week, month, year", e.Value)
}

// bucketing describes how a range slices time into buckets.
type bucketing struct {
	size        int
	keyLayout   string
	labelLayout string
	// truncate returns the start of the bucket containing t.
	truncate func(t time.Time) time.Time
	// shift moves a bucket start by n buckets.
	shift func(t time.Time, n int) time.Time
}

func truncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func shiftHours(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * time.Hour)
}

func shiftDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

func shiftMonths(t time.Time, n int) time.Time {
	return t.AddDate(0, n, 0)
}

var bucketings = map[Range]bucketing{
	RangeDay: {
		size:        24,
		keyLayout:   "2006-01-02T15:00",
		labelLayout: "15:00",
		truncate:    truncateHour,
		shift:       shiftHours,
	},
	RangeWeek: {
		size:        7,
		keyLayout:   "2006-01-02",
		labelLayout: "Mon 2",
		truncate:    truncateDay,
		shift:       shiftDays,
	},
	RangeMonth: {
		size:        30,
		keyLayout:   "2006-01-02",
		labelLayout: "Jan 2",
		truncate:    truncateDay,
		shift:       shiftDays,
	},
	RangeYear: {
		size:        12,
		keyLayout:   "2006-01",
		labelLayout: "Jan 2006",
		truncate:    truncateMonth,
		shift:       shiftMonths,
	},
}

// Ranges lists the supported ranges from shortest to longest.
func Ranges() []Range {
	return []Range{RangeDay, RangeWeek, RangeMonth, RangeYear}
}

// ParseRange validates s as a Range.
func ParseRange(s string) (Range, error) {
	r := Range(s)
	if _, ok := bucketings[r]; !ok {
		return "", &InvalidRangeError{Value: s}
	}
	return r, nil
}

func (r Range) bucketing() (bucketing, error) {
	b, ok := bucketings[r]
	if !ok {
		return bucketing{}, &InvalidRangeError{Value: string(r)}
	}
	return b, nil
}

// Buckets returns the number of buckets produced for r, or 0 if r is invalid.
func (r Range) Buckets() int {
	return bucketings[r].size
}

// Window returns the span [start, now] covered by r. start is the beginning
// of the oldest bucket.
func Window(r Range, now time.Time) (time.Time, time.Time, error) {
	b, err := r.bucketing()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	now = now.UTC()
	return b.shift(b.truncate(now), -(b.size - 1)), now, nil
}

// BucketKey returns the canonical key of the bucket containing t.
func BucketKey(r Range, t time.Time) (string, error) {
	b, err := r.bucketing()
	if err != nil {
		return "", err
	}
	return b.truncate(t).Format(b.keyLayout), nil
}

// LabelFor converts a canonical bucket key into its display label.
func LabelFor(r Range, key string) (string, error) {
	b, err := r.bucketing()
	if err != nil {
		return "", err
	}
	t, err := time.ParseInLocation(b.keyLayout, key, time.UTC)
	if err != nil {
		return "", fmt.Errorf("parse %s bucket key %q: %w", r, key, err)
	}
	return t.Format(b.labelLayout), nil
}

// bucketStarts lists the start of every bucket in the window ending at now, oldest first.
func (b bucketing) bucketStarts(now time.Time) []time.Time {
	first := b.shift(b.truncate(now), -(b.size - 1))
	starts := make([]time.Time, b.size)
	for i := range starts {
		starts[i] = b.shift(first, i)
	}
	return starts
}
