package analytics

import "time"

// Bucket is one slice of an aggregated visit series.
type Bucket struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Aggregate groups visits into the buckets of r ending at now and fills
// empty buckets with zero. Visits outside [windowStart, now] are ignored.
// The result always holds r.Buckets() entries, oldest first.
func Aggregate(r Range, now time.Time, visits []VisitRecord) ([]Bucket, error) {
	b, err := r.bucketing()
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	starts := b.bucketStarts(now)

	counts := make(map[int64]int, len(starts))
	for _, v := range visits {
		at := v.LastVisit.UTC()
		if at.Before(starts[0]) || at.After(now) {
			continue
		}
		counts[b.truncate(at).Unix()]++
	}

	buckets := make([]Bucket, len(starts))
	for i, start := range starts {
		buckets[i] = Bucket{
			Key:   start.Format(b.keyLayout),
			Label: start.Format(b.labelLayout),
			Count: counts[start.Unix()],
		}
	}
	return buckets, nil
}

// Total sums the counts of buckets.
func Total(buckets []Bucket) int {
	n := 0
	for _, b := range buckets {
		n += b.Count
	}
	return n
}
