package analytics

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

// userAgentsByYear holds common browsers per year so seeded history looks plausible.
var userAgentsByYear = map[int][]string{
	2023: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/109.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.3 Mobile/15E148 Safari/604.1",
	},
	2024: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	},
	2025: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 18_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Mobile/15E148 Safari/604.1",
	},
}

// latestAgentYear is used for visits after the last year in userAgentsByYear.
const latestAgentYear = 2025

// otherUserAgents fill the long tail of less common clients.
var otherUserAgents = []string{
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36 OPR/96.0.0.0",
}

// SeedOptions controls GenerateVisits.
type SeedOptions struct {
	Count      int       // number of visits to generate
	From       time.Time // earliest possible visit
	Now        time.Time // latest possible visit
	ReturnRate float64   // chance a visit reuses an earlier identifier
}

// GenerateVisits builds Count visits with random timestamps in [From, Now],
// sorted oldest first. Identifiers are reused with probability ReturnRate
// once more than 50 distinct identifiers exist.
func GenerateVisits(rng *rand.Rand, opts SeedOptions) ([]VisitRecord, error) {
	if opts.Count < 0 {
		return nil, fmt.Errorf("seed count must not be negative")
	}
	if !opts.From.Before(opts.Now) {
		return nil, fmt.Errorf("seed start %s is not before %s", opts.From.Format(time.DateOnly), opts.Now.Format(time.DateOnly))
	}
	span := opts.Now.Sub(opts.From)

	seen := make(map[string]struct{}, opts.Count)
	var ids []string
	visits := make([]VisitRecord, 0, opts.Count)

	for range opts.Count {
		var ip string
		if len(ids) > 50 && rng.Float64() < opts.ReturnRate {
			ip = ids[rng.IntN(len(ids))]
		} else {
			for {
				ip = randomIPv4(rng)
				if _, dup := seen[ip]; !dup {
					break
				}
			}
			seen[ip] = struct{}{}
			ids = append(ids, ip)
		}

		at := opts.From.Add(time.Duration(rng.Int64N(int64(span)))).UTC()
		visits = append(visits, VisitRecord{
			Identifier: ip,
			UserAgent:  pickUserAgent(rng, at.Year()),
			LastVisit:  at,
		})
	}

	slices.SortFunc(visits, func(a, b VisitRecord) int {
		return a.LastVisit.Compare(b.LastVisit)
	})
	return visits, nil
}

// RepeatVisits counts the visits in visits whose identifier appeared earlier
// in the slice. The store keeps one record per identifier, so repeats are
// only visible in a batch like this one.
func RepeatVisits(visits []VisitRecord) int {
	seen := make(map[string]struct{}, len(visits))
	for _, v := range visits {
		seen[normalizeIdentifier(v.Identifier)] = struct{}{}
	}
	return len(visits) - len(seen)
}

func randomIPv4(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d", 1+rng.IntN(223), rng.IntN(256), rng.IntN(256), 1+rng.IntN(254))
}

// pickUserAgent returns a year-typical agent 70% of the time.
func pickUserAgent(rng *rand.Rand, year int) string {
	if rng.Float64() > 0.3 {
		agents, ok := userAgentsByYear[year]
		if !ok {
			agents = userAgentsByYear[latestAgentYear]
		}
		return agents[rng.IntN(len(agents))]
	}
	return otherUserAgents[rng.IntN(len(otherUserAgents))]
}
