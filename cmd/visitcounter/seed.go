package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/eringen/visitcounter"
	"github.com/eringen/visitcounter/analytics"
)

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("n", 5000, "number of visits to generate")
	fromYear := fs.Int("from", 2023, "first year of generated history")
	reuse := fs.Float64("reuse", 0.15, "share of visits from returning visitors")
	seed := fs.Uint64("seed", 0, "random seed (0 = time based)")
	reset := fs.Bool("reset", false, "delete existing visitors before seeding")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := visitcounter.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := analytics.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	existing, err := store.Totals(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Store holds %d visitors\n", existing.TotalVisitors)
	if *reset {
		removed, err := store.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d visitors\n", removed)
	}

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	now := time.Now().UTC()
	visits, err := analytics.GenerateVisits(rand.New(rand.NewPCG(*seed, *seed>>1)), analytics.SeedOptions{
		Count:      *count,
		From:       time.Date(*fromYear, time.January, 1, 0, 0, 0, 0, time.UTC),
		Now:        now,
		ReturnRate: *reuse,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Generating %d visits from %d-01-01 to %s into %s store\n",
		len(visits), *fromYear, now.Format(time.DateOnly), cfg.Store.Driver)
	n, err := store.Seed(ctx, visits)
	if err != nil {
		return err
	}
	fmt.Printf("Upserted %d visits\n", n)

	sum, err := store.Summary(ctx)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, sum, analytics.RepeatVisits(visits))
	return nil
}

func printSummary(w io.Writer, s *analytics.Summary, repeats int) {
	dateOrNA := func(t time.Time) string {
		if t.IsZero() {
			return "N/A"
		}
		return t.Format(time.DateOnly)
	}
	agent := s.TopUserAgent
	if len(agent) > 50 {
		agent = agent[:50] + "..."
	}

	fmt.Fprintln(w, "\nDatabase statistics:")
	fmt.Fprintf(w, "   Total visitors:  %d\n", s.TotalVisitors)
	fmt.Fprintf(w, "   Unique IPs:      %d\n", s.UniqueVisitors)
	fmt.Fprintf(w, "   Return visits in this batch: %d\n", repeats)
	fmt.Fprintf(w, "   Date range:      %s to %s\n", dateOrNA(s.Earliest), dateOrNA(s.Latest))
	fmt.Fprintln(w, "   Visitors by year:")
	for _, y := range s.VisitsByYear {
		fmt.Fprintf(w, "     %d: %d visitors\n", y.Year, y.Count)
	}
	fmt.Fprintf(w, "   Most common user agent: %s (%d)\n", agent, s.TopAgentVisits)
	fmt.Fprintf(w, "   Mobile vs desktop: %d mobile, %d desktop\n", s.Mobile, s.Desktop)
}
