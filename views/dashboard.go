package views

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

const (
	chartWidth  = 720
	chartHeight = 220
	chartAxis   = 24 // room for labels under the bars
	maxLabels   = 12
)

// Dashboard returns the full dashboard page.
func Dashboard(vm DashboardViewModel) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		renderDashboard(&buf, vm)
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// Chart returns only the SVG chart for vm.Buckets.
func Chart(buckets []BucketViewModel) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		renderChart(&buf, buckets)
		_, err := w.Write(buf.Bytes())
		return err
	})
}

func renderDashboard(buf *bytes.Buffer, vm DashboardViewModel) {
	name := html.EscapeString(vm.SiteName)
	buf.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
	buf.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	fmt.Fprintf(buf, `<title>%s</title>`, name)
	buf.WriteString(`<link rel="stylesheet" href="/public/dashboard.css"></head><body><main class="card">`)
	fmt.Fprintf(buf, `<header><h1>%s</h1>`, name)

	buf.WriteString(`<p class="totals">`)
	fmt.Fprintf(buf, `<span><strong>Total Visitors:</strong> %s</span>`, formatCount(vm.Totals.Total))
	buf.WriteString(`<span class="sep">&bull;</span>`)
	fmt.Fprintf(buf, `<span><strong>Unique Visitors:</strong> %s</span>`, formatCount(vm.Totals.Unique))
	buf.WriteString(`</p></header>`)

	buf.WriteString(`<nav class="ranges">`)
	for _, r := range vm.Ranges {
		class := "range"
		if r == vm.Range {
			class += " active"
		}
		fmt.Fprintf(buf, `<a class="%s" href="/?range=%s">%s</a>`,
			class, url.QueryEscape(r), html.EscapeString(r))
	}
	buf.WriteString(`</nav>`)

	if vm.Error != "" {
		fmt.Fprintf(buf, `<p class="error">%s</p>`, html.EscapeString(vm.Error))
	} else {
		buf.WriteString(`<section class="chart">`)
		renderChart(buf, vm.Buckets)
		buf.WriteString(`</section>`)
	}

	renderVisitorCard(buf, vm.Visitor)

	buf.WriteString(`<footer><img src="/visitor/badge.png" alt="visitor counter badge"></footer>`)
	buf.WriteString(`</main></body></html>`)
}

func renderChart(buf *bytes.Buffer, buckets []BucketViewModel) {
	fmt.Fprintf(buf, `<svg class="bars" viewBox="0 0 %d %d" role="img" aria-label="visits per period">`,
		chartWidth, chartHeight+chartAxis)
	if len(buckets) == 0 {
		buf.WriteString(`</svg>`)
		return
	}

	peak := 0
	for _, b := range buckets {
		if b.Count > peak {
			peak = b.Count
		}
	}
	slot := float64(chartWidth) / float64(len(buckets))
	barWidth := slot * 0.8
	every := (len(buckets) + maxLabels - 1) / maxLabels

	for i, b := range buckets {
		h := 0.0
		if peak > 0 {
			h = float64(b.Count) / float64(peak) * chartHeight
		}
		x := float64(i)*slot + (slot-barWidth)/2
		fmt.Fprintf(buf, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" data-key="%s"><title>%s: %d</title></rect>`,
			x, chartHeight-h, barWidth, h,
			html.EscapeString(b.Key), html.EscapeString(b.Label), b.Count)
		if i%every == 0 {
			fmt.Fprintf(buf, `<text x="%.1f" y="%d" text-anchor="middle">%s</text>`,
				x+barWidth/2, chartHeight+chartAxis-6, html.EscapeString(b.Label))
		}
	}
	buf.WriteString(`</svg>`)
}

func renderVisitorCard(buf *bytes.Buffer, v *VisitorViewModel) {
	buf.WriteString(`<section class="visitor"><h2>Your visit</h2>`)
	if v == nil {
		buf.WriteString(`<p>Visitor information unavailable.</p></section>`)
		return
	}
	buf.WriteString(`<dl>`)
	for _, row := range [][2]string{
		{"IP", v.Identifier},
		{"Last visit", v.LastVisit},
		{"Browser", v.Browser},
		{"OS", v.OS},
		{"Device", v.Device},
		{"User agent", v.UserAgent},
	} {
		fmt.Fprintf(buf, `<dt>%s</dt><dd>%s</dd>`, row[0], html.EscapeString(row[1]))
	}
	buf.WriteString(`</dl></section>`)
}

// formatCount groups thousands with commas.
func formatCount(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// ErrorPage returns a minimal page for a failed request.
func ErrorPage(siteName string, code int, message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		name := html.EscapeString(siteName)
		buf.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		fmt.Fprintf(&buf, `<title>%d | %s</title>`, code, name)
		buf.WriteString(`<link rel="stylesheet" href="/public/dashboard.css"></head><body><main class="card">`)
		fmt.Fprintf(&buf, `<h1>%d</h1><p class="error">%s</p>`, code, html.EscapeString(message))
		buf.WriteString(`<p><a href="/">Back to the dashboard</a></p></main></body></html>`)
		_, err := w.Write(buf.Bytes())
		return err
	})
}
