// Package analytics records visits keyed by client IP and turns the stored
// visit timestamps into gap-filled time series.
package analytics

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// ErrEmptyIdentifier is returned when a visit has no client identifier.
var ErrEmptyIdentifier = errors.New("analytics: empty visitor identifier")

// maxUserAgentLen caps stored user agents.
const maxUserAgentLen = 512

// VisitRecord is the stored state of one visitor.
type VisitRecord struct {
	Identifier string    `json:"identifier" bson:"identifier"` // Client IP
	UserAgent  string    `json:"userAgent" bson:"userAgent"`
	LastVisit  time.Time `json:"lastVisit" bson:"lastVisit"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Totals holds the visitor counters shown on the dashboard.
type Totals struct {
	TotalVisitors  int `json:"totalVisitors"`
	UniqueVisitors int `json:"uniqueVisitors"`
}

// Summary is a broad report over the whole visitor collection.
type Summary struct {
	Totals
	Earliest       time.Time
	Latest         time.Time
	VisitsByYear   []YearCount
	TopUserAgent   string
	TopAgentVisits int
	Mobile         int // phones and tablets, as classified by IsMobile
	Desktop        int
}

type agentCount struct {
	Agent string `bson:"_id"`
	Count int    `bson:"count"`
}

// addAgents fills the top agent and the device split from per-agent counts.
// Ties for the top agent go to the lexically smallest agent.
func (s *Summary) addAgents(agents []agentCount) {
	for _, a := range agents {
		if a.Count > s.TopAgentVisits || (a.Count == s.TopAgentVisits && a.Agent < s.TopUserAgent) {
			s.TopUserAgent, s.TopAgentVisits = a.Agent, a.Count
		}
		if IsMobile(a.Agent) {
			s.Mobile += a.Count
		} else {
			s.Desktop += a.Count
		}
	}
}

// YearCount is the number of visits whose last visit fell in Year.
type YearCount struct {
	Year  int
	Count int
}

// IdentifierExtractor returns an echo.IPExtractor that prefers the trusted
// proxy header, then the first X-Forwarded-For entry, then the connection address.
func IdentifierExtractor(trustedHeader string) echo.IPExtractor {
	direct := echo.ExtractIPDirect()
	return func(req *http.Request) string {
		if trustedHeader != "" {
			if ip := strings.TrimSpace(req.Header.Get(trustedHeader)); ip != "" {
				return ip
			}
		}
		if xff := req.Header.Get(echo.HeaderXForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		return direct(req)
	}
}

// normalizeIdentifier strips an IPv4-mapped IPv6 prefix so the same client
// is not stored twice.
func normalizeIdentifier(id string) string {
	id = strings.TrimSpace(id)
	if ip := net.ParseIP(id); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return id
}

func clampUserAgent(ua string) string {
	if len(ua) > maxUserAgentLen {
		return ua[:maxUserAgentLen]
	}
	return ua
}

// ParseUserAgent extracts browser, OS, and device from User-Agent string.
func ParseUserAgent(ua string) (browser, os, device string) {
	ua = strings.ToLower(ua)

	// Detect browser (order matters: more specific patterns before generic ones)
	switch {
	case strings.Contains(ua, "firefox"):
		browser = "Firefox"
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr"):
		browser = "Opera"
	case strings.Contains(ua, "edg"):
		browser = "Edge"
	case strings.Contains(ua, "chrome"):
		browser = "Chrome"
	case strings.Contains(ua, "safari"):
		browser = "Safari"
	default:
		browser = "Other"
	}

	// Android before Linux since Android UA contains "linux"
	switch {
	case strings.Contains(ua, "windows"):
		os = "Windows"
	case strings.Contains(ua, "android"):
		os = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		os = "iOS"
	case strings.Contains(ua, "macintosh") || strings.Contains(ua, "mac os"):
		os = "macOS"
	case strings.Contains(ua, "linux"):
		os = "Linux"
	default:
		os = "Other"
	}

	// iPad contains "mobile" in UA, check tablet first
	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		device = "Tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		device = "Mobile"
	default:
		device = "Desktop"
	}

	return
}

// IsMobile reports whether ua looks like a phone or tablet.
func IsMobile(ua string) bool {
	_, _, device := ParseUserAgent(ua)
	return device != "Desktop"
}
