package analytics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// Handler handles visitor HTTP requests.
type Handler struct {
	store  Store
	cache  TotalsCache
	logger echo.Logger
	now    func() time.Time
}

// NewHandler creates a visitor handler. A nil cache disables caching of totals.
func NewHandler(store Store, cache TotalsCache) *Handler {
	if cache == nil {
		cache = NewMemoryTotalsCache(0)
	}
	return &Handler{
		store:  store,
		cache:  cache,
		logger: log.New("analytics"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger replaces the logger used for cache failures, normally with e.Logger.
func (h *Handler) SetLogger(l echo.Logger) {
	h.logger = l
}

// Record upserts the visit of identifier and drops cached totals.
func (h *Handler) Record(ctx context.Context, identifier, userAgent string) (VisitRecord, error) {
	rec, err := h.store.RecordVisit(ctx, identifier, userAgent, h.now())
	if err != nil {
		return VisitRecord{}, err
	}
	if err := h.cache.Invalidate(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// Series reads the visits inside the window of r and aggregates them.
// now is captured once so the query and the buckets share one instant.
func (h *Handler) Series(ctx context.Context, r Range) ([]Bucket, error) {
	now := h.now()
	from, to, err := Window(r, now)
	if err != nil {
		return nil, err
	}
	visits, err := h.store.VisitsSince(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return Aggregate(r, now, visits)
}

// Totals returns cached totals when fresh, otherwise counts and caches them.
// Cache failures are logged and fall through to the store.
func (h *Handler) Totals(ctx context.Context) (Totals, error) {
	cached, gen, ok, cacheErr := h.cache.Get(ctx)
	if cacheErr != nil {
		h.logger.Warnf("totals cache read failed: %v", cacheErr)
	} else if ok {
		return cached, nil
	}

	t, err := h.store.Totals(ctx)
	if err != nil {
		return Totals{}, err
	}
	// Without a generation from Get there is nothing safe to compare against.
	if cacheErr == nil {
		if _, err := h.cache.Set(ctx, t, gen); err != nil {
			h.logger.Warnf("totals cache write failed: %v", err)
		}
	}
	return t, nil
}

// LogResponse is the JSON response of the log endpoint.
type LogResponse struct {
	Message    string    `json:"message"`
	Identifier string    `json:"identifier"`
	LastVisit  time.Time `json:"lastVisit"`
	UserAgent  string    `json:"userAgent"`
}

// Log records the calling client and returns its stored record.
func (h *Handler) Log(c echo.Context) error {
	rec, err := h.Record(c.Request().Context(), c.RealIP(), c.Request().UserAgent())
	if errors.Is(err, ErrEmptyIdentifier) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Could not determine client address"})
	}
	if err != nil && rec.Identifier == "" {
		c.Logger().Errorf("Failed to log visitor: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Error logging visitor"})
	}
	if err != nil {
		c.Logger().Warnf("Visit logged but totals cache not cleared: %v", err)
	}

	return c.JSON(http.StatusOK, LogResponse{
		Message:    "Visit logged",
		Identifier: rec.Identifier,
		LastVisit:  rec.LastVisit,
		UserAgent:  rec.UserAgent,
	})
}

// GetStats returns the gap-filled series for the range query parameter (default day).
func (h *Handler) GetStats(c echo.Context) error {
	param := c.QueryParam("range")
	if param == "" {
		param = string(RangeDay)
	}
	r, err := ParseRange(param)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	buckets, err := h.Series(c.Request().Context(), r)
	if err != nil {
		c.Logger().Errorf("Failed to get stats: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Error fetching stats"})
	}
	return c.JSON(http.StatusOK, buckets)
}

// GetTotal returns the total and unique visitor counts.
func (h *Handler) GetTotal(c echo.Context) error {
	t, err := h.Totals(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("Failed to count visitors: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Error fetching visitor count"})
	}
	return c.JSON(http.StatusOK, t)
}

// RegisterRoutes registers the visitor API on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/log", h.Log)
	g.GET("/stats", h.GetStats)
	g.GET("/total", h.GetTotal)
}
