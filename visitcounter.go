// Package visitcounter is a small visitor-tracking service built with Go, Echo, and templ.
// It records one record per client IP, serves range statistics as gap-filled
// series, and renders a dashboard with a chart and the viewer's own record.
package visitcounter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/eringen/visitcounter/analytics"
)

// App wires together the store, totals cache, handlers and middleware.
type App struct {
	Config   Config
	Echo     *echo.Echo
	Store    analytics.Store
	Visitors *analytics.Handler

	cache     analytics.TotalsCache
	ownsStore bool
	closers   []func() error
}

// Option configures additional App behavior.
type Option func(*App)

// WithStore uses s instead of opening the configured backend. The caller keeps ownership of s.
func WithStore(s analytics.Store) Option {
	return func(a *App) {
		a.Store = s
	}
}

// WithTotalsCache replaces the cache chosen from Config.
func WithTotalsCache(c analytics.TotalsCache) Option {
	return func(a *App) {
		a.cache = c
	}
}

// New creates an App with the given configuration.
func New(cfg Config, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init opens the store and cache and registers middleware and routes.
// Start calls it; tests call it directly and drive a.Echo.
func (a *App) Init(ctx context.Context) error {
	a.Echo.Logger.SetLevel(parseLogLevel(a.Config.LogLevel))

	if a.Store == nil {
		store, err := analytics.OpenStore(ctx, a.Config.Store)
		if err != nil {
			return fmt.Errorf("visitcounter: init store: %w", err)
		}
		a.Store = store
		a.ownsStore = true
	}

	if a.cache == nil {
		if a.Config.RedisURL != "" {
			rc, err := analytics.NewRedisTotalsCache(ctx, a.Config.RedisURL, a.Config.TotalsCacheTTL)
			if err != nil {
				return fmt.Errorf("visitcounter: init redis cache: %w", err)
			}
			a.cache = rc
			a.closers = append(a.closers, rc.Close)
		} else {
			a.cache = analytics.NewMemoryTotalsCache(a.Config.TotalsCacheTTL)
		}
	}

	if a.Config.SessionSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("visitcounter: generate session secret: %w", err)
		}
		a.Echo.Logger.Warn("SESSION_SECRET not set; dashboard preferences reset on restart")
		a.Config.SessionSecret = secret
	}

	a.Visitors = analytics.NewHandler(a.Store, a.cache)
	a.Visitors.SetLogger(a.Echo.Logger)

	a.setupMiddleware()
	a.setupRoutes()
	return nil
}

// Start initializes the app and serves until the server is shut down.
func (a *App) Start(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	a.Echo.Logger.Infof("visitcounter listening on %s (store: %s)", a.Config.Addr, a.Config.Store.Driver)
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

func (a *App) setupRoutes() {
	e := a.Echo

	// Embedded dashboard stylesheet.
	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	e.GET("/public/*", echo.WrapHandler(http.StripPrefix("/public/", http.FileServer(http.FS(embeddedFS)))))

	e.GET("/", a.handleDashboard)
	e.GET("/fragments/chart", a.handleChartFragment)
	e.GET("/healthz", handleHealth)

	for _, prefix := range []string{"/visitor", "/api/visitor"} {
		g := e.Group(prefix)
		a.Visitors.RegisterRoutes(g)
		g.GET("/badge.png", a.handleBadge)
	}
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	var errs []error
	for _, fn := range a.closers {
		errs = append(errs, fn())
	}
	if a.ownsStore && a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

func parseLogLevel(s string) log.Lvl {
	switch strings.ToLower(s) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
