package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/scriptorium/internal/http"

// Route areas used as a low-cardinality label.
const (
	areaDocuments = "documents"
	areaQuery     = "query"
	areaProviders = "providers"
	areaLibrary   = "library"
	areaSystem    = "system"
	areaUnmatched = "unmatched"
)

// HTTPMetrics records per-route request metrics for the library API.
type HTTPMetrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	uploads  metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requests, err = m.meter.Int64Counter(
		"scriptorium.http.requests",
		metric.WithDescription("API requests by area (documents, query, providers, library, system), route template, method and status class."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	// Query latency includes generation, which can take most of a minute on
	// a local model.
	m.latency, err = m.meter.Float64Histogram(
		"scriptorium.http.request_duration_seconds",
		metric.WithDescription("API request duration by area, route template and status class."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.uploads, err = m.meter.Int64Histogram(
		"scriptorium.http.upload_bytes",
		metric.WithDescription("Size of document upload requests."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(10e3, 100e3, 1e6, 5e6, 20e6, 50e6, 100e6),
	)
	if err != nil {
		m.logger.Warn("failed to create upload size histogram", zap.Error(err))
	}

	m.inFlight, err = m.meter.Int64UpDownCounter(
		"scriptorium.http.in_flight",
		metric.WithDescription("API requests currently being served, by area."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create in-flight gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records the instruments
// above for every request.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()
			route := routeLabel(c.Path())
			area := routeArea(c.Path())

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("area", area)))
				defer m.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("area", area)))
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("area", area),
				attribute.String("route", route),
				attribute.String("method", req.Method),
				attribute.String("status_class", statusClass(responseStatus(c, err))),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.uploads != nil && area == areaDocuments && req.Method == http.MethodPost && req.ContentLength > 0 {
				m.uploads.Record(ctx, req.ContentLength)
			}
			return err
		}
	}
}

// routeLabel returns the route template of a request. Parameters stay as
// placeholders (/api/v1/documents/:filename), so document names and terms
// never become label values.
func routeLabel(path string) string {
	if path == "" {
		return areaUnmatched
	}
	return path
}

// routeArea groups a route template into the API surface it serves.
func routeArea(path string) string {
	switch {
	case path == "":
		return areaUnmatched
	case strings.HasPrefix(path, "/api/v1/documents"):
		return areaDocuments
	case path == "/api/v1/query":
		return areaQuery
	case strings.HasPrefix(path, "/api/v1/providers"):
		return areaProviders
	case strings.HasPrefix(path, "/api/v1/"):
		return areaLibrary
	default:
		return areaSystem
	}
}

// responseStatus is the status the client will see. A handler error has not
// been written yet when the middleware regains control.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
