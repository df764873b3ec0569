package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/biller/pkg/billing"
)

// Metrics holds all Prometheus metrics. It is a billing.Observer and a
// billing.Reporter so it can be handed to the engine directly.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Engine metrics
	ChargeAttemptsTotal     *prometheus.CounterVec
	ConversionAttemptsTotal *prometheus.CounterVec
	InvoicesProcessedTotal  *prometheus.CounterVec
	RetriesTotal            *prometheus.CounterVec

	// Billing run metrics
	BillingRunsTotal       *prometheus.CounterVec
	BillingRunDuration     *prometheus.HistogramVec
	BillingRunInvoices     *prometheus.GaugeVec
	BillingRunLastFinished prometheus.Gauge

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

var (
	_ billing.Observer = (*Metrics)(nil)
	_ billing.Reporter = (*Metrics)(nil)
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biller_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biller_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biller_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		ChargeAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biller_charge_attempts_total",
				Help: "Payment provider charge attempts by outcome",
			},
			[]string{"outcome"},
		),
		ConversionAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biller_conversion_attempts_total",
				Help: "Currency conversion attempts by outcome",
			},
			[]string{"outcome"},
		),
		InvoicesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biller_invoices_processed_total",
				Help: "Invoices that reached a final status",
			},
			[]string{"status"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biller_retries_total",
				Help: "Charge retries by reason",
			},
			[]string{"reason"},
		),

		BillingRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biller_billing_runs_total",
				Help: "Completed billing runs",
			},
			[]string{"trigger"},
		),
		BillingRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biller_billing_run_duration_seconds",
				Help:    "Billing run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
			},
			[]string{"trigger"},
		),
		BillingRunInvoices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "biller_billing_run_invoices",
				Help: "Invoice counts of the most recent billing run",
			},
			[]string{"result"},
		),
		BillingRunLastFinished: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "biller_billing_run_last_finished_timestamp_seconds",
				Help: "Unix time the most recent billing run finished",
			},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "biller_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "biller_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "biller_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "biller_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.ChargeAttemptsTotal,
		m.ConversionAttemptsTotal,
		m.InvoicesProcessedTotal,
		m.RetriesTotal,
		m.BillingRunsTotal,
		m.BillingRunDuration,
		m.BillingRunInvoices,
		m.BillingRunLastFinished,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// ChargeAttempted implements billing.Observer
func (m *Metrics) ChargeAttempted(outcome string) {
	m.ChargeAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ConversionAttempted implements billing.Observer
func (m *Metrics) ConversionAttempted(outcome string) {
	m.ConversionAttemptsTotal.WithLabelValues(outcome).Inc()
}

// InvoiceProcessed implements billing.Observer
func (m *Metrics) InvoiceProcessed(status billing.InvoiceStatus, _ bool) {
	m.InvoicesProcessedTotal.WithLabelValues(string(status)).Inc()
}

// RetryScheduled implements billing.Observer
func (m *Metrics) RetryScheduled(reason string) {
	m.RetriesTotal.WithLabelValues(reason).Inc()
}

// ReportRun implements billing.Reporter
func (m *Metrics) ReportRun(_ context.Context, report *billing.RunReport) error {
	m.BillingRunsTotal.WithLabelValues(report.Trigger).Inc()
	m.BillingRunDuration.WithLabelValues(report.Trigger).Observe(report.Elapsed.Seconds())
	m.BillingRunInvoices.WithLabelValues("total").Set(float64(report.Total))
	m.BillingRunInvoices.WithLabelValues("succeeded").Set(float64(report.Succeeded))
	m.BillingRunInvoices.WithLabelValues("failed").Set(float64(report.Failed))
	m.BillingRunInvoices.WithLabelValues("errored").Set(float64(report.Errored))
	m.BillingRunLastFinished.Set(float64(report.FinishedAt.Unix()))
	return nil
}

// ObserveDBStats records connection pool statistics
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// CollectDBStats samples db every interval until ctx is done
func (m *Metrics) CollectDBStats(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.ObserveDBStats(db.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Installed with Router.Use, requests are labelled by route template.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
