// Package metrics exposes Prometheus collectors for billing events and HTTP
// traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Recorder holds the billing collectors. A nil *Recorder is valid and
// records nothing, so services can run without metrics in tests.
type Recorder struct {
	invoicesCreated *prometheus.CounterVec
	payments        *prometheus.CounterVec
	paymentAmount   *prometheus.CounterVec
	sessions        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		invoicesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_invoices_created_total",
			Help: "Invoices created, by invoice type.",
		}, []string{"type"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_payments_total",
			Help: "Payments recorded, by engine and payment method.",
		}, []string{"engine", "method"}),
		paymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_payment_amount_total",
			Help: "Sum of recorded payment amounts, by engine.",
		}, []string{"engine"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_cashier_sessions_total",
			Help: "Cashier session transitions, by event (opened, closed).",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		r.invoicesCreated,
		r.payments,
		r.paymentAmount,
		r.sessions,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

func (r *Recorder) InvoiceCreated(invoiceType string) {
	if r == nil {
		return
	}
	r.invoicesCreated.WithLabelValues(invoiceType).Inc()
}

// Payment records one payment taken by engine ("installment", "direct",
// "cashier").
func (r *Recorder) Payment(engine, method string, amount decimal.Decimal) {
	if r == nil {
		return
	}
	r.payments.WithLabelValues(engine, method).Inc()
	if amount.IsPositive() {
		r.paymentAmount.WithLabelValues(engine).Add(amount.InexactFloat64())
	}
}

// SessionOpened and SessionClosed count till transitions. The number of open
// tills is read from the database, not from these counters.
func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues("opened").Inc()
}

func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues("closed").Inc()
}

// Middleware counts requests and observes latency per matched route.
func (r *Recorder) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			r.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			r.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
