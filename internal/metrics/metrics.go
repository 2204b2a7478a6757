// Package metrics exposes Prometheus collectors for reserve reads and message delivery.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"aave-rate-digest/internal/aave"
)

const namespace = "aavedigest"

// Recorder owns a private registry so tests and repeated runs do not collide.
type Recorder struct {
	registry *prometheus.Registry

	reserveFetches  *prometheus.CounterVec
	reserveDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	supplyAPY       *prometheus.GaugeVec
	borrowAPY       *prometheus.GaugeVec
	utilization     *prometheus.GaugeVec
	liquidity       *prometheus.GaugeVec
	deliveries      *prometheus.CounterVec
	lastDelivery    prometheus.Gauge
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		reserveFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reserve",
			Name:      "fetches_total",
			Help:      "Chain reads of reserve data by outcome; cache hits are counted in cache_lookups_total.",
		}, []string{"network", "token", "status"}),
		reserveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reserve",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of reserve reads including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"network"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Reserve cache lookups by result.",
		}, []string{"network", "result"}),
		supplyAPY: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reserve",
			Name:      "supply_apy_ratio",
			Help:      "Last observed supply APY as a fraction.",
		}, []string{"network", "token"}),
		borrowAPY: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reserve",
			Name:      "borrow_apy_ratio",
			Help:      "Last observed variable borrow APY as a fraction.",
		}, []string{"network", "token"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reserve",
			Name:      "utilization_ratio",
			Help:      "Last observed utilization as a fraction.",
		}, []string{"network", "token"}),
		liquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reserve",
			Name:      "available_liquidity_tokens",
			Help:      "Last observed available liquidity in token units.",
		}, []string{"network", "token"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "deliveries_total",
			Help:      "Digest deliveries by outcome.",
		}, []string{"status"}),
		lastDelivery: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful delivery.",
		}),
	}

	r.registry.MustRegister(
		r.reserveFetches,
		r.reserveDuration,
		r.cacheLookups,
		r.supplyAPY,
		r.borrowAPY,
		r.utilization,
		r.liquidity,
		r.deliveries,
		r.lastDelivery,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// CacheLookup implements aave.Observer.
func (r *Recorder) CacheLookup(network, _ string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(network, result).Inc()
}

// ReserveFetched implements aave.Observer.
func (r *Recorder) ReserveFetched(network, token string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.reserveFetches.WithLabelValues(network, token, status).Inc()
	r.reserveDuration.WithLabelValues(network).Observe(elapsed.Seconds())
}

// ReserveObserved implements aave.Observer.
func (r *Recorder) ReserveObserved(network string, m aave.ReserveMetrics) {
	r.supplyAPY.WithLabelValues(network, m.Symbol).Set(m.SupplyAPY.InexactFloat64())
	r.borrowAPY.WithLabelValues(network, m.Symbol).Set(m.BorrowAPY.InexactFloat64())
	r.utilization.WithLabelValues(network, m.Symbol).Set(m.Utilization.InexactFloat64())
	r.liquidity.WithLabelValues(network, m.Symbol).Set(m.Liquidity.InexactFloat64())
}

// DeliveryResult counts one delivery attempt.
func (r *Recorder) DeliveryResult(err error) {
	if err != nil {
		r.deliveries.WithLabelValues("error").Inc()
		return
	}
	r.deliveries.WithLabelValues("success").Inc()
	r.lastDelivery.SetToCurrentTime()
}

// Push sends the registry to a Pushgateway. Used by one-shot runs that exit before a scrape.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(r.registry).PushContext(ctx)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var _ aave.Observer = (*Recorder)(nil)
