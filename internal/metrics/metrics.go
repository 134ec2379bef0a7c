// Package metrics exposes the owner runtime's Prometheus instrumentation
// (SPEC_FULL.md §S.6): a queue_depth gauge, a turn_duration_seconds
// histogram and a lease_age_seconds gauge, served over HTTP only when the
// owner is started with --metrics-addr. Modeled on
// marmos91-dittofs's internal/protocol/nfs/rpc/gss.GSSMetrics: a nil
// receiver is a no-op, so callers never branch on whether metrics are
// enabled.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Owner tracks the three owner-runtime metrics named in SPEC_FULL §S.6.
type Owner struct {
	QueueDepth     prometheus.Gauge
	TurnDuration   prometheus.Histogram
	LeaseAgeSecond prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

var (
	ownerOnce     sync.Once
	ownerInstance *Owner
)

// NewOwner creates and registers the owner's metrics against a fresh
// registry (not the global DefaultRegisterer, since acpx invocations are
// short-lived CLI processes that may run many owners over a test's
// lifetime). sync.Once only guards against a single process accidentally
// calling this twice.
func NewOwner() *Owner {
	ownerOnce.Do(func() {
		reg := prometheus.NewRegistry()
		m := &Owner{
			QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "acpx_queue_depth",
				Help: "Number of prompt tasks currently queued or executing for this owner.",
			}),
			TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "acpx_turn_duration_seconds",
				Help:    "Wall-clock duration of a prompt turn from BeginTurn to EndTurn.",
				Buckets: prometheus.DefBuckets,
			}),
			LeaseAgeSecond: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "acpx_lease_age_seconds",
				Help: "Seconds since the owner's lease was last refreshed.",
			}),
			registry: reg,
		}
		reg.MustRegister(m.QueueDepth, m.TurnDuration, m.LeaseAgeSecond)
		ownerInstance = m
	})
	return ownerInstance
}

// RecordQueueDepth sets the queue_depth gauge.
func (m *Owner) RecordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordTurnDuration observes one completed turn's duration.
func (m *Owner) RecordTurnDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnDuration.Observe(d.Seconds())
}

// RecordLeaseAge sets the lease_age_seconds gauge from the last refresh time.
func (m *Owner) RecordLeaseAge(lastRefreshed time.Time) {
	if m == nil {
		return
	}
	m.LeaseAgeSecond.Set(time.Since(lastRefreshed).Seconds())
}

// Serve starts the /metrics HTTP endpoint on addr and blocks until ctx is
// cancelled, then shuts the server down gracefully. A nil receiver or empty
// addr is a no-op, matching the spec's "off by default" requirement.
func (m *Owner) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if m == nil || addr == "" {
		<-ctx.Done()
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.server.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
