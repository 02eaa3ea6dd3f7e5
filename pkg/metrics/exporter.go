// Package metrics republishes every sampled window as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srodi/pcp-bpf/pkg/types"
)

const namespace = "pcpwatch"

// Exporter holds the metrics fed by the sampling loop.
type Exporter struct {
	registry *prometheus.Registry

	PCPPages       *prometheus.GaugeVec
	PCPTotalPages  *prometheus.GaugeVec
	Allocs         *prometheus.CounterVec
	WindowDuration prometheus.Gauge
	Windows        prometheus.Counter
}

// NewExporter registers the metrics on a private registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Exporter{
		registry: reg,
		PCPPages: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pcp_order0_unmovable_pages",
				Help:      "Last sampled length of the order-0 unmovable per-CPU page list.",
			},
			[]string{"cpu"},
		),
		PCPTotalPages: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pcp_pages",
				Help:      "Last sampled page count over every per-CPU list, on kernels without per-list counts.",
			},
			[]string{"cpu"},
		),
		Allocs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order0_unmovable_allocs_total",
				Help:      "Order-0 unmovable page allocations observed per CPU.",
			},
			[]string{"cpu"},
		),
		WindowDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_duration_seconds",
			Help:      "Measured length of the last sampling window.",
		}),
		Windows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Sampling windows rendered.",
		}),
	}
}

// Observe implements sampler.Observer.
func (e *Exporter) Observe(win types.Window) {
	e.Windows.Inc()
	e.WindowDuration.Set(win.Elapsed.Seconds())
	for _, entry := range win.Entries {
		cpu := strconv.FormatUint(uint64(entry.CPU), 10)
		switch win.Mode {
		case types.ModeOccupancy:
			if win.AllLists {
				e.PCPTotalPages.WithLabelValues(cpu).Set(float64(entry.Value))
			} else {
				e.PCPPages.WithLabelValues(cpu).Set(float64(entry.Value))
			}
		case types.ModeAllocs:
			e.Allocs.WithLabelValues(cpu).Add(float64(entry.Value))
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Serve listens on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}()

	log.Info().Str("address", addr).Str("path", path).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
