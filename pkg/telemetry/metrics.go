package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of conversions.
type Metrics struct {
	Rows       *prometheus.CounterVec
	BytesRead  prometheus.Counter
	Files      *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Corruption *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "db2ixf_rows_total",
		Help: "Rows read from IXF files by outcome",
	}, []string{"table", "status"})

	bytesRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "db2ixf_bytes_read_total",
		Help: "Total bytes read from IXF files",
	})

	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "db2ixf_files_total",
		Help: "Converted files by output format and outcome",
	}, []string{"format", "status"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db2ixf_conversion_duration_seconds",
		Help:    "Time spent converting one file",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"format"})

	corruption := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "db2ixf_corruption_rate_percent",
		Help: "Corrupted share of rows of the last conversion of a table",
	}, []string{"table"})

	reg.MustRegister(rows, bytesRead, files, duration, corruption)

	return &Metrics{
		Rows:       rows,
		BytesRead:  bytesRead,
		Files:      files,
		Duration:   duration,
		Corruption: corruption,
	}
}

// RowObserver counts rows of one table. It satisfies ixf.Observer.
type RowObserver struct {
	healthy   prometheus.Counter
	corrupted prometheus.Counter
}

// ObserveRow counts one attempted row.
func (o RowObserver) ObserveRow(healthy bool) {
	if healthy {
		o.healthy.Inc()
		return
	}
	o.corrupted.Inc()
}

// ForTable returns a row observer labelled with table.
func (m *Metrics) ForTable(table string) RowObserver {
	return RowObserver{
		healthy:   m.Rows.WithLabelValues(table, "healthy"),
		corrupted: m.Rows.WithLabelValues(table, "corrupted"),
	}
}

// ObserveFile records the outcome of one conversion.
func (m *Metrics) ObserveFile(format, table string, d time.Duration, bytesRead int64, rate float64, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.Files.WithLabelValues(format, status).Inc()
	m.Duration.WithLabelValues(format).Observe(d.Seconds())
	m.BytesRead.Add(float64(bytesRead))
	m.Corruption.WithLabelValues(table).Set(rate)
}

// ServeMetrics exposes the registry on addr under /metrics until ctx is
// done.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
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
