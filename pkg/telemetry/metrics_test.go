package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RowObserver(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	obs := m.ForTable("PEOPLE")
	obs.ObserveRow(true)
	obs.ObserveRow(true)
	obs.ObserveRow(false)

	require.Equal(t, float64(2), testutil.ToFloat64(m.Rows.WithLabelValues("PEOPLE", "healthy")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Rows.WithLabelValues("PEOPLE", "corrupted")))
}

func TestMetrics_ObserveFile(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveFile("parquet", "PEOPLE", time.Second, 1024, 0.5, nil)
	m.ObserveFile("parquet", "PEOPLE", time.Second, 1024, 2, errors.New("boom"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.Files.WithLabelValues("parquet", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Files.WithLabelValues("parquet", "failed")))
	require.Equal(t, float64(2048), testutil.ToFloat64(m.BytesRead))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Corruption.WithLabelValues("PEOPLE")))
}

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Rows.WithLabelValues("T", "healthy").Add(0)
	m.Files.WithLabelValues("csv", "ok").Add(0)

	n, err := testutil.GatherAndCount(reg, "db2ixf_rows_total", "db2ixf_files_total", "db2ixf_bytes_read_total")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// registering twice on one registry panics
	require.Panics(t, func() { NewMetrics(reg) })
}
