package convert

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ismailhammounou/db2ixf/internal/ixftest"
	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
	"github.com/ismailhammounou/db2ixf/pkg/telemetry"
)

var salesColumns = []ixftest.Column{
	{Name: "ID", Type: ixf.TypeInteger, Position: 1},
	{Name: "NAME", Type: ixf.TypeVarchar, Length: "00020", CodePage: 1208, Nullable: true, Position: 5},
	{Name: "AMOUNT", Type: ixf.TypeDecimal, Length: "00502", Position: 29},
	{Name: "DAY", Type: ixf.TypeDate, Position: 32},
	{Name: "CREATED", Type: ixf.TypeTimestamp, Length: "00006", Position: 42},
}

func sale(id int32, name []byte, amount string, negative bool) []byte {
	return ixftest.Concat(
		ixftest.LE32(id),
		name,
		ixftest.Packed(amount, negative),
		[]byte("2024-01-15"),
		[]byte("2024-01-15-10.30.00.123456"),
	)
}

func salesFile(n int) *ixftest.Builder {
	b := ixftest.New("SALES", salesColumns...)
	for i := 0; i < n; i++ {
		b.Data(sale(int32(i), ixftest.NotNull(ixftest.Varchar("alice", 20)), "12345", false))
	}
	return b.End()
}

func readLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		dec := json.NewDecoder(bytes.NewReader(sc.Bytes()))
		dec.UseNumber()
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestConvert_JSONLines(t *testing.T) {
	b := ixftest.New("SALES", salesColumns...).
		Data(sale(1, ixftest.NotNull(ixftest.Varchar("alice", 20)), "12345", false)).
		Data(sale(2, ixftest.Null(22), "12345", true)).
		End()

	var buf bytes.Buffer
	sum, err := Convert(context.Background(), b.Reader(), sinks.FormatJSONL,
		sinks.Options{Writer: &buf}, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, "SALES", sum.Table)
	require.EqualValues(t, 2, sum.Stats.Healthy)
	require.Zero(t, sum.Stats.Corrupted)
	require.Equal(t, 1, sum.Batches)
	require.EqualValues(t, buf.Len(), sum.BytesWritten)

	rows := readLines(t, buf.Bytes())
	require.Len(t, rows, 2)
	require.Equal(t, json.Number("1"), rows[0]["ID"])
	require.Equal(t, "alice", rows[0]["NAME"])
	require.Equal(t, json.Number("123.45"), rows[0]["AMOUNT"])
	require.Equal(t, "2024-01-15", rows[0]["DAY"])
	require.Equal(t, "2024-01-15T10:30:00.123456", rows[0]["CREATED"])

	require.Nil(t, rows[1]["NAME"])
	require.Equal(t, json.Number("-123.45"), rows[1]["AMOUNT"])

	// keys follow column order
	first := bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0]
	require.Equal(t,
		`{"ID":1,"NAME":"alice","AMOUNT":123.45,"DAY":"2024-01-15","CREATED":"2024-01-15T10:30:00.123456"}`,
		string(first))
}

func TestConvert_FixedBatches(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchSize = 2

	var progress []Progress
	opts.OnBatch = func(p Progress) { progress = append(progress, p) }

	var buf bytes.Buffer
	sum, err := Convert(context.Background(), salesFile(5).Reader(), sinks.FormatJSONL,
		sinks.Options{Writer: &buf}, opts)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Batches)
	require.Len(t, readLines(t, buf.Bytes()), 5)

	require.Len(t, progress, 3)
	require.EqualValues(t, 2, progress[0].Healthy)
	require.EqualValues(t, 5, progress[2].Healthy)
}

func TestConvert_CorruptionRateDiscardsOutput(t *testing.T) {
	b := ixftest.New("SALES", salesColumns...).
		Data(sale(1, ixftest.NotNull(ixftest.Varchar("alice", 20)), "12345", false)).
		Data(sale(2, append([]byte{0x12, 0x34}, ixftest.Varchar("bob", 20)...), "12345", false)).
		End()

	out := filepath.Join(t.TempDir(), "sales.csv")
	sum, err := Convert(context.Background(), b.Reader(), sinks.FormatCSV,
		sinks.Options{Path: out}, DefaultOptions())
	require.Error(t, err)
	require.True(t, errors.Is(err, ixferrors.ErrCorruptionRate))
	require.EqualValues(t, 1, sum.Stats.Corrupted)

	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	require.Empty(t, entries, "temp file left behind")
}

// closeFailSink fails to commit and then fails to clean up.
type closeFailSink struct {
	sinks.Sink
	aborted bool
}

func (s *closeFailSink) Close(context.Context) (*sinks.Result, error) {
	return nil, errors.New("disk full")
}

func (s *closeFailSink) Abort() error {
	s.aborted = true
	return errors.New("remove temp file")
}

func TestConvert_CloseFailureAbortsAndLogs(t *testing.T) {
	inner, err := sinks.New(sinks.FormatJSONL)
	require.NoError(t, err)
	sink := &closeFailSink{Sink: inner}

	var logs bytes.Buffer
	opts := DefaultOptions()
	opts.Logger = log.NewLogfmtLogger(&logs)

	var buf bytes.Buffer
	sum, err := ConvertTo(context.Background(), salesFile(2).Reader(), sink, sinks.FormatJSONL,
		sinks.Options{Writer: &buf}, opts)
	require.EqualError(t, err, "disk full")
	require.True(t, sink.aborted)
	require.EqualValues(t, 2, sum.Stats.Healthy)
	require.Contains(t, logs.String(), "remove temp file")
}

func TestConvert_AcceptedRate(t *testing.T) {
	b := ixftest.New("SALES", salesColumns...).
		Data(sale(1, ixftest.NotNull(ixftest.Varchar("alice", 20)), "12345", false)).
		Data(sale(2, append([]byte{0x12, 0x34}, ixftest.Varchar("bob", 20)...), "12345", false)).
		End()

	opts := DefaultOptions()
	opts.AcceptedCorruptionRate = 50

	var buf bytes.Buffer
	sum, err := Convert(context.Background(), b.Reader(), sinks.FormatJSON,
		sinks.Options{Writer: &buf}, opts)
	require.NoError(t, err)
	require.EqualValues(t, 1, sum.Stats.Healthy)
	require.Equal(t, []uint32{1}, sum.Stats.CorruptedRows.ToArray())

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 1)
}

func TestConvert_Metrics(t *testing.T) {
	opts := DefaultOptions()
	opts.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())

	var buf bytes.Buffer
	_, err := Convert(context.Background(), salesFile(3).Reader(), sinks.FormatCSV,
		sinks.Options{Writer: &buf}, opts)
	require.NoError(t, err)

	require.Equal(t, float64(3), testutil.ToFloat64(opts.Metrics.Rows.WithLabelValues("SALES", "healthy")))
	require.Equal(t, float64(1), testutil.ToFloat64(opts.Metrics.Files.WithLabelValues("csv", "ok")))
	require.Zero(t, testutil.ToFloat64(opts.Metrics.Corruption.WithLabelValues("SALES")))
}

func TestConvert_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Convert(ctx, salesFile(3).Reader(), sinks.FormatJSONL,
		sinks.Options{Writer: &bytes.Buffer{}}, DefaultOptions())
	require.Error(t, err)
	require.True(t, ixferrors.IsCode(err, ixferrors.CodeContextCanceled))
}

func TestConvertFile(t *testing.T) {
	in := salesFile(4).WriteFile(t, "SALES.IXF")
	out := OutputPath(in, t.TempDir(), sinks.FormatCSV)
	require.Equal(t, "sales.csv", filepath.Base(out))

	sum, err := ConvertFile(context.Background(), in, sinks.FormatCSV, sinks.Options{Path: out}, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, out, sum.Output)
	require.Equal(t, in, sum.Input)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 5)
	require.Equal(t, "ID|NAME|AMOUNT|DAY|CREATED", string(lines[0]))
	require.Equal(t, "0|alice|123.45|2024-01-15|2024-01-15T10:30:00.123456", string(lines[1]))
}

func TestConvertFile_Missing(t *testing.T) {
	_, err := ConvertFile(context.Background(), filepath.Join(t.TempDir(), "nope.ixf"),
		sinks.FormatCSV, sinks.Options{}, DefaultOptions())
	require.True(t, ixferrors.IsCode(err, ixferrors.CodeFileNotFound))
}

func TestOutputPath(t *testing.T) {
	require.Equal(t, filepath.Join("out", "table.parquet"), OutputPath("/data/TABLE.IXF", "out", sinks.FormatParquet))
	require.Equal(t, filepath.Join("out", "dump.jsonl"), OutputPath("dump", "out", sinks.FormatJSONL))
}
