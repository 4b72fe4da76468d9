package convert

import (
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ismailhammounou/db2ixf/pkg/ixf"
)

func newBuilder(t *testing.T, dt arrow.DataType) array.Builder {
	t.Helper()
	b := array.NewBuilder(memory.NewGoAllocator(), dt)
	t.Cleanup(b.Release)
	return b
}

func TestAppendValue_Temporal(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)

	db := newBuilder(t, arrow.FixedWidthTypes.Date32)
	require.NoError(t, appendValue(db, day))
	dates := db.NewArray().(*array.Date32)
	defer dates.Release()
	require.True(t, dates.Value(0).ToTime().Equal(day))

	tb := newBuilder(t, arrow.FixedWidthTypes.Time64ns)
	require.NoError(t, appendValue(tb, 10*time.Hour+30*time.Minute+5*time.Second))
	times := tb.NewArray().(*array.Time64)
	defer times.Release()
	require.EqualValues(t, (10*time.Hour + 30*time.Minute + 5*time.Second).Nanoseconds(), times.Value(0))

	units := map[arrow.TimeUnit]int64{
		arrow.Second:      ts.Unix(),
		arrow.Millisecond: ts.UnixMilli(),
		arrow.Microsecond: ts.UnixMicro(),
		arrow.Nanosecond:  ts.UnixNano(),
	}
	for unit, want := range units {
		b := newBuilder(t, &arrow.TimestampType{Unit: unit})
		require.NoError(t, appendValue(b, ts))
		arr := b.NewArray().(*array.Timestamp)
		require.EqualValues(t, want, arr.Value(0), unit.String())
		arr.Release()
	}
}

func TestAppendValue_TimeAsString(t *testing.T) {
	b := newBuilder(t, arrow.BinaryTypes.String)
	require.NoError(t, appendValue(b, 9*time.Hour+5*time.Second))
	arr := b.NewArray().(*array.String)
	defer arr.Release()
	require.Equal(t, "09:00:05", arr.Value(0))
}

func TestAppendValue_Decimal(t *testing.T) {
	b := newBuilder(t, &arrow.Decimal128Type{Precision: 9, Scale: 2})
	require.NoError(t, appendValue(b, decimal.RequireFromString("-123.45")))
	require.NoError(t, appendValue(b, nil))
	arr := b.NewArray().(*array.Decimal128)
	defer arr.Release()

	require.Equal(t, int64(-12345), arr.Value(0).BigInt().Int64())
	require.True(t, arr.IsNull(1))
}

func TestAppendValue_Binary(t *testing.T) {
	fixed := newBuilder(t, &arrow.FixedSizeBinaryType{ByteWidth: 4})
	require.NoError(t, appendValue(fixed, []byte{1, 2}))
	require.Error(t, appendValue(fixed, []byte{1, 2, 3, 4, 5}))
	arr := fixed.NewArray().(*array.FixedSizeBinary)
	defer arr.Release()
	require.Equal(t, []byte{1, 2, 0, 0}, arr.Value(0))

	large := newBuilder(t, arrow.BinaryTypes.LargeBinary)
	require.NoError(t, appendValue(large, []byte("raw")))
	require.NoError(t, appendValue(large, "text"))
	require.Equal(t, 2, large.Len())
}

func TestAppendValue_Mismatch(t *testing.T) {
	b := newBuilder(t, arrow.PrimitiveTypes.Int32)
	err := appendValue(b, int64(1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot append int64")
}

func TestRecordBuilder(t *testing.T) {
	s, err := ixf.Project([]ixf.Column{
		{Name: "ID", Type: ixf.TypeInteger},
		{Name: "T", Type: ixf.TypeTime},
	})
	require.NoError(t, err)

	rb := NewRecordBuilder(nil, s, ixf.TimeAsString())
	defer rb.Release()
	require.Equal(t, arrow.STRING, rb.Schema().Field(1).Type.ID())

	rows, err := ixf.NewParser(salesFile(2).Reader()).Collect(t.Context())
	require.NoError(t, err)

	sales, err := ixf.Project([]ixf.Column{
		{Name: "ID", Type: ixf.TypeInteger},
		{Name: "NAME", Type: ixf.TypeVarchar, Nullable: true},
		{Name: "AMOUNT", Type: ixf.TypeDecimal, Length: "00502"},
		{Name: "DAY", Type: ixf.TypeDate},
		{Name: "CREATED", Type: ixf.TypeTimestamp, Length: "00006"},
	})
	require.NoError(t, err)
	srb := NewRecordBuilder(memory.NewGoAllocator(), sales)
	defer srb.Release()
	for _, row := range rows {
		require.NoError(t, srb.Append(row))
	}
	require.Equal(t, 2, srb.Len())

	rec := srb.NewRecord()
	defer rec.Release()
	require.EqualValues(t, 2, rec.NumRows())
	require.EqualValues(t, 5, rec.NumCols())
	require.Zero(t, srb.Len())

	// a row of another shape is rejected
	require.Error(t, rb.Append(rows[0]))
}

func TestFormatTime(t *testing.T) {
	require.Equal(t, "00:00:00", FormatTime(0))
	require.Equal(t, "23:59:59", FormatTime(24*time.Hour-time.Nanosecond))
}
