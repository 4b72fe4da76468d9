package ixf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

var peopleColumns = []testColumn{
	{name: "ID", typ: TypeInteger, length: "", pos: 1},
	{name: "NAME", typ: TypeVarchar, length: "00020", sbcp: 1208, nullable: true, pos: 5},
	{name: "CODE", typ: TypeChar, length: "00005", sbcp: 1208, pos: 29},
}

func personRecord(id int, name, code string) []byte {
	return concat(le32(uint32(id)), notNull(varchar(name, 20)), char(code, 5))
}

func peopleFile(n int) *ixfBuilder {
	b := newBuilder("PEOPLE", peopleColumns...)
	for i := 0; i < n; i++ {
		b.data(personRecord(i, fmt.Sprintf("name-%d", i), "C"+fmt.Sprint(i%10)))
	}
	return b.end()
}

func TestOpen_ReadsHeaderTableColumns(t *testing.T) {
	p := NewParser(peopleFile(0).reader())
	require.NoError(t, p.Open(context.Background()))

	require.Equal(t, StateColumnsRead, p.State())
	require.Equal(t, "IXF", p.Header().ID)
	require.Equal(t, 1208, p.Header().SBCP)
	require.Equal(t, "PEOPLE", p.Table().Name)
	require.Equal(t, "TESTS", p.Table().Qualifier)
	require.Equal(t, 3, p.Table().ColumnCount)

	cols := p.Columns()
	require.Len(t, cols, 3)
	require.Equal(t, "NAME", cols[1].Name)
	require.True(t, cols[1].Nullable)
	require.Equal(t, TypeVarchar, cols[1].Type)
	require.Equal(t, 20, cols[1].MaxLength())
	require.Equal(t, 29, cols[2].Position)

	require.Equal(t, []string{"ID", "NAME", "CODE"}, p.Schema().Names())
}

func TestRows_Framing(t *testing.T) {
	const n = 25
	p := NewParser(peopleFile(n).reader())

	rows, err := p.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, n)

	for i, row := range rows {
		require.Equal(t, []string{"ID", "NAME", "CODE"}, row.Names())
		id, _ := row.Get("ID")
		require.Equal(t, int32(i), id)
		name, _ := row.Get("NAME")
		require.Equal(t, fmt.Sprintf("name-%d", i), name)
		code, _ := row.Get("CODE")
		require.Equal(t, "C"+fmt.Sprint(i%10), code)
	}

	s := p.Stats()
	require.EqualValues(t, n, s.Healthy)
	require.Zero(t, s.Corrupted)
	require.Equal(t, StateDone, p.State())
	require.Greater(t, s.AvgRowBytes(), 0.0)
}

func TestRows_NullIndicator(t *testing.T) {
	b := newBuilder("PEOPLE", peopleColumns...)
	b.data(concat(le32(1), null(22), char("AB", 5)))
	b.data(personRecord(2, "bob", "CD"))
	b.end()

	rows, err := NewParser(b.reader()).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	v, ok := rows[0].Get("NAME")
	require.True(t, ok)
	require.Nil(t, v)
	code, _ := rows[0].Get("CODE")
	require.Equal(t, "AB", code)

	v, _ = rows[1].Get("NAME")
	require.Equal(t, "bob", v)
}

func TestRows_InvalidNullIndicatorIsCorruption(t *testing.T) {
	b := newBuilder("PEOPLE", peopleColumns...)
	b.data(concat(le32(1), []byte{0x01, 0x00}, varchar("x", 20), char("AB", 5)))
	b.data(personRecord(2, "bob", "CD"))
	b.end()

	p := NewParser(b.reader(), WithAcceptedCorruptionRate(100))
	rows, err := p.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 1, p.Stats().Corrupted)
}

func TestRows_VarcharLengthViolation(t *testing.T) {
	b := newBuilder("PEOPLE", peopleColumns...)
	b.data(personRecord(1, "ann", "A"))
	// declared length 30 > maximum 20
	bad := concat(le32(2), notNull(concat(le16(30), make([]byte, 20))), char("B", 5))
	b.data(bad)
	b.data(personRecord(3, "cid", "C"))
	b.end()

	p := NewParser(b.reader(), WithAcceptedCorruptionRate(50))
	rows, err := p.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	s := p.Stats()
	require.EqualValues(t, 2, s.Healthy)
	require.EqualValues(t, 1, s.Corrupted)
	require.True(t, s.CorruptedRows.Contains(1))
	require.EqualValues(t, 1, s.CorruptedRows.GetCardinality())
}

func TestRows_CorruptionThreshold(t *testing.T) {
	b := newBuilder("PEOPLE", peopleColumns...)
	for i := 0; i < 100; i++ {
		if i == 10 || i == 70 {
			b.data(concat(le32(uint32(i)), notNull(concat(le16(99), make([]byte, 20))), char("X", 5)))
			continue
		}
		b.data(personRecord(i, "ok", "OK"))
	}
	b.end()

	p := NewParser(b.reader())
	var (
		seen    int
		lastErr error
	)
	for _, err := range p.Rows(context.Background()) {
		if err != nil {
			lastErr = err
			continue
		}
		seen++
	}

	require.Equal(t, 98, seen)
	require.Error(t, lastErr)
	require.True(t, errors.Is(lastErr, ixferrors.ErrCorruptionRate))
	require.Contains(t, lastErr.Error(), "2% > 1%")
	require.Contains(t, lastErr.Error(), "corrupted=2")
	require.Contains(t, lastErr.Error(), "healthy=98")
	require.True(t, ixferrors.IsFatal(lastErr))

	s := p.Stats()
	require.EqualValues(t, 100, s.Total())
	require.InDelta(t, 2.0, s.Rate(), 1e-9)
	require.Equal(t, []uint32{10, 70}, s.CorruptedRows.ToArray())
}

func TestRows_Idempotent(t *testing.T) {
	p := NewParser(peopleFile(12).reader())
	ctx := context.Background()

	first, err := p.Collect(ctx)
	require.NoError(t, err)
	second, err := p.Collect(ctx)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		require.Equal(t, first[i].Values(), second[i].Values())
	}
	require.EqualValues(t, 12, p.Stats().Healthy)
}

func TestRows_EndOfStreamWithoutMarker(t *testing.T) {
	b := newBuilder("PEOPLE", peopleColumns...)
	b.data(personRecord(1, "a", "A"))
	b.data(personRecord(2, "b", "B"))

	rows, err := NewParser(b.reader()).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestRows_TruncatedDataRecord(t *testing.T) {
	b := newBuilder("PEOPLE", peopleColumns...)
	b.data(personRecord(1, "a", "A"))
	raw := b.buf.Bytes()
	// drop the last bytes of the data area
	r := bytes.NewReader(raw[:len(raw)-3])

	_, err := NewParser(r).Collect(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ixferrors.ErrTruncated))
}

func TestOpen_TruncatedHeader(t *testing.T) {
	err := NewParser(bytes.NewReader([]byte("000051HIXF"))).Open(context.Background())
	require.True(t, errors.Is(err, ixferrors.ErrTruncated))
}

func TestOpen_InvalidColumnDescriptor(t *testing.T) {
	cols := []testColumn{
		{name: "ID", typ: TypeInteger, pos: 1},
		{name: "APP", typ: TypeInteger, pos: 5, recType: 'A'},
	}
	err := NewParser(newBuilder("T", cols...).end().reader()).Open(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ixferrors.ErrInvalidColumnDescriptor))
	require.Contains(t, err.Error(), "APP")
}

func TestOpen_UnknownDataType(t *testing.T) {
	cols := []testColumn{
		{name: "ID", typ: TypeInteger, pos: 1},
		{name: "G", typ: TypeGraphic, length: "00004", dbcp: 1200, pos: 5},
	}
	p := NewParser(newBuilder("T", cols...).data(make([]byte, 12)).end().reader())

	_, err := p.Collect(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ixferrors.ErrUnknownDataType))
}

func TestOpen_InvalidTimestampPrecision(t *testing.T) {
	cols := []testColumn{{name: "TS", typ: TypeTimestamp, length: "00013", pos: 1}}
	err := NewParser(newBuilder("T", cols...).end().reader()).Open(context.Background())
	require.True(t, errors.Is(err, ixferrors.ErrInvalidPrecision))
}

func TestOpen_RejectsOutOfRangeRate(t *testing.T) {
	err := NewParser(peopleFile(1).reader(), WithAcceptedCorruptionRate(101)).Open(context.Background())
	require.True(t, errors.Is(err, ixferrors.ErrInvalidConfig))
}

func TestRows_MultiRecordRow(t *testing.T) {
	cols := []testColumn{
		{name: "ID", typ: TypeSmallInt, pos: 1},
		{name: "NOTE", typ: TypeVarchar, length: "00010", sbcp: 1208, pos: 3},
		// second physical record
		{name: "AMOUNT", typ: TypeDecimal, length: "00502", pos: 1},
	}
	b := newBuilder("SPLIT", cols...)
	b.data(concat(le16(7), varchar("hello", 10)))
	b.data([]byte{0x01, 0x23, 0x4C})
	b.data(concat(le16(8), varchar("bye", 10)))
	b.data([]byte{0x01, 0x23, 0x4D})
	b.end()

	rows, err := NewParser(b.reader()).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	id, _ := rows[0].Get("ID")
	require.Equal(t, int16(7), id)
	amount, _ := rows[1].Get("AMOUNT")
	require.True(t, decimal.RequireFromString("-123.45").Equal(amount.(decimal.Decimal)))
}

func TestRows_StreamEndsInsideMultiRecordRow(t *testing.T) {
	cols := []testColumn{
		{name: "ID", typ: TypeInteger, pos: 1},
		{name: "N", typ: TypeInteger, pos: 1},
	}
	b := newBuilder("SPLIT", cols...)
	b.data(le32(1))
	b.data(le32(10))
	// second row loses its continuation record
	b.data(le32(2))

	p := NewParser(b.reader())
	rows, err := p.Collect(context.Background())
	require.True(t, errors.Is(err, ixferrors.ErrTruncated))
	require.Len(t, rows, 1)
	require.EqualValues(t, 0, p.Stats().Corrupted)
}

func TestRows_CorruptedMultiRecordRowKeepsFraming(t *testing.T) {
	cols := []testColumn{
		{name: "ID", typ: TypeSmallInt, pos: 1},
		{name: "NOTE", typ: TypeVarchar, length: "00004", sbcp: 1208, pos: 3},
		{name: "N", typ: TypeInteger, pos: 1},
	}
	b := newBuilder("SPLIT", cols...)
	b.data(concat(le16(1), le16(9), []byte("abcd")))
	b.data(le32(10))
	b.data(concat(le16(2), varchar("ok", 4)))
	b.data(le32(20))
	b.end()

	p := NewParser(b.reader(), WithAcceptedCorruptionRate(100))
	rows, err := p.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	n, _ := rows[0].Get("N")
	require.Equal(t, int32(20), n)
}

func TestRows_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewParser(peopleFile(10).reader())

	var err error
	seen := 0
	for _, e := range p.Rows(ctx) {
		if e != nil {
			err = e
			break
		}
		seen++
		if seen == 3 {
			cancel()
		}
	}
	require.Equal(t, 3, seen)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestRows_StopEarly(t *testing.T) {
	p := NewParser(peopleFile(10).reader())
	for row, err := range p.Rows(context.Background()) {
		require.NoError(t, err)
		id, _ := row.Get("ID")
		if id == int32(4) {
			break
		}
	}
	require.EqualValues(t, 5, p.Stats().Healthy)
}

type countingObserver struct {
	healthy, corrupted int
}

func (o *countingObserver) ObserveRow(healthy bool) {
	if healthy {
		o.healthy++
		return
	}
	o.corrupted++
}

func TestRows_Observer(t *testing.T) {
	b := newBuilder("PEOPLE", peopleColumns...)
	b.data(personRecord(1, "a", "A"))
	b.data(concat(le32(2), notNull(concat(le16(21), make([]byte, 20))), char("B", 5)))
	b.end()

	obs := &countingObserver{}
	_, err := NewParser(b.reader(), WithObserver(obs), WithAcceptedCorruptionRate(100)).Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, obs.healthy)
	require.Equal(t, 1, obs.corrupted)
}

func TestRows_AllTypes(t *testing.T) {
	cols := []testColumn{
		{name: "S", typ: TypeSmallInt, pos: 1},
		{name: "I", typ: TypeInteger, pos: 3},
		{name: "B", typ: TypeBigInt, pos: 7},
		{name: "F", typ: TypeFloat, length: "00008", pos: 15},
		{name: "R", typ: TypeFloat, length: "00004", pos: 23},
		{name: "D", typ: TypeDate, length: "00010", pos: 27},
		{name: "T", typ: TypeTime, length: "00008", pos: 37},
		{name: "TS", typ: TypeTimestamp, length: "00006", pos: 45},
		{name: "BIN", typ: TypeBinary, length: "00003", pos: 71},
		{name: "BL", typ: TypeBlob, pos: 74, lobLength: 16},
		{name: "CL", typ: TypeClob, sbcp: 1252, pos: 94, lobLength: 16},
		{name: "DEC", typ: TypeDecimal, length: "00300", pos: 114},
	}
	data := concat(
		le16(uint16(0xFFFF)), // -1
		le32(123456),
		le64(1<<40),
		be64f(3.25),
		be32f(1.5),
		[]byte("2024-01-15"),
		[]byte("10.30.05"),
		[]byte("2024-01-15-10.30.00.123456"),
		[]byte{0xDE, 0xAD, 0x01},
		le32(3), []byte{1, 2, 3}, make([]byte, 13),
		le32(4), []byte{'C', 'a', 'f', 0xE9}, make([]byte, 12),
		[]byte{0x04, 0x2C},
	)
	rows, err := NewParser(newBuilder("ALL", cols...).data(data).end().reader()).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r := rows[0]

	get := func(name string) any {
		v, ok := r.Get(name)
		require.True(t, ok, name)
		return v
	}
	require.Equal(t, int16(-1), get("S"))
	require.Equal(t, int32(123456), get("I"))
	require.Equal(t, int64(1<<40), get("B"))
	require.Equal(t, 3.25, get("F"))
	require.Equal(t, float32(1.5), get("R"))
	require.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), get("D"))
	require.Equal(t, 10*time.Hour+30*time.Minute+5*time.Second, get("T"))
	require.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 123456000, time.UTC), get("TS"))
	require.Equal(t, []byte{0xDE, 0xAD, 0x01}, get("BIN"))
	require.Equal(t, []byte{1, 2, 3}, get("BL"))
	require.Equal(t, "Café", get("CL"))
	require.Equal(t, int64(42), get("DEC"))
}
