package convert

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/decimal128"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
)

// RecordBuilder accumulates parsed rows into Arrow records.
type RecordBuilder struct {
	fields []ixf.SchemaField
	schema *arrow.Schema
	b      *array.RecordBuilder
	rows   int
}

// NewRecordBuilder creates a builder for the projection of s.
func NewRecordBuilder(mem memory.Allocator, s *ixf.Schema, opts ...ixf.ArrowOption) *RecordBuilder {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema := s.Arrow(opts...)
	return &RecordBuilder{
		fields: s.Fields,
		schema: schema,
		b:      array.NewRecordBuilder(mem, schema),
	}
}

// Schema returns the Arrow schema of the built records.
func (b *RecordBuilder) Schema() *arrow.Schema { return b.schema }

// Len returns the number of rows appended since the last NewRecord.
func (b *RecordBuilder) Len() int { return b.rows }

// Reserve reserves capacity for n rows.
func (b *RecordBuilder) Reserve(n int) {
	for _, fb := range b.b.Fields() {
		fb.Reserve(n)
	}
}

// Append adds one row. Values are taken in column order.
func (b *RecordBuilder) Append(row ixf.Row) error {
	values := row.Values()
	if len(values) != len(b.fields) {
		return ixferrors.Newf(ixferrors.CodeWriteFailed,
			"row has %d values, schema has %d fields", len(values), len(b.fields))
	}
	for i, v := range values {
		if err := appendValue(b.b.Field(i), v); err != nil {
			return ixferrors.Wrapf(err, ixferrors.CodeWriteFailed,
				"append column %s", b.fields[i].Name).
				WithContext("column", b.fields[i].Name).
				WithContext("kind", b.fields[i].Kind.String())
		}
	}
	b.rows++
	return nil
}

// NewRecord returns the accumulated rows as a record and resets the
// builder. The caller must Release the record.
func (b *RecordBuilder) NewRecord() arrow.Record {
	b.rows = 0
	return b.b.NewRecord()
}

// Release frees the builder memory.
func (b *RecordBuilder) Release() {
	b.b.Release()
}

func appendValue(fb array.Builder, v any) error {
	if v == nil {
		fb.AppendNull()
		return nil
	}

	switch fb := fb.(type) {
	case *array.Int16Builder:
		n, ok := v.(int16)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(n)
	case *array.Int32Builder:
		n, ok := v.(int32)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(n)
	case *array.Int64Builder:
		n, ok := v.(int64)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(n)
	case *array.Float32Builder:
		f, ok := v.(float32)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(f)
	case *array.Float64Builder:
		f, ok := v.(float64)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(f)
	case *array.StringBuilder:
		switch s := v.(type) {
		case string:
			fb.Append(s)
		case time.Duration:
			fb.Append(FormatTime(s))
		default:
			return mismatch(fb, v)
		}
	case *array.LargeStringBuilder:
		s, ok := v.(string)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(s)
	case *array.BinaryBuilder:
		switch s := v.(type) {
		case []byte:
			fb.Append(s)
		case string:
			fb.AppendString(s)
		default:
			return mismatch(fb, v)
		}
	case *array.FixedSizeBinaryBuilder:
		raw, ok := v.([]byte)
		if !ok {
			return mismatch(fb, v)
		}
		width := fb.Type().(*arrow.FixedSizeBinaryType).ByteWidth
		if len(raw) > width {
			return fmt.Errorf("binary value of %d bytes exceeds width %d", len(raw), width)
		}
		if len(raw) < width {
			padded := make([]byte, width)
			copy(padded, raw)
			raw = padded
		}
		fb.Append(raw)
	case *array.Date32Builder:
		t, ok := v.(time.Time)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(arrow.Date32FromTime(t))
	case *array.Time64Builder:
		d, ok := v.(time.Duration)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(arrow.Time64(d.Nanoseconds()))
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return mismatch(fb, v)
		}
		fb.Append(timestampOf(t, fb.Type().(*arrow.TimestampType).Unit))
	case *array.Decimal128Builder:
		d, ok := v.(decimal.Decimal)
		if !ok {
			return mismatch(fb, v)
		}
		scale := fb.Type().(*arrow.Decimal128Type).Scale
		fb.Append(decimal128.FromBigInt(d.Shift(scale).BigInt()))
	default:
		return fmt.Errorf("unsupported builder %T", fb)
	}
	return nil
}

func mismatch(fb array.Builder, v any) error {
	return fmt.Errorf("cannot append %T to %s", v, fb.Type())
}

func timestampOf(t time.Time, unit arrow.TimeUnit) arrow.Timestamp {
	switch unit {
	case arrow.Second:
		return arrow.Timestamp(t.Unix())
	case arrow.Millisecond:
		return arrow.Timestamp(t.UnixMilli())
	case arrow.Microsecond:
		return arrow.Timestamp(t.UnixMicro())
	default:
		return arrow.Timestamp(t.UnixNano())
	}
}

// FormatTime renders a time of day as HH:MM:SS.
func FormatTime(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
