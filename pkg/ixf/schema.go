package ixf

import (
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

const (
	// maxInt64Precision is the largest scale-0 decimal kept as int64.
	maxInt64Precision = 18
	// maxDecimalPrecision is the widest decimal128.
	maxDecimalPrecision = 38
	// maxTimestampPrecision is the largest fractional-seconds precision.
	maxTimestampPrecision = 12
)

// Kind is the semantic output type of a column.
type Kind uint8

const (
	KindDate Kind = iota
	KindTime
	KindTimestamp
	KindBlob
	KindClob
	KindString
	KindFloat32
	KindFloat64
	KindDecimal
	KindInt16
	KindInt32
	KindInt64
	KindBinary
)

var kindNames = [...]string{
	KindDate:      "date",
	KindTime:      "time",
	KindTimestamp: "timestamp",
	KindBlob:      "blob",
	KindClob:      "clob",
	KindString:    "string",
	KindFloat32:   "float32",
	KindFloat64:   "float64",
	KindDecimal:   "decimal",
	KindInt16:     "int16",
	KindInt32:     "int32",
	KindInt64:     "int64",
	KindBinary:    "binary",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// SchemaField describes one output column.
type SchemaField struct {
	Name      string
	Kind      Kind
	Source    DataType
	Nullable  bool
	Width     int            // KindBinary
	Precision int            // KindDecimal
	Scale     int            // KindDecimal
	Unit      arrow.TimeUnit // KindTimestamp
}

// Schema is the ordered output schema of a table.
type Schema struct {
	Fields []SchemaField
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.Fields) }

// Names returns the field names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Project derives the output schema from the column descriptors.
func Project(cols []Column) (*Schema, error) {
	s := &Schema{Fields: make([]SchemaField, 0, len(cols))}
	for i := range cols {
		f, err := projectColumn(&cols[i])
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

func projectColumn(c *Column) (SchemaField, error) {
	f := SchemaField{Name: c.Name, Source: c.Type, Nullable: c.Nullable}

	switch c.Type {
	case TypeDate:
		f.Kind = KindDate
	case TypeTime:
		f.Kind = KindTime
	case TypeTimestamp:
		f.Kind = KindTimestamp
		fsp, err := strconv.Atoi(strings.TrimSpace(c.Length))
		if err != nil && strings.TrimSpace(c.Length) != "" {
			return f, ixferrors.Wrapf(err, ixferrors.CodeInvalidPrecision,
				"invalid time precision for %s", c.Name)
		}
		switch {
		case fsp < 0 || fsp > maxTimestampPrecision:
			return f, ixferrors.Newf(ixferrors.CodeInvalidPrecision,
				"invalid time precision for %s, expected 0 to %d, got %d", c.Name, maxTimestampPrecision, fsp)
		case fsp == 0:
			f.Unit = arrow.Second
		case fsp <= 3:
			f.Unit = arrow.Millisecond
		case fsp <= 6:
			f.Unit = arrow.Microsecond
		default:
			f.Unit = arrow.Nanosecond
		}
	case TypeBlob:
		f.Kind = KindBlob
	case TypeClob:
		f.Kind = KindClob
	case TypeVarchar, TypeChar, TypeLongVarchar, TypeVarGraphic:
		f.Kind = KindString
	case TypeFloat:
		f.Kind = KindFloat64
		if c.MaxLength() == 4 {
			f.Kind = KindFloat32
		}
	case TypeDecimal:
		p, s, err := c.PrecisionScale()
		if err != nil {
			return f, err
		}
		if p > maxDecimalPrecision {
			return f, ixferrors.Newf(ixferrors.CodeInvalidPrecision,
				"decimal precision %d of %s exceeds %d", p, c.Name, maxDecimalPrecision)
		}
		f.Precision, f.Scale = p, s
		f.Kind = KindDecimal
		if s == 0 && p <= maxInt64Precision {
			f.Kind = KindInt64
		}
	case TypeBigInt:
		f.Kind = KindInt64
	case TypeInteger:
		f.Kind = KindInt32
	case TypeSmallInt:
		f.Kind = KindInt16
	case TypeBinary:
		f.Kind = KindBinary
		f.Width = c.MaxLength()
	default:
		return f, ixferrors.Newf(ixferrors.CodeUnknownDataType,
			"column %s has unknown data type %s", c.Name, c.Type).
			WithContext("column", c.Name).
			WithContext("type", int(c.Type))
	}
	return f, nil
}

// ArrowOption adjusts the Arrow projection.
type ArrowOption func(*arrowOptions)

type arrowOptions struct {
	noNanos      bool
	timeAsString bool
}

// WithoutNanoseconds maps nanosecond timestamps to microseconds, for
// table formats that cannot store nanoseconds.
func WithoutNanoseconds() ArrowOption {
	return func(o *arrowOptions) { o.noNanos = true }
}

// TimeAsString maps TIME columns to strings.
func TimeAsString() ArrowOption {
	return func(o *arrowOptions) { o.timeAsString = true }
}

// Arrow returns the Arrow schema for s.
func (s *Schema) Arrow(opts ...ArrowOption) *arrow.Schema {
	var o arrowOptions
	for _, opt := range opts {
		opt(&o)
	}

	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = arrow.Field{
			Name:     f.Name,
			Type:     f.arrowType(o),
			Nullable: f.Nullable,
			Metadata: arrow.NewMetadata([]string{"ixf.type"}, []string{f.Source.String()}),
		}
	}
	return arrow.NewSchema(fields, nil)
}

func (f SchemaField) arrowType(o arrowOptions) arrow.DataType {
	switch f.Kind {
	case KindDate:
		return arrow.FixedWidthTypes.Date32
	case KindTime:
		if o.timeAsString {
			return arrow.BinaryTypes.String
		}
		return arrow.FixedWidthTypes.Time64ns
	case KindTimestamp:
		unit := f.Unit
		if o.noNanos && unit == arrow.Nanosecond {
			unit = arrow.Microsecond
		}
		return &arrow.TimestampType{Unit: unit}
	case KindBlob:
		return arrow.BinaryTypes.LargeBinary
	case KindClob:
		return arrow.BinaryTypes.LargeString
	case KindString:
		return arrow.BinaryTypes.String
	case KindFloat32:
		return arrow.PrimitiveTypes.Float32
	case KindFloat64:
		return arrow.PrimitiveTypes.Float64
	case KindDecimal:
		return &arrow.Decimal128Type{Precision: int32(f.Precision), Scale: int32(f.Scale)}
	case KindInt16:
		return arrow.PrimitiveTypes.Int16
	case KindInt32:
		return arrow.PrimitiveTypes.Int32
	case KindInt64:
		return arrow.PrimitiveTypes.Int64
	case KindBinary:
		return &arrow.FixedSizeBinaryType{ByteWidth: f.Width}
	default:
		return arrow.Null
	}
}
