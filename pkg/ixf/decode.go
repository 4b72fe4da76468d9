package ixf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/ismailhammounou/db2ixf/pkg/codepage"
	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

const (
	maxFixedLength = 254

	dateLayout        = "2006-01-02"
	timeLayout        = "15.04.05"
	timestampLayout   = "2006-01-02-15.04.05.999999999"
	timestampNoFrac   = "2006-01-02-15.04.05"
	timestampBaseSize = len(timestampNoFrac)
)

// DecodeError is a row-local decoding failure. The row is dropped and
// counted as corrupted; parsing continues.
type DecodeError struct {
	Column string
	Type   DataType
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("column %s (%s): %s", e.Column, e.Type, e.Reason)
}

// Unwrap makes DecodeError match ixferrors.ErrDataCollector.
func (e *DecodeError) Unwrap() error {
	return ixferrors.ErrDataCollector
}

func corrupt(col *Column, format string, args ...any) *DecodeError {
	return &DecodeError{Column: col.Name, Type: col.Type, Reason: fmt.Sprintf(format, args...)}
}

// decoder turns column bytes into Go values.
type decoder struct {
	resolver *codepage.Resolver
}

// decode reads the value of col starting at pos in data.
func (d *decoder) decode(col *Column, data []byte, pos int) (any, error) {
	switch col.Type {
	case TypeSmallInt:
		b, err := span(col, data, pos, 2)
		if err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(b)), nil

	case TypeInteger:
		b, err := span(col, data, pos, 4)
		if err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(b)), nil

	case TypeBigInt:
		b, err := span(col, data, pos, 8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil

	case TypeDecimal:
		return d.decimal(col, data, pos)

	case TypeFloat:
		return d.float(col, data, pos)

	case TypeChar:
		n := col.MaxLength()
		if n > maxFixedLength {
			return nil, corrupt(col, "fixed length %d exceeds %d", n, maxFixedLength)
		}
		b, err := span(col, data, pos, n)
		if err != nil {
			return nil, err
		}
		return trimRight(d.text(col, b)), nil

	case TypeVarchar, TypeLongVarchar:
		b, err := d.prefixed16(col, data, pos, 1)
		if err != nil {
			return nil, err
		}
		return d.text(col, b), nil

	case TypeVarGraphic:
		if col.DBCP == 0 {
			return nil, corrupt(col, "double-byte code page is not set")
		}
		b, err := d.prefixed16(col, data, pos, 2)
		if err != nil {
			return nil, err
		}
		return d.text(col, b), nil

	case TypeClob:
		if !col.HasCodePage() {
			return nil, corrupt(col, "no code page, cannot tell the clob from a blob")
		}
		b, err := d.prefixed32(col, data, pos)
		if err != nil {
			return nil, err
		}
		return d.text(col, b), nil

	case TypeBlob:
		b, err := d.prefixed32(col, data, pos)
		if err != nil {
			return nil, err
		}
		if col.HasCodePage() {
			return d.text(col, b), nil
		}
		return bytes.Clone(b), nil

	case TypeBinary:
		n := col.MaxLength()
		if n > maxFixedLength {
			return nil, corrupt(col, "fixed length %d exceeds %d", n, maxFixedLength)
		}
		b, err := span(col, data, pos, n)
		if err != nil {
			return nil, err
		}
		return bytes.Clone(b), nil

	case TypeDate:
		b, err := span(col, data, pos, len(dateLayout))
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(dateLayout, string(b))
		if err != nil {
			return nil, corrupt(col, "bad date %q", b)
		}
		return t, nil

	case TypeTime:
		b, err := span(col, data, pos, len(timeLayout))
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, string(b))
		if err != nil {
			return nil, corrupt(col, "bad time %q", b)
		}
		return time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second, nil

	case TypeTimestamp:
		return d.timestamp(col, data, pos)

	default:
		return nil, ixferrors.Newf(ixferrors.CodeUnknownDataType,
			"column %s has unknown data type %d", col.Name, int(col.Type)).
			WithContext("column", col.Name).
			WithContext("type", int(col.Type))
	}
}

func (d *decoder) text(col *Column, b []byte) string {
	page, width := col.CodePage()
	return d.resolver.Decode(b, page, width)
}

// prefixed16 reads a 2-byte little-endian length followed by length*unit
// bytes. The length is checked against the declared maximum.
func (d *decoder) prefixed16(col *Column, data []byte, pos, unit int) ([]byte, error) {
	lb, err := span(col, data, pos, 2)
	if err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(lb))
	if limit := col.MaxLength(); limit > 0 && n > limit {
		return nil, corrupt(col, "length %d exceeds declared maximum %d", n, limit)
	}
	return span(col, data, pos+2, n*unit)
}

func (d *decoder) prefixed32(col *Column, data []byte, pos int) ([]byte, error) {
	lb, err := span(col, data, pos, 4)
	if err != nil {
		return nil, err
	}
	n := int64(binary.LittleEndian.Uint32(lb))
	if limit := int64(col.MaxLength()); limit > 0 && n > limit {
		return nil, corrupt(col, "length %d exceeds declared maximum %d", n, limit)
	}
	return span(col, data, pos+4, int(n))
}

func (d *decoder) float(col *Column, data []byte, pos int) (any, error) {
	switch n := col.MaxLength(); n {
	case 4:
		b, err := span(col, data, pos, 4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case 8:
		b, err := span(col, data, pos, 8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return nil, corrupt(col, "floating point length %d is neither 4 nor 8", n)
	}
}

func (d *decoder) decimal(col *Column, data []byte, pos int) (any, error) {
	p, s, err := col.PrecisionScale()
	if err != nil {
		return nil, corrupt(col, "%v", err)
	}
	b, err := span(col, data, pos, packedLength(p))
	if err != nil {
		return nil, err
	}
	v, err := unpackDecimal(b, s)
	if err != nil {
		return nil, corrupt(col, "%v", err)
	}
	if s == 0 && p <= maxInt64Precision {
		return v.IntPart(), nil
	}
	return v, nil
}

// timestamp parses the fractional layout first, then the layout without
// a fraction. Trailing NUL and blank padding is ignored.
func (d *decoder) timestamp(col *Column, data []byte, pos int) (any, error) {
	width := timestampWidth(col)
	if pos+width > len(data) && pos+timestampBaseSize <= len(data) {
		width = len(data) - pos
	}
	b, err := span(col, data, pos, width)
	if err != nil {
		return nil, err
	}
	s := strings.TrimRight(string(b), "\x00 ")
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(timestampNoFrac, s); err == nil {
		return t, nil
	}
	return nil, corrupt(col, "bad timestamp %q", s)
}

// timestampWidth is the stored width for the column's fractional
// precision: 19 bytes, plus a dot and one byte per fractional digit.
func timestampWidth(col *Column) int {
	fsp := col.MaxLength()
	if fsp <= 0 {
		return timestampBaseSize
	}
	if fsp > maxTimestampPrecision {
		fsp = maxTimestampPrecision
	}
	return timestampBaseSize + 1 + fsp
}

// span returns data[pos:pos+n] or a row-local error when out of range.
func span(col *Column, data []byte, pos, n int) ([]byte, error) {
	if pos < 0 || n < 0 || pos+n > len(data) {
		return nil, corrupt(col, "needs %d bytes at offset %d, record has %d", n, pos, len(data))
	}
	return data[pos : pos+n], nil
}

func trimRight(s string) string {
	return strings.TrimRightFunc(s, func(r rune) bool {
		return r == 0 || unicode.IsSpace(r)
	})
}
