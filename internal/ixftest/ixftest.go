// Package ixftest writes small IXF files for tests of packages built on
// top of the parser.
package ixftest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ismailhammounou/db2ixf/pkg/ixf"
)

// Column describes a column descriptor record.
type Column struct {
	Name     string
	Type     ixf.DataType
	Nullable bool
	Length   string
	CodePage int
	Position int
}

// Builder writes IXF byte streams with the exact record layouts.
type Builder struct {
	buf bytes.Buffer
}

// New writes the header, table and column records of table.
func New(table string, cols ...Column) *Builder {
	b := &Builder{}
	b.record(ixf.HeaderLayout, map[string]string{
		"IXFHRECL": "000051",
		"IXFHRECT": "H",
		"IXFHID":   "IXF",
		"IXFHVERS": "0002",
		"IXFHPROD": "DB02.00",
		"IXFHDATE": "20240115",
		"IXFHTIME": "103000",
		"IXFHHCNT": fmt.Sprintf("%05d", len(cols)),
		"IXFHSBCP": "01208",
		"IXFHDBCP": "00000",
	})
	b.record(ixf.TableLayout, map[string]string{
		"IXFTRECL": fmt.Sprintf("%06d", ixf.TableLayout.Size()-6),
		"IXFTRECT": "T",
		"IXFTNAML": fmt.Sprintf("%03d", len(table)),
		"IXFTNAME": table,
		"IXFTQULL": "005",
		"IXFTQUAL": "TESTS",
		"IXFTSRC":  "DB2",
		"IXFTDATA": "C",
		"IXFTFORM": "M",
		"IXFTMFRM": "PC",
		"IXFTLOC":  "I",
		"IXFTCCNT": fmt.Sprintf("%05d", len(cols)),
	})
	for _, c := range cols {
		null := "N"
		if c.Nullable {
			null = "Y"
		}
		b.record(ixf.ColumnLayout, map[string]string{
			"IXFCRECL": fmt.Sprintf("%06d", ixf.ColumnLayout.Size()-6),
			"IXFCRECT": "C",
			"IXFCNAML": fmt.Sprintf("%03d", len(c.Name)),
			"IXFCNAME": c.Name,
			"IXFCNULL": null,
			"IXFCDEF":  "N",
			"IXFCSLCT": "Y",
			"IXFCKPOS": "N",
			"IXFCCLAS": "R",
			"IXFCTYPE": fmt.Sprintf("%03d", int(c.Type)),
			"IXFCSBCP": fmt.Sprintf("%05d", c.CodePage),
			"IXFCDBCP": "00000",
			"IXFCLENG": c.Length,
			"IXFCDRID": "001",
			"IXFCPOSN": fmt.Sprintf("%06d", c.Position),
		})
	}
	return b
}

func (b *Builder) record(layout ixf.Layout, values map[string]string) {
	for _, f := range layout.Fields {
		v := values[f.Name]
		if len(v) > f.Length {
			v = v[:f.Length]
		}
		b.buf.WriteString(v)
		b.buf.WriteString(strings.Repeat(" ", f.Length-len(v)))
	}
}

// Data writes one data record holding the column bytes.
func (b *Builder) Data(cols []byte) *Builder {
	fmt.Fprintf(&b.buf, "%06d%c001    ", ixf.DataLayout.Size()-6+len(cols), 'D')
	b.buf.Write(cols)
	return b
}

// End writes the application record that ends the data.
func (b *Builder) End() *Builder {
	b.record(ixf.ApplicationLayout, map[string]string{
		"IXFARECL": "000013",
		"IXFARECT": "A",
		"IXFAPPID": "DB2    02.00",
	})
	return b
}

// Bytes returns the stream written so far.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Reader returns a reader over the stream.
func (b *Builder) Reader() *bytes.Reader { return bytes.NewReader(b.buf.Bytes()) }

// WriteFile writes the stream to name in a temporary directory of t.
func (b *Builder) WriteFile(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, b.buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// LE16 encodes a SMALLINT.
func LE16(v int16) []byte { return binary.LittleEndian.AppendUint16(nil, uint16(v)) }

// LE32 encodes an INTEGER.
func LE32(v int32) []byte { return binary.LittleEndian.AppendUint32(nil, uint32(v)) }

// LE64 encodes a BIGINT.
func LE64(v int64) []byte { return binary.LittleEndian.AppendUint64(nil, uint64(v)) }

// Float64 encodes an 8-byte FLOAT.
func Float64(v float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
}

// Varchar writes a length-prefixed string padded to width bytes.
func Varchar(s string, width int) []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(s)))
	out = append(out, s...)
	return append(out, make([]byte, width-len(s))...)
}

// Char writes a blank padded fixed-length string.
func Char(s string, width int) []byte {
	return []byte(s + strings.Repeat(" ", width-len(s)))
}

// NotNull prefixes a nullable column value with the not-null indicator.
func NotNull(b []byte) []byte { return append([]byte{0x00, 0x00}, b...) }

// Null fills a nullable column of width bytes with the null indicator.
func Null(width int) []byte { return append([]byte{0xFF, 0xFF}, make([]byte, width)...) }

// Concat joins column values into one record body.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Packed encodes a packed decimal of the given digits. The digit count
// is padded to odd so the sign nibble closes the last byte.
func Packed(digits string, negative bool) []byte {
	if len(digits)%2 == 0 {
		digits = "0" + digits
	}
	nibbles := make([]byte, 0, len(digits)+1)
	for _, d := range digits {
		nibbles = append(nibbles, byte(d-'0'))
	}
	sign := byte(0x0C)
	if negative {
		sign = 0x0D
	}
	nibbles = append(nibbles, sign)

	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return out
}
