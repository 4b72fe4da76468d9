package ixf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// testColumn describes a column written by ixfBuilder.
type testColumn struct {
	name      string
	typ       DataType
	nullable  bool
	length    string
	sbcp      int
	dbcp      int
	pos       int
	lobLength int64
	recType   byte
}

// ixfBuilder writes IXF byte streams with the exact record layouts.
type ixfBuilder struct {
	buf bytes.Buffer
}

func newBuilder(table string, cols ...testColumn) *ixfBuilder {
	b := &ixfBuilder{}
	b.record(HeaderLayout, map[string]string{
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
	b.record(TableLayout, map[string]string{
		"IXFTRECL": fmt.Sprintf("%06d", TableLayout.Size()-6),
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
		rect := "C"
		if c.recType != 0 {
			rect = string(c.recType)
		}
		null := "N"
		if c.nullable {
			null = "Y"
		}
		lob := ""
		if c.lobLength > 0 {
			lob = fmt.Sprintf("%020d", c.lobLength)
		}
		b.record(ColumnLayout, map[string]string{
			"IXFCRECL": fmt.Sprintf("%06d", columnFixedLength),
			"IXFCRECT": rect,
			"IXFCNAML": fmt.Sprintf("%03d", len(c.name)),
			"IXFCNAME": c.name,
			"IXFCNULL": null,
			"IXFCDEF":  "N",
			"IXFCSLCT": "Y",
			"IXFCKPOS": "N",
			"IXFCCLAS": "R",
			"IXFCTYPE": fmt.Sprintf("%03d", int(c.typ)),
			"IXFCSBCP": fmt.Sprintf("%05d", c.sbcp),
			"IXFCDBCP": fmt.Sprintf("%05d", c.dbcp),
			"IXFCLENG": c.length,
			"IXFCDRID": "001",
			"IXFCPOSN": fmt.Sprintf("%06d", c.pos),
			"IXFCLOBL": lob,
		})
	}
	return b
}

// record writes every field of layout, left justified and blank padded.
func (b *ixfBuilder) record(layout Layout, values map[string]string) {
	for _, f := range layout.Fields {
		v := values[f.Name]
		if len(v) > f.Length {
			v = v[:f.Length]
		}
		b.buf.WriteString(v)
		b.buf.WriteString(strings.Repeat(" ", f.Length-len(v)))
	}
}

// data writes one data record holding cols.
func (b *ixfBuilder) data(cols []byte) *ixfBuilder {
	return b.dataTyped('D', cols)
}

func (b *ixfBuilder) dataTyped(typ byte, cols []byte) *ixfBuilder {
	fmt.Fprintf(&b.buf, "%06d%c001    ", dataFixedLength+len(cols), typ)
	b.buf.Write(cols)
	return b
}

// end writes an application record, the end-of-data marker.
func (b *ixfBuilder) end() *ixfBuilder {
	b.record(ApplicationLayout, map[string]string{
		"IXFARECL": "000013",
		"IXFARECT": "A",
		"IXFAPPID": "DB2    02.00",
	})
	return b
}

func (b *ixfBuilder) reader() *bytes.Reader {
	return bytes.NewReader(b.buf.Bytes())
}

// Value encoders.

func le16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func le64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func be64f(v float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
}

func be32f(v float32) []byte {
	return binary.BigEndian.AppendUint32(nil, math.Float32bits(v))
}

// varchar writes a length-prefixed string padded to max bytes.
func varchar(s string, width int) []byte {
	out := append(le16(uint16(len(s))), s...)
	return append(out, make([]byte, width-len(s))...)
}

func char(s string, width int) []byte {
	return []byte(s + strings.Repeat(" ", width-len(s)))
}

func notNull(b []byte) []byte {
	return append([]byte{0x00, 0x00}, b...)
}

// null fills a nullable column of width bytes with the null indicator.
func null(width int) []byte {
	return append([]byte{0xFF, 0xFF}, make([]byte, width)...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
