package ixf

import (
	"strconv"
	"strings"

	"github.com/ismailhammounou/db2ixf/pkg/codepage"
	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// Field is one fixed-width field of a record layout.
type Field struct {
	Name   string
	Length int
}

// Layout is the ordered field table of one record type.
type Layout struct {
	Name   string
	Fields []Field
}

// Size returns the number of bytes covered by the layout.
func (l Layout) Size() int {
	n := 0
	for _, f := range l.Fields {
		n += f.Length
	}
	return n
}

// Record types.
const (
	RecordHeader      = 'H'
	RecordTable       = 'T'
	RecordColumn      = 'C'
	RecordData        = 'D'
	RecordApplication = 'A'
)

const (
	// columnFixedLength is the part of IXFCRECL covered by ColumnLayout.
	columnFixedLength = 862
	// dataFixedLength is the part of IXFDRECL covered by DataLayout.
	dataFixedLength = 8
)

var HeaderLayout = Layout{Name: "header", Fields: []Field{
	{"IXFHRECL", 6},
	{"IXFHRECT", 1},
	{"IXFHID", 3},
	{"IXFHVERS", 4},
	{"IXFHPROD", 12},
	{"IXFHDATE", 8},
	{"IXFHTIME", 6},
	{"IXFHHCNT", 5},
	{"IXFHSBCP", 5},
	{"IXFHDBCP", 5},
	{"IXFHFIL1", 2},
}}

var TableLayout = Layout{Name: "table", Fields: []Field{
	{"IXFTRECL", 6},
	{"IXFTRECT", 1},
	{"IXFTNAML", 3},
	{"IXFTNAME", 256},
	{"IXFTQULL", 3},
	{"IXFTQUAL", 256},
	{"IXFTSRC", 12},
	{"IXFTDATA", 1},
	{"IXFTFORM", 1},
	{"IXFTMFRM", 5},
	{"IXFTLOC", 1},
	{"IXFTCCNT", 5},
	{"IXFTFIL1", 2},
	{"IXFTDESC", 30},
	{"IXFTPKNM", 257},
	{"IXFTDSPC", 257},
	{"IXFTISPC", 257},
	{"IXFTLSPC", 257},
}}

var ColumnLayout = Layout{Name: "column descriptor", Fields: []Field{
	{"IXFCRECL", 6},
	{"IXFCRECT", 1},
	{"IXFCNAML", 3},
	{"IXFCNAME", 256},
	{"IXFCNULL", 1},
	{"IXFCDEF", 1},
	{"IXFCSLCT", 1},
	{"IXFCKPOS", 2},
	{"IXFCCLAS", 1},
	{"IXFCTYPE", 3},
	{"IXFCSBCP", 5},
	{"IXFCDBCP", 5},
	{"IXFCLENG", 5},
	{"IXFCDRID", 3},
	{"IXFCPOSN", 6},
	{"IXFCDESC", 30},
	{"IXFCLOBL", 20},
	{"IXFCUDTL", 3},
	{"IXFCUDTN", 256},
	{"IXFCDEFL", 3},
	{"IXFCDEFV", 254},
	{"IXFCREF", 1},
	{"IXFCNDIM", 2},
}}

var DataLayout = Layout{Name: "data", Fields: []Field{
	{"IXFDRECL", 6},
	{"IXFDRECT", 1},
	{"IXFDRID", 3},
	{"IXFDFIL1", 4},
}}

var ApplicationLayout = Layout{Name: "application", Fields: []Field{
	{"IXFARECL", 6},
	{"IXFARECT", 1},
	{"IXFAPPID", 12},
}}

// RawRecord holds the undecoded bytes of every field of one record.
type RawRecord struct {
	layout string
	typ    byte
	fields map[string][]byte
}

// Bytes returns the raw bytes of a field, nil when absent.
func (r RawRecord) Bytes(name string) []byte {
	return r.fields[name]
}

// String returns a field as trimmed ASCII text.
func (r RawRecord) String(name string) string {
	return strings.TrimSpace(strings.Trim(string(r.fields[name]), "\x00"))
}

// Int parses a field holding an ASCII decimal. Blank fields are 0.
func (r RawRecord) Int(name string) (int, error) {
	s := r.String(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ixferrors.Wrapf(err, ixferrors.CodeParseFailed,
			"%s field %s is not a number", r.layout, name).
			WithContext("value", s)
	}
	return n, nil
}

// Type returns the record type byte, 0 when the record has none.
func (r RawRecord) Type() byte {
	return r.typ
}

// HeaderRecord is the decoded IXF header.
type HeaderRecord struct {
	Length      int
	ID          string
	Version     string
	Product     string
	Date        string
	Time        string
	HeaderCount int
	SBCP        int
	DBCP        int
}

func newHeader(raw RawRecord) (HeaderRecord, error) {
	var (
		h   HeaderRecord
		err error
	)
	if h.Length, err = raw.Int("IXFHRECL"); err != nil {
		return h, err
	}
	if h.HeaderCount, err = raw.Int("IXFHHCNT"); err != nil {
		return h, err
	}
	if h.SBCP, err = raw.Int("IXFHSBCP"); err != nil {
		return h, err
	}
	if h.DBCP, err = raw.Int("IXFHDBCP"); err != nil {
		return h, err
	}
	h.ID = raw.String("IXFHID")
	h.Version = raw.String("IXFHVERS")
	h.Product = raw.String("IXFHPROD")
	h.Date = raw.String("IXFHDATE")
	h.Time = raw.String("IXFHTIME")
	return h, nil
}

// TableRecord is the decoded IXF table record.
type TableRecord struct {
	Name           string
	Qualifier      string
	Source         string
	DataConvention string
	Format         string
	MachineFormat  string
	DataLocation   string
	ColumnCount    int
	Description    string
	PrimaryKey     string
	DataSpace      string
	IndexSpace     string
	LongSpace      string
}

func newTable(raw RawRecord) (TableRecord, error) {
	var t TableRecord
	n, err := raw.Int("IXFTCCNT")
	if err != nil {
		return t, err
	}
	if n < 0 {
		return t, ixferrors.Newf(ixferrors.CodeParseFailed, "negative column count %d", n)
	}
	t.ColumnCount = n
	if t.Name, err = prefixed(raw, "IXFTNAML", "IXFTNAME"); err != nil {
		return t, err
	}
	if t.Qualifier, err = prefixed(raw, "IXFTQULL", "IXFTQUAL"); err != nil {
		return t, err
	}
	t.Source = raw.String("IXFTSRC")
	t.DataConvention = raw.String("IXFTDATA")
	t.Format = raw.String("IXFTFORM")
	t.MachineFormat = raw.String("IXFTMFRM")
	t.DataLocation = raw.String("IXFTLOC")
	t.Description = raw.String("IXFTDESC")
	t.PrimaryKey = raw.String("IXFTPKNM")
	t.DataSpace = raw.String("IXFTDSPC")
	t.IndexSpace = raw.String("IXFTISPC")
	t.LongSpace = raw.String("IXFTLSPC")
	return t, nil
}

// prefixed reads a text field whose used length is stored in lenField.
func prefixed(raw RawRecord, lenField, field string) (string, error) {
	n, err := raw.Int(lenField)
	if err != nil {
		return "", err
	}
	b := raw.Bytes(field)
	if n > 0 && n < len(b) {
		b = b[:n]
	}
	return strings.TrimSpace(string(b)), nil
}

// Column is a decoded column descriptor.
type Column struct {
	Name         string
	Nullable     bool
	Type         DataType
	SBCP         int
	DBCP         int
	Length       string // IXFCLENG as stored: a length, "pppss" or a fsp
	Position     int
	Description  string
	LOBLength    int64
	Selected     string
	KeyPosition  string
	Class        string
	UDTName      string
	DefaultValue string
	Dims         string
	Tail         []byte
}

func newColumn(raw RawRecord) (Column, error) {
	var c Column
	if raw.Type() != RecordColumn {
		return c, ixferrors.New(ixferrors.CodeInvalidColumnDescriptor,
			"not a column descriptor, the file holds an unsupported record type or a bad descriptor").
			WithContext("column", raw.String("IXFCNAME")).
			WithContext("record_type", string(raw.Bytes("IXFCRECT")))
	}

	name, err := prefixed(raw, "IXFCNAML", "IXFCNAME")
	if err != nil {
		return c, descriptorErr(err, raw)
	}
	c.Name = name
	c.Nullable = raw.String("IXFCNULL") == "Y"

	code, err := raw.Int("IXFCTYPE")
	if err != nil {
		return c, descriptorErr(err, raw)
	}
	c.Type = DataType(code)
	if c.SBCP, err = raw.Int("IXFCSBCP"); err != nil {
		return c, descriptorErr(err, raw)
	}
	if c.DBCP, err = raw.Int("IXFCDBCP"); err != nil {
		return c, descriptorErr(err, raw)
	}
	if c.Position, err = raw.Int("IXFCPOSN"); err != nil {
		return c, descriptorErr(err, raw)
	}
	if c.Position < 1 {
		return c, ixferrors.Newf(ixferrors.CodeInvalidColumnDescriptor,
			"column %s has position %d", c.Name, c.Position)
	}
	if s := raw.String("IXFCLOBL"); s != "" {
		c.LOBLength, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return c, descriptorErr(err, raw)
		}
	}

	c.Length = string(raw.Bytes("IXFCLENG"))
	c.Description = raw.String("IXFCDESC")
	c.Selected = raw.String("IXFCSLCT")
	c.KeyPosition = raw.String("IXFCKPOS")
	c.Class = raw.String("IXFCCLAS")
	c.UDTName = raw.String("IXFCUDTN")
	c.DefaultValue = raw.String("IXFCDEFV")
	c.Dims = raw.String("IXFCNDIM")
	return c, nil
}

func descriptorErr(err error, raw RawRecord) error {
	return ixferrors.Wrap(err, ixferrors.CodeInvalidColumnDescriptor, "invalid column descriptor").
		WithContext("column", raw.String("IXFCNAME"))
}

// MaxLength is the declared length of a column. Large objects use
// IXFCLOBL when it is set.
func (c *Column) MaxLength() int {
	if (c.Type == TypeBlob || c.Type == TypeClob) && c.LOBLength > 0 {
		return int(c.LOBLength)
	}
	n, _ := strconv.Atoi(strings.TrimSpace(c.Length))
	return n
}

// PrecisionScale splits a DECIMAL length "pppss".
func (c *Column) PrecisionScale() (precision, scale int, err error) {
	s := strings.TrimSpace(c.Length)
	if len(s) != 5 {
		return 0, 0, ixferrors.Newf(ixferrors.CodeInvalidPrecision,
			"column %s: decimal length %q is not pppss", c.Name, c.Length)
	}
	if precision, err = strconv.Atoi(s[:3]); err != nil {
		return 0, 0, ixferrors.Wrapf(err, ixferrors.CodeInvalidPrecision, "column %s: precision", c.Name)
	}
	if scale, err = strconv.Atoi(s[3:]); err != nil {
		return 0, 0, ixferrors.Wrapf(err, ixferrors.CodeInvalidPrecision, "column %s: scale", c.Name)
	}
	if precision < 1 || scale > precision {
		return 0, 0, ixferrors.Newf(ixferrors.CodeInvalidPrecision,
			"column %s: decimal(%d,%d) is not valid", c.Name, precision, scale)
	}
	return precision, scale, nil
}

// CodePage returns the page used to decode text, preferring the
// double-byte page when it is set.
func (c *Column) CodePage() (int, codepage.Width) {
	if c.DBCP != 0 {
		return c.DBCP, codepage.DoubleByte
	}
	return c.SBCP, codepage.SingleByte
}

// HasCodePage reports whether either code page is set.
func (c *Column) HasCodePage() bool {
	return c.SBCP != 0 || c.DBCP != 0
}

// dataRecord is one physical data record.
type dataRecord struct {
	typ  byte
	cols []byte
}
