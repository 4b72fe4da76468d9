package ixf

import (
	"errors"
	"io"
	"strings"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// RecordReader reads fixed-layout records from a byte stream and counts
// the bytes it consumed.
type RecordReader struct {
	r      io.Reader
	offset int64
}

// NewRecordReader wraps r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: r}
}

// Offset returns the number of bytes consumed so far.
func (rr *RecordReader) Offset() int64 {
	return rr.offset
}

// Reset points the reader at a new stream position. Used after a seek.
func (rr *RecordReader) Reset(offset int64) {
	rr.offset = offset
}

// ReadRecord reads every field of layout in order. It returns io.EOF when
// the stream ends before the first byte of the record and ErrTruncated
// when it ends inside the record.
func (rr *RecordReader) ReadRecord(layout Layout) (RawRecord, error) {
	rec := RawRecord{layout: layout.Name, fields: make(map[string][]byte, len(layout.Fields))}
	for i, f := range layout.Fields {
		buf := make([]byte, f.Length)
		n, err := io.ReadFull(rr.r, buf)
		rr.offset += int64(n)
		if err != nil {
			if i == 0 && n == 0 && errors.Is(err, io.EOF) {
				return rec, io.EOF
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return rec, ixferrors.Truncated(layout.Name, f.Name, f.Length, n)
			}
			return rec, ixferrors.Wrapf(err, ixferrors.CodeParseFailed, "read %s field %s", layout.Name, f.Name)
		}
		rec.fields[f.Name] = buf
		if f.Length == 1 && strings.HasSuffix(f.Name, "RECT") {
			rec.typ = buf[0]
		}
	}
	return rec, nil
}

// ReadN reads a variable-length tail of n bytes belonging to record.
func (rr *RecordReader) ReadN(record string, n int) ([]byte, error) {
	if n < 0 {
		return nil, ixferrors.Newf(ixferrors.CodeParseFailed, "%s record has negative tail length %d", record, n)
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(rr.r, buf)
	rr.offset += int64(got)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ixferrors.Truncated(record, "tail", n, got)
		}
		return nil, ixferrors.Wrapf(err, ixferrors.CodeParseFailed, "read %s tail", record)
	}
	return buf, nil
}
