package sinks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// JSONSink writes rows as JSON objects with keys in column order, either
// as one JSON array or as JSON Lines.
type JSONSink struct {
	mu sync.Mutex

	lines       bool
	out         *output
	bw          *bufio.Writer
	buf         bytes.Buffer
	enc         *json.Encoder
	keys        [][]byte
	rowsWritten int64
	startTime   time.Time
}

// NewJSONSink creates a JSON sink. With lines set it writes one object
// per line instead of an array.
func NewJSONSink(lines bool) *JSONSink {
	return &JSONSink{lines: lines}
}

func (s *JSONSink) format() Format {
	if s.lines {
		return FormatJSONL
	}
	return FormatJSON
}

// Open prepares the output and pre-encodes the object keys.
func (s *JSONSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := openOutput(opts, s.format())
	if err != nil {
		return err
	}
	s.out = out
	s.bw = bufio.NewWriterSize(out, 64*1024)
	s.startTime = time.Now()
	s.rowsWritten = 0

	s.buf.Reset()
	s.enc = json.NewEncoder(&s.buf)
	s.enc.SetEscapeHTML(false)

	s.keys = make([][]byte, schema.NumFields())
	for i, f := range schema.Fields() {
		key, err := json.Marshal(f.Name)
		if err != nil {
			out.abort()
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to encode column name")
		}
		s.keys[i] = append(key, ':')
	}

	if !s.lines {
		s.bw.WriteByte('[')
	}
	return nil
}

// Write writes the rows of a batch.
func (s *JSONSink) Write(ctx context.Context, batch arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return errNotOpen
	}
	cols := batch.Columns()
	for row := 0; row < int(batch.NumRows()); row++ {
		if err := s.encodeRow(cols, row); err != nil {
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to encode row")
		}
		if !s.lines && s.rowsWritten > 0 {
			s.bw.WriteByte(',')
		}
		if s.lines {
			s.buf.WriteByte('\n')
		}
		if _, err := s.bw.Write(s.buf.Bytes()); err != nil {
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write row")
		}
		s.rowsWritten++
	}
	return nil
}

func (s *JSONSink) encodeRow(cols []arrow.Array, row int) error {
	s.buf.Reset()
	s.buf.WriteByte('{')
	for c, col := range cols {
		if c > 0 {
			s.buf.WriteByte(',')
		}
		s.buf.Write(s.keys[c])
		if err := s.enc.Encode(jsonValue(col, row)); err != nil {
			return err
		}
		// Encode terminates every value with a newline
		s.buf.Truncate(s.buf.Len() - 1)
	}
	s.buf.WriteByte('}')
	return nil
}

// Flush flushes buffered rows.
func (s *JSONSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bw == nil {
		return errNotOpen
	}
	return s.bw.Flush()
}

// Close terminates the array and finalizes the output.
func (s *JSONSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bw == nil {
		return nil, errNotOpen
	}
	if !s.lines {
		s.bw.WriteByte(']')
	}
	err := s.bw.Flush()
	s.bw, s.enc = nil, nil
	if err != nil {
		s.out.abort()
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to flush JSON")
	}

	size, err := s.out.commit()
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:         s.out.path,
		Format:       s.format(),
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort discards the partial output.
func (s *JSONSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bw, s.enc = nil, nil
	if s.out != nil {
		return s.out.abort()
	}
	return nil
}

var (
	_ Sink = (*JSONSink)(nil)
	_ Sink = (*CSVSink)(nil)
)
