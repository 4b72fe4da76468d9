package sinks

import (
	"context"
	"encoding/csv"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// DefaultSeparator is the CSV field separator.
const DefaultSeparator = '|'

// CSVSink writes a header row followed by one line per row.
type CSVSink struct {
	mu sync.Mutex

	out         *output
	w           *csv.Writer
	record      []string
	rowsWritten int64
	startTime   time.Time
}

// NewCSVSink creates a CSV sink.
func NewCSVSink() *CSVSink {
	return &CSVSink{}
}

// Open writes the header row.
func (s *CSVSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := openOutput(opts, FormatCSV)
	if err != nil {
		return err
	}
	s.out = out
	s.startTime = time.Now()
	s.rowsWritten = 0

	s.w = csv.NewWriter(out)
	s.w.Comma = DefaultSeparator
	if opts.Separator != 0 {
		s.w.Comma = opts.Separator
	}

	header := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		header[i] = f.Name
	}
	s.record = make([]string, len(header))
	if err := s.w.Write(header); err != nil {
		out.abort()
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write CSV header")
	}
	return nil
}

// Write writes the rows of a batch.
func (s *CSVSink) Write(ctx context.Context, batch arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return errNotOpen
	}
	cols := batch.Columns()
	for row := 0; row < int(batch.NumRows()); row++ {
		for c, col := range cols {
			s.record[c] = textValue(col, row)
		}
		if err := s.w.Write(s.record); err != nil {
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write CSV row")
		}
	}
	s.rowsWritten += batch.NumRows()
	return nil
}

// Flush flushes buffered lines.
func (s *CSVSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return errNotOpen
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and finalizes the output.
func (s *CSVSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return nil, errNotOpen
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.out.abort()
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to flush CSV")
	}
	s.w = nil

	size, err := s.out.commit()
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:         s.out.path,
		Format:       FormatCSV,
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort discards the partial output.
func (s *CSVSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w = nil
	if s.out != nil {
		return s.out.abort()
	}
	return nil
}

// output is either a caller-provided stream or an atomic file.
type output struct {
	io.Writer
	path    string
	file    *atomicFile
	counter *countingWriter
}

func openOutput(opts Options, f Format) (*output, error) {
	switch {
	case opts.Writer != nil:
		cw := &countingWriter{w: opts.Writer}
		return &output{Writer: cw, counter: cw}, nil
	case opts.Path != "":
		file, err := createAtomic(opts.Path)
		if err != nil {
			return nil, err
		}
		return &output{Writer: file, path: opts.Path, file: file}, nil
	default:
		return nil, ixferrors.Newf(ixferrors.CodeWriteFailed, "%s output needs a path or a writer", f)
	}
}

func (o *output) commit() (int64, error) {
	if o.file != nil {
		return o.file.commit()
	}
	return o.counter.n, nil
}

func (o *output) abort() error {
	if o.file != nil {
		return o.file.abort()
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
