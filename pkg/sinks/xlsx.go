package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/xuri/excelize/v2"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

const (
	defaultSheet = "Sheet1"
	// maxSheetName is the Excel limit on sheet name length.
	maxSheetName = 31
	// xlsxMaxRows is the Excel row limit, header included.
	xlsxMaxRows = 1_048_576

	numFmtDate     = 14
	numFmtDateTime = 22
)

// XLSXSink writes a header row and the rows to one Excel sheet with the
// excelize stream writer.
type XLSXSink struct {
	mu sync.Mutex

	opts        Options
	file        *excelize.File
	sw          *excelize.StreamWriter
	styles      []int
	row         int
	rowsWritten int64
	startTime   time.Time
}

// NewXLSXSink creates an Excel sink.
func NewXLSXSink() *XLSXSink {
	return &XLSXSink{}
}

// Open creates the workbook and writes the header row.
func (s *XLSXSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Path == "" {
		return ixferrors.New(ixferrors.CodeWriteFailed, "xlsx output needs a path")
	}
	s.opts = opts
	s.startTime = time.Now()
	s.rowsWritten = 0

	f := excelize.NewFile()
	sheet := sheetName(opts.Table)
	if sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			f.Close()
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to name sheet")
		}
	}

	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: numFmtDate})
	if err != nil {
		f.Close()
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create date style")
	}
	tsStyle, err := f.NewStyle(&excelize.Style{NumFmt: numFmtDateTime})
	if err != nil {
		f.Close()
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create timestamp style")
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		f.Close()
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create stream writer")
	}

	header := make([]any, schema.NumFields())
	s.styles = make([]int, schema.NumFields())
	for i, fld := range schema.Fields() {
		header[i] = fld.Name
		switch fld.Type.ID() {
		case arrow.DATE32:
			s.styles[i] = dateStyle
		case arrow.TIMESTAMP:
			s.styles[i] = tsStyle
		}
	}
	if err := sw.SetRow("A1", header); err != nil {
		f.Close()
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write header")
	}

	s.file = f
	s.sw = sw
	s.row = 1
	return nil
}

// Write appends the rows of a batch.
func (s *XLSXSink) Write(ctx context.Context, batch arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sw == nil {
		return errNotOpen
	}
	if s.row+int(batch.NumRows()) > xlsxMaxRows {
		return ixferrors.Newf(ixferrors.CodeWriteFailed,
			"xlsx output is limited to %d rows", xlsxMaxRows-1)
	}

	cols := batch.Columns()
	for r := 0; r < int(batch.NumRows()); r++ {
		values := make([]any, len(cols))
		for c, col := range cols {
			v := cellValue(col, r)
			if s.styles[c] != 0 && v != nil {
				v = excelize.Cell{StyleID: s.styles[c], Value: v}
			}
			values[c] = v
		}
		s.row++
		cell, err := excelize.CoordinatesToCellName(1, s.row)
		if err != nil {
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "invalid cell")
		}
		if err := s.sw.SetRow(cell, values); err != nil {
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write row").
				WithContext("row", s.row)
		}
	}
	s.rowsWritten += batch.NumRows()
	return nil
}

// Flush is a no-op, the stream writer spills to disk on its own.
func (s *XLSXSink) Flush(ctx context.Context) error {
	return nil
}

// Close writes the workbook under a temporary name and renames it.
func (s *XLSXSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sw == nil {
		return nil, errNotOpen
	}
	defer func() {
		s.file.Close()
		s.file, s.sw = nil, nil
	}()

	if err := s.sw.Flush(); err != nil {
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to flush sheet")
	}
	out, err := createAtomic(s.opts.Path)
	if err != nil {
		return nil, err
	}
	if _, err := s.file.WriteTo(out); err != nil {
		out.abort()
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to save workbook")
	}
	size, err := out.commit()
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:         s.opts.Path,
		Format:       FormatXLSX,
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort drops the workbook. Nothing was written to the final path.
func (s *XLSXSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		s.file.Close()
		s.file, s.sw = nil, nil
	}
	return nil
}

func sheetName(name string) string {
	if name == "" {
		return defaultSheet
	}
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}

var (
	_ Sink = (*XLSXSink)(nil)
	_ Sink = (*DuckDBSink)(nil)
)
