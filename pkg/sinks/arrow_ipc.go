package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/ipc"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// ArrowIPCSink writes Arrow RecordBatches to an Arrow IPC file.
type ArrowIPCSink struct {
	mu sync.Mutex

	writer      *ipc.FileWriter
	file        *atomicFile
	opts        Options
	rowsWritten int64
	startTime   time.Time
}

// NewArrowIPCSink creates an Arrow IPC sink.
func NewArrowIPCSink() *ArrowIPCSink {
	return &ArrowIPCSink{}
}

// Open prepares the sink for writing.
func (s *ArrowIPCSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Path == "" {
		return ixferrors.New(ixferrors.CodeWriteFailed, "arrow output needs a path")
	}
	s.opts = opts
	s.startTime = time.Now()
	s.rowsWritten = 0

	file, err := createAtomic(opts.Path)
	if err != nil {
		return err
	}

	ipcOpts := []ipc.Option{ipc.WithSchema(schema)}
	switch opts.Compression {
	case CompressionZstd:
		ipcOpts = append(ipcOpts, ipc.WithZstd())
	case CompressionLZ4:
		ipcOpts = append(ipcOpts, ipc.WithLZ4())
	}

	writer, err := ipc.NewFileWriter(file.f, ipcOpts...)
	if err != nil {
		file.abort()
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create IPC writer")
	}
	s.file = file
	s.writer = writer
	return nil
}

// Write writes a batch to the IPC file.
func (s *ArrowIPCSink) Write(ctx context.Context, batch arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return errNotOpen
	}
	if err := s.writer.Write(batch); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write batch")
	}
	s.rowsWritten += batch.NumRows()
	return nil
}

// Flush forces buffered data to be written.
func (s *ArrowIPCSink) Flush(ctx context.Context) error {
	return nil
}

// Close writes the file footer and renames the file into place.
func (s *ArrowIPCSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil, errNotOpen
	}
	err := s.writer.Close()
	s.writer = nil
	if err != nil {
		s.file.abort()
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to close writer")
	}

	size, err := s.file.commit()
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:         s.opts.Path,
		Format:       FormatArrow,
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort discards the partial file.
func (s *ArrowIPCSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer = nil
	if s.file != nil {
		return s.file.abort()
	}
	return nil
}

// Verify interface compliance
var (
	_ Sink = (*ArrowIPCSink)(nil)
	_ Sink = (*ParquetSink)(nil)
)
