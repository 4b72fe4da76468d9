package sinks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// Version info for metadata
const Version = "1.0.0"

// ParquetSink writes Arrow batches to a Parquet file.
// Uses atomic writes (write to temp file, rename on success) to prevent corruption.
type ParquetSink struct {
	mu sync.Mutex

	opts        Options
	file        *atomicFile
	writer      *pqarrow.FileWriter
	rowsWritten int64
	startTime   time.Time
}

// NewParquetSink creates a Parquet sink.
func NewParquetSink() *ParquetSink {
	return &ParquetSink{}
}

// Open prepares the sink for writing.
func (s *ParquetSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Path == "" {
		return ixferrors.New(ixferrors.CodeWriteFailed, "parquet output needs a path")
	}
	version, err := ParseParquetVersion(opts.ParquetVersion)
	if err != nil {
		return err
	}

	s.opts = opts
	s.startTime = time.Now()
	s.rowsWritten = 0

	// Lineage metadata in the file footer
	metaKeys := []string{"db2ixf.version", "db2ixf.created_at", "db2ixf.schema_fields"}
	metaValues := []string{Version, s.startTime.Format(time.RFC3339), strconv.Itoa(schema.NumFields())}
	for k, v := range opts.Metadata {
		metaKeys = append(metaKeys, "db2ixf."+k)
		metaValues = append(metaValues, v)
	}
	meta := arrow.NewMetadata(metaKeys, metaValues)
	schemaWithMeta := arrow.NewSchema(schema.Fields(), &meta)

	file, err := createAtomic(opts.Path)
	if err != nil {
		return err
	}

	props := []parquet.WriterProperty{
		parquet.WithVersion(version),
		parquet.WithCompression(getCompression(opts.Compression)),
		parquet.WithDictionaryDefault(opts.DictionaryEncoding),
		parquet.WithStats(opts.Statistics),
		parquet.WithCreatedBy("db2ixf " + Version),
	}
	if opts.RowGroupSize > 0 {
		props = append(props, parquet.WithMaxRowGroupLength(int64(opts.RowGroupSize)))
	}

	writer, err := pqarrow.NewFileWriter(schemaWithMeta, file,
		parquet.NewWriterProperties(props...),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	)
	if err != nil {
		file.abort()
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create Parquet writer")
	}
	s.file = file
	s.writer = writer
	return nil
}

// Write writes a batch to the sink.
func (s *ParquetSink) Write(ctx context.Context, batch arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return errNotOpen
	}
	if err := s.writer.WriteBuffered(batch); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write batch")
	}
	s.rowsWritten += batch.NumRows()
	return nil
}

// Flush ends the current row group.
func (s *ParquetSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return errNotOpen
	}
	s.writer.NewBufferedRowGroup()
	return nil
}

// Close finalizes the file and renames it into place.
func (s *ParquetSink) Close(ctx context.Context) (*Result, error) {
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
		Format:       FormatParquet,
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort cancels the write and cleans up the temp file.
func (s *ParquetSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	if s.file != nil {
		return s.file.abort()
	}
	return nil
}

// ParseParquetVersion parses "1.0", "2.4" or "2.6". Empty means 2.6.
func ParseParquetVersion(v string) (parquet.Version, error) {
	switch v {
	case "1.0":
		return parquet.V1_0, nil
	case "2.4":
		return parquet.V2_4, nil
	case "2.6", "":
		return parquet.V2_6, nil
	default:
		return parquet.V2_LATEST, ixferrors.Newf(ixferrors.CodeInvalidConfig,
			"unsupported parquet version %q, expected 1.0, 2.4 or 2.6", v)
	}
}

// getCompression converts compression enum to Parquet codec.
func getCompression(c Compression) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionLZ4:
		return compress.Codecs.Lz4
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionBrotli:
		return compress.Codecs.Brotli
	default:
		return compress.Codecs.Uncompressed
	}
}

