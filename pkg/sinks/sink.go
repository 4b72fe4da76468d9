// Package sinks writes Arrow record batches to output formats.
package sinks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow/go/v14/arrow"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// Sink writes Arrow RecordBatches to a destination.
type Sink interface {
	// Open prepares the sink for writing.
	Open(ctx context.Context, schema *arrow.Schema, opts Options) error

	// Write writes a batch to the sink.
	Write(ctx context.Context, batch arrow.Record) error

	// Flush forces any buffered data to be written.
	Flush(ctx context.Context) error

	// Close finalizes the output and closes the sink.
	Close(ctx context.Context) (*Result, error)

	// Abort discards everything written so far.
	Abort() error
}

// Options configures sink behavior.
type Options struct {
	// Path is the output location.
	Path string

	// Writer is an optional destination for streaming formats (json,
	// jsonl, csv). It is not closed by the sink.
	Writer io.Writer

	// Compression algorithm.
	Compression Compression

	// RowGroupSize for Parquet.
	RowGroupSize int

	// ParquetVersion is "1.0", "2.4" or "2.6".
	ParquetVersion string

	// DictionaryEncoding enables Parquet dictionary encoding.
	DictionaryEncoding bool

	// Statistics enables writing Parquet column statistics.
	Statistics bool

	// Separator of CSV fields.
	Separator rune

	// Table is the DuckDB table or Excel sheet name.
	Table string

	// Metadata to include in output.
	Metadata map[string]string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Compression:        CompressionSnappy,
		RowGroupSize:       128 * 1024,
		ParquetVersion:     "2.6",
		DictionaryEncoding: true,
		Statistics:         true,
		Separator:          '|',
	}
}

// Result contains the outcome of a sink.
type Result struct {
	Path         string
	Format       Format
	RowsWritten  int64
	BytesWritten int64
	Duration     time.Duration
}

// Compression represents compression algorithms.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionGzip
	CompressionLZ4
	CompressionZstd
	CompressionBrotli
)

func (c Compression) String() string {
	names := []string{"none", "snappy", "gzip", "lz4", "zstd", "brotli"}
	if int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// ParseCompression parses a compression name.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "snappy":
		return CompressionSnappy, nil
	case "gzip":
		return CompressionGzip, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "brotli":
		return CompressionBrotli, nil
	case "none", "":
		return CompressionNone, nil
	default:
		return CompressionNone, ixferrors.Newf(ixferrors.CodeInvalidConfig, "unknown compression %q", s)
	}
}

// Format is an output format.
type Format uint8

const (
	FormatJSON Format = iota
	FormatJSONL
	FormatCSV
	FormatParquet
	FormatArrow
	FormatDuckDB
	FormatXLSX
	FormatIceberg
)

var formatNames = [...]string{
	FormatJSON:    "json",
	FormatJSONL:   "jsonl",
	FormatCSV:     "csv",
	FormatParquet: "parquet",
	FormatArrow:   "arrow",
	FormatDuckDB:  "duckdb",
	FormatXLSX:    "xlsx",
	FormatIceberg: "iceberg",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// Extension returns the file extension of f, with the dot. Iceberg
// tables are directories and have none.
func (f Format) Extension() string {
	if f == FormatIceberg {
		return ""
	}
	return "." + f.String()
}

// Formats returns every supported format.
func Formats() []Format {
	return []Format{FormatJSON, FormatJSONL, FormatCSV, FormatParquet, FormatArrow, FormatDuckDB, FormatXLSX, FormatIceberg}
}

// ParseFormat parses a format name. "jsonline" is accepted for jsonl.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "jsonline", "jsonlines":
		return FormatJSONL, nil
	case "ipc", "feather":
		return FormatArrow, nil
	case "excel":
		return FormatXLSX, nil
	}
	for i, name := range formatNames {
		if strings.EqualFold(s, name) {
			return Format(i), nil
		}
	}
	return 0, ixferrors.Newf(ixferrors.CodeInvalidConfig, "unknown output format %q", s)
}

// New returns a sink writing format f.
func New(f Format) (Sink, error) {
	switch f {
	case FormatJSON:
		return NewJSONSink(false), nil
	case FormatJSONL:
		return NewJSONSink(true), nil
	case FormatCSV:
		return NewCSVSink(), nil
	case FormatParquet:
		return NewParquetSink(), nil
	case FormatArrow:
		return NewArrowIPCSink(), nil
	case FormatDuckDB:
		return NewDuckDBSink(), nil
	case FormatXLSX:
		return NewXLSXSink(), nil
	case FormatIceberg:
		return NewIcebergSink(), nil
	default:
		return nil, fmt.Errorf("no sink for format %s", f)
	}
}
