// Package convert streams the rows of an IXF file into an output sink as
// Arrow record batches.
package convert

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ismailhammounou/db2ixf/pkg/codepage"
	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
	"github.com/ismailhammounou/db2ixf/pkg/telemetry"
)

// Options configures a conversion.
type Options struct {
	// Input names the source in logs, spans and sink metadata.
	Input string

	// AcceptedCorruptionRate is the corrupted share of rows, in percent,
	// above which the conversion fails.
	AcceptedCorruptionRate int

	// BatchSize is the number of rows per record batch. Zero sizes
	// batches adaptively against TargetBufferSize.
	BatchSize        int
	TargetBufferSize int64

	ArrowOptions []ixf.ArrowOption
	Resolver     *codepage.Resolver
	Allocator    memory.Allocator

	Logger  log.Logger
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer

	// OnBatch is called after every batch handed to the sink.
	OnBatch func(Progress)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		AcceptedCorruptionRate: ixf.DefaultAcceptedCorruptionRate,
		TargetBufferSize:       DefaultTargetBufferSize,
	}
}

// Progress reports a conversion in flight.
type Progress struct {
	Batches   int
	Healthy   int64
	Corrupted int64
	BytesRead int64
}

// Summary is the outcome of a conversion.
type Summary struct {
	Input        string
	Output       string
	Format       sinks.Format
	Table        string
	Stats        ixf.Stats
	Batches      int
	BytesWritten int64
	Duration     time.Duration
}

// Convert parses src and writes every healthy row to a sink of the given
// format. The output is discarded when parsing fails, including when the
// corruption rate is above the accepted one.
func Convert(ctx context.Context, src io.ReadSeeker, format sinks.Format, sinkOpts sinks.Options, opts Options) (*Summary, error) {
	sink, err := sinks.New(format)
	if err != nil {
		return nil, err
	}
	return ConvertTo(ctx, src, sink, format, sinkOpts, opts)
}

// ConvertTo is Convert with a caller-provided sink.
func ConvertTo(ctx context.Context, src io.ReadSeeker, sink sinks.Sink, format sinks.Format, sinkOpts sinks.Options, opts Options) (sum *Summary, err error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "input", opts.Input, "format", format)

	ctx, span := telemetry.StartConversion(ctx, opts.Tracer, opts.Input, format.String())
	sum = &Summary{Input: opts.Input, Output: sinkOpts.Path, Format: format}
	defer func() {
		sum.Duration = time.Since(start)
		telemetry.EndConversion(span, sum.Stats.Healthy, sum.Stats.Corrupted, err)
		if opts.Metrics != nil {
			opts.Metrics.ObserveFile(format.String(), sum.Table, sum.Duration, sum.Stats.BytesRead, sum.Stats.Rate(), err)
		}
	}()

	counter := &rowCounter{}
	parserOpts := []ixf.Option{
		ixf.WithAcceptedCorruptionRate(opts.AcceptedCorruptionRate),
		ixf.WithLogger(logger),
		ixf.WithObserver(counter),
	}
	if opts.Resolver != nil {
		parserOpts = append(parserOpts, ixf.WithResolver(opts.Resolver))
	}
	p := ixf.NewParser(src, parserOpts...)

	if err := p.Open(ctx); err != nil {
		return sum, err
	}
	sum.Table = p.Table().Name
	if opts.Metrics != nil {
		counter.target = opts.Metrics.ForTable(sum.Table)
	}
	span.SetAttributes(
		attribute.String("ixf.table", sum.Table),
		attribute.Int("ixf.columns", len(p.Columns())),
	)
	level.Info(logger).Log("msg", "converting", "table", sum.Table, "columns", len(p.Columns()), "output", sinkOpts.Path)

	rb := NewRecordBuilder(opts.Allocator, p.Schema(), opts.ArrowOptions...)
	defer rb.Release()

	if sinkOpts.Table == "" {
		sinkOpts.Table = sum.Table
	}
	sinkOpts.Metadata = withLineage(sinkOpts.Metadata, opts.Input, p)
	if err := sink.Open(ctx, rb.Schema(), sinkOpts); err != nil {
		return sum, err
	}
	fail := func(err error) (*Summary, error) {
		if abortErr := sink.Abort(); abortErr != nil {
			level.Warn(logger).Log("msg", "failed to discard output", "err", abortErr)
		}
		sum.Stats = p.Stats()
		return sum, err
	}

	sizer := AdaptiveBatch(opts.TargetBufferSize)
	if opts.BatchSize > 0 {
		sizer = FixedBatch(opts.BatchSize)
	}
	target := sizer.Next(p.Stats())
	rb.Reserve(target)

	flush := func() error {
		rec := rb.NewRecord()
		defer rec.Release()
		if err := sink.Write(ctx, rec); err != nil {
			return err
		}
		sum.Batches++
		stats := p.Stats()
		level.Debug(logger).Log("msg", "wrote batch", "batch", sum.Batches, "rows", rec.NumRows(), "avg_row_bytes", stats.AvgRowBytes())
		if opts.OnBatch != nil {
			opts.OnBatch(Progress{
				Batches:   sum.Batches,
				Healthy:   stats.Healthy,
				Corrupted: stats.Corrupted,
				BytesRead: stats.BytesRead,
			})
		}
		target = sizer.Next(stats)
		rb.Reserve(target)
		return nil
	}

	for row, err := range p.Rows(ctx) {
		if err != nil {
			return fail(err)
		}
		if err := rb.Append(row); err != nil {
			return fail(err)
		}
		if rb.Len() >= target {
			if err := flush(); err != nil {
				return fail(err)
			}
		}
	}
	if rb.Len() > 0 {
		if err := flush(); err != nil {
			return fail(err)
		}
	}

	res, err := sink.Close(ctx)
	if err != nil {
		return fail(err)
	}
	sum.Stats = p.Stats()
	sum.Output = res.Path
	sum.BytesWritten = res.BytesWritten

	level.Info(logger).Log("msg", "conversion finished",
		"table", sum.Table,
		"healthy", sum.Stats.Healthy,
		"corrupted", sum.Stats.Corrupted,
		"batches", sum.Batches,
		"bytes_written", sum.BytesWritten,
		"duration", time.Since(start))
	return sum, nil
}

// ConvertFile converts the IXF file at input.
func ConvertFile(ctx context.Context, input string, format sinks.Format, sinkOpts sinks.Options, opts Options) (*Summary, error) {
	f, err := os.Open(input)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, ixferrors.FileNotFound(input)
		case errors.Is(err, fs.ErrPermission):
			return nil, ixferrors.Wrap(err, ixferrors.CodeFilePermission, "permission denied").
				WithContext("path", input)
		}
		return nil, ixferrors.Wrap(err, ixferrors.CodeInvalidFormat, "failed to open input").
			WithContext("path", input)
	}
	defer f.Close()

	if opts.Input == "" {
		opts.Input = input
	}
	return Convert(ctx, f, format, sinkOpts, opts)
}

// OutputPath returns the default output path of input in dir: the
// lowercased base name without its .ixf suffix, with the extension of
// format.
func OutputPath(input, dir string, format sinks.Format) string {
	name := strings.TrimSuffix(strings.ToLower(filepath.Base(input)), ".ixf")
	return filepath.Join(dir, name+format.Extension())
}

func withLineage(meta map[string]string, input string, p *ixf.Parser) map[string]string {
	out := make(map[string]string, len(meta)+4)
	for k, v := range meta {
		out[k] = v
	}
	if input != "" {
		out["source_file"] = filepath.Base(input)
	}
	h, t := p.Header(), p.Table()
	out["table"] = t.Name
	out["ixf_product"] = h.Product
	out["ixf_created"] = h.Date + h.Time
	return out
}

// rowCounter forwards row outcomes once the table label is known.
type rowCounter struct {
	target ixf.Observer
}

func (c *rowCounter) ObserveRow(healthy bool) {
	if c.target != nil {
		c.target.ObserveRow(healthy)
	}
}
