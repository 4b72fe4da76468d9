// Package ixf reads IBM PC/IXF files: the header, table and column
// descriptor records, then the data records as a lazy sequence of rows.
package ixf

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ismailhammounou/db2ixf/pkg/codepage"
	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// DefaultAcceptedCorruptionRate is the corruption rate, in percent,
// tolerated before a parse fails.
const DefaultAcceptedCorruptionRate = 1

const readBufferSize = 64 * 1024

// State is the position of a Parser in the file.
type State uint8

const (
	StateBeforeHeader State = iota
	StateHeaderRead
	StateTableRead
	StateColumnsRead
	StateReadingRows
	StateDone
)

func (s State) String() string {
	switch s {
	case StateBeforeHeader:
		return "before-header"
	case StateHeaderRead:
		return "header-read"
	case StateTableRead:
		return "table-read"
	case StateColumnsRead:
		return "columns-read"
	case StateReadingRows:
		return "reading-rows"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Observer is notified once per attempted row.
type Observer interface {
	ObserveRow(healthy bool)
}

// Option configures a Parser.
type Option func(*Parser)

// WithAcceptedCorruptionRate sets the tolerated corruption rate (0-100).
func WithAcceptedCorruptionRate(rate int) Option {
	return func(p *Parser) {
		p.acceptedRate = rate
	}
}

// WithResolver sets the code page resolver used for text columns.
func WithResolver(r *codepage.Resolver) Option {
	return func(p *Parser) {
		p.dec.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(p *Parser) {
		p.logger = l
	}
}

// WithObserver registers a row observer.
func WithObserver(o Observer) Option {
	return func(p *Parser) {
		p.observer = o
	}
}

// Parser is a parsing session over one IXF stream. It owns the stream
// for its lifetime and is not safe for concurrent use.
type Parser struct {
	src          io.ReadSeeker
	rr           *RecordReader
	dec          decoder
	logger       log.Logger
	observer     Observer
	acceptedRate int

	state   State
	header  HeaderRecord
	table   TableRecord
	columns []Column
	schema  *Schema
	current dataRecord
	stats   Stats
}

// NewParser creates a parser reading from r.
func NewParser(r io.ReadSeeker, opts ...Option) *Parser {
	p := &Parser{
		src:          r,
		logger:       log.NewNopLogger(),
		acceptedRate: DefaultAcceptedCorruptionRate,
		stats:        Stats{CorruptedRows: roaring.New()},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dec.resolver == nil {
		p.dec.resolver = codepage.NewResolver(codepage.WithLogger(p.logger))
	}
	return p
}

// State returns the current session state.
func (p *Parser) State() State { return p.state }

// Header returns the header record. Valid after Open.
func (p *Parser) Header() HeaderRecord { return p.header }

// Table returns the table record. Valid after Open.
func (p *Parser) Table() TableRecord { return p.table }

// Columns returns the column descriptors. Valid after Open.
func (p *Parser) Columns() []Column { return p.columns }

// Schema returns the projected schema, nil before Open.
func (p *Parser) Schema() *Schema { return p.schema }

// Stats returns a snapshot of the row counters.
func (p *Parser) Stats() Stats {
	s := p.stats.clone()
	if p.rr != nil {
		s.BytesRead = p.rr.Offset()
	}
	return s
}

// Open rewinds the stream and reads the header, table and column
// descriptor records. Calling it again restarts the session.
func (p *Parser) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ixferrors.ContextCanceled("open", err)
	}
	if p.acceptedRate < 0 || p.acceptedRate > 100 {
		return ixferrors.Newf(ixferrors.CodeInvalidConfig,
			"accepted corruption rate must be between 0 and 100, got %d", p.acceptedRate)
	}

	if _, err := p.src.Seek(0, io.SeekStart); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeParseFailed, "seek to start")
	}
	p.rr = NewRecordReader(bufio.NewReaderSize(p.src, readBufferSize))
	p.state = StateBeforeHeader
	p.header, p.table, p.columns, p.schema = HeaderRecord{}, TableRecord{}, nil, nil
	p.current = dataRecord{}
	p.stats = Stats{CorruptedRows: roaring.New()}

	level.Debug(p.logger).Log("msg", "parse header record")
	raw, err := p.readFixed(HeaderLayout)
	if err != nil {
		return err
	}
	if raw.Type() != RecordHeader {
		return ixferrors.New(ixferrors.CodeInvalidFormat, "not an IXF file, header record expected").
			WithContext("record_type", string(raw.Bytes("IXFHRECT")))
	}
	if p.header, err = newHeader(raw); err != nil {
		return err
	}
	p.state = StateHeaderRead

	level.Debug(p.logger).Log("msg", "parse table record")
	if raw, err = p.readFixed(TableLayout); err != nil {
		return err
	}
	if raw.Type() != RecordTable {
		return ixferrors.New(ixferrors.CodeInvalidFormat, "table record expected").
			WithContext("record_type", string(raw.Bytes("IXFTRECT")))
	}
	if p.table, err = newTable(raw); err != nil {
		return err
	}
	p.state = StateTableRead

	level.Debug(p.logger).Log("msg", "parse column descriptor records", "columns", p.table.ColumnCount)
	p.columns = make([]Column, 0, p.table.ColumnCount)
	for i := 0; i < p.table.ColumnCount; i++ {
		col, err := p.readColumn()
		if err != nil {
			return err
		}
		p.columns = append(p.columns, col)
	}
	if len(p.columns) > 0 && p.columns[0].Position != 1 {
		return ixferrors.Newf(ixferrors.CodeInvalidColumnDescriptor,
			"first column %s must start at position 1, got %d", p.columns[0].Name, p.columns[0].Position)
	}
	p.state = StateColumnsRead

	if p.schema, err = Project(p.columns); err != nil {
		return err
	}
	p.stats.HeaderBytes = p.rr.Offset()

	level.Debug(p.logger).Log("msg", "opened ixf", "table", p.table.Name, "columns", len(p.columns))
	return nil
}

func (p *Parser) readFixed(layout Layout) (RawRecord, error) {
	raw, err := p.rr.ReadRecord(layout)
	if errors.Is(err, io.EOF) {
		return raw, ixferrors.Truncated(layout.Name, layout.Fields[0].Name, layout.Fields[0].Length, 0)
	}
	return raw, err
}

func (p *Parser) readColumn() (Column, error) {
	raw, err := p.readFixed(ColumnLayout)
	if err != nil {
		return Column{}, err
	}
	col, err := newColumn(raw)
	if err != nil {
		level.Error(p.logger).Log("msg", "invalid column descriptor", "err", err)
		return Column{}, err
	}
	recl, err := raw.Int("IXFCRECL")
	if err != nil {
		return Column{}, descriptorErr(err, raw)
	}
	if col.Tail, err = p.rr.ReadN(ColumnLayout.Name, recl-columnFixedLength); err != nil {
		return Column{}, err
	}
	return col, nil
}

// readData reads the next physical data record. io.EOF means the stream
// ended cleanly between records.
func (p *Parser) readData() (dataRecord, error) {
	raw, err := p.rr.ReadRecord(DataLayout)
	if err != nil {
		return dataRecord{}, err
	}
	rec := dataRecord{typ: raw.Type()}
	if rec.typ != RecordData {
		return rec, nil
	}
	recl, err := raw.Int("IXFDRECL")
	if err != nil {
		return dataRecord{}, err
	}
	if rec.cols, err = p.rr.ReadN(DataLayout.Name, recl-dataFixedLength); err != nil {
		return dataRecord{}, err
	}
	return rec, nil
}

// rowResult is the outcome of assembling one row.
type rowResult struct {
	row     Row
	end     bool
	corrupt *DecodeError
	err     error
}

var (
	nullIndicator    = [2]byte{0xFF, 0xFF}
	notNullIndicator = [2]byte{0x00, 0x00}
)

// nextRow assembles one logical row. After a row-local failure the
// remaining columns are still walked so that every physical record of
// the row is consumed.
func (p *Parser) nextRow() rowResult {
	row := newRow(len(p.columns))
	var bad *DecodeError

	for i := range p.columns {
		col := &p.columns[i]

		if col.Position == 1 {
			rec, err := p.readData()
			if errors.Is(err, io.EOF) {
				if i == 0 {
					return rowResult{end: true}
				}
				// stream ended between the physical records of one row
				return rowResult{err: ixferrors.Truncated(DataLayout.Name, col.Name, dataFixedLength, 0)}
			}
			if err != nil {
				return rowResult{err: err}
			}
			p.current = rec
		}
		if p.current.typ != RecordData {
			level.Debug(p.logger).Log("msg", "end of data records", "record_type", string(p.current.typ))
			return rowResult{end: true}
		}
		if bad != nil {
			continue
		}

		data := p.current.cols
		pos := col.Position - 1

		if col.Nullable {
			ind, err := span(col, data, pos, 2)
			if err != nil {
				bad = err.(*DecodeError)
				continue
			}
			switch [2]byte(ind) {
			case nullIndicator:
				row.set(col.Name, nil)
				continue
			case notNullIndicator:
				pos += 2
			default:
				bad = corrupt(col, "invalid null indicator 0x%02X%02X", ind[0], ind[1])
				continue
			}
		}

		v, err := p.dec.decode(col, data, pos)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				bad = de
				continue
			}
			return rowResult{err: err}
		}
		row.set(col.Name, v)
	}

	if bad != nil {
		return rowResult{corrupt: bad}
	}
	return rowResult{row: row}
}

// Rows opens the file and yields its healthy rows. Corrupted rows are
// counted and skipped. A fatal error is yielded once and ends the
// sequence; this includes a corruption rate above the accepted one,
// reported after the last row.
func (p *Parser) Rows(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if err := p.Open(ctx); err != nil {
			yield(Row{}, err)
			return
		}
		if len(p.columns) == 0 {
			p.state = StateDone
			return
		}
		p.state = StateReadingRows
		level.Debug(p.logger).Log("msg", "parse data records")

		for {
			if err := ctx.Err(); err != nil {
				yield(Row{}, ixferrors.ContextCanceled("parse rows", err))
				return
			}

			res := p.nextRow()
			switch {
			case res.err != nil:
				p.state = StateDone
				level.Error(p.logger).Log("msg", "parsing failed", "err", res.err)
				yield(Row{}, res.err)
				return

			case res.end:
				p.state = StateDone
				if err := p.checkCorruption(); err != nil {
					yield(Row{}, err)
				}
				return

			case res.corrupt != nil:
				level.Warn(p.logger).Log("msg", "dropping corrupted row", "row", p.stats.Total(), "err", res.corrupt)
				p.stats.markCorrupted()
				if p.observer != nil {
					p.observer.ObserveRow(false)
				}

			default:
				p.stats.markHealthy()
				if p.observer != nil {
					p.observer.ObserveRow(true)
				}
				if !yield(res.row, nil) {
					return
				}
			}
		}
	}
}

func (p *Parser) checkCorruption() error {
	s := p.Stats()
	rate := s.Rate()
	level.Info(p.logger).Log("msg", "finished parsing",
		"healthy", s.Healthy, "corrupted", s.Corrupted, "rate", formatRate(rate))

	if rate <= float64(p.acceptedRate) {
		return nil
	}
	err := ixferrors.Newf(ixferrors.CodeCorruptionRate,
		"corruption rate %s%% > %d%% accepted, fix the data or raise the accepted rate",
		formatRate(rate), p.acceptedRate).
		WithContext("healthy", s.Healthy).
		WithContext("corrupted", s.Corrupted).
		WithContext("total", s.Total()).
		WithContext("rate", formatRate(rate)).
		WithContext("threshold", p.acceptedRate)
	level.Error(p.logger).Log("msg", "corruption rate exceeded", "err", err)
	return err
}

// Collect reads every healthy row into memory.
func (p *Parser) Collect(ctx context.Context) ([]Row, error) {
	var rows []Row
	for row, err := range p.Rows(ctx) {
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
