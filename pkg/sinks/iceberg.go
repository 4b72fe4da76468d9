package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/google/uuid"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// DefaultTargetFileRows is the number of rows after which the Iceberg sink
// starts a new data file.
const DefaultTargetFileRows = 1_000_000

// IcebergSink writes an Apache Iceberg table directory: Parquet data files
// under data/ and JSON table metadata under metadata/. Writing into an
// existing table appends a snapshot. The table only changes when Close
// commits the new metadata version; Abort removes the data files written.
type IcebergSink struct {
	mu sync.Mutex

	opts           Options
	TargetFileRows int64

	tableDir string
	schema   *arrow.Schema
	current  *ParquetSink
	fileRows int64

	dataFiles []DataFile
	rows      int64
	bytes     int64
	startTime time.Time
	open      bool
}

// DataFile is a manifest entry for one Parquet data file.
type DataFile struct {
	FilePath      string `json:"file_path"`
	FileFormat    string `json:"file_format"`
	RecordCount   int64  `json:"record_count"`
	FileSizeBytes int64  `json:"file_size_in_bytes"`
}

// IcebergMetadata is the table metadata file.
type IcebergMetadata struct {
	FormatVersion     int               `json:"format-version"`
	TableUUID         string            `json:"table-uuid"`
	Location          string            `json:"location"`
	LastSequence      int64             `json:"last-sequence-number"`
	LastUpdatedMs     int64             `json:"last-updated-ms"`
	LastColumnID      int               `json:"last-column-id"`
	Schemas           []SchemaSpec      `json:"schemas"`
	CurrentSchemaID   int               `json:"current-schema-id"`
	PartitionSpecs    []PartitionSpec   `json:"partition-specs"`
	DefaultSpecID     int               `json:"default-spec-id"`
	LastPartitionID   int               `json:"last-partition-id"`
	Properties        map[string]string `json:"properties"`
	CurrentSnapshotID *int64            `json:"current-snapshot-id"`
	Snapshots         []Snapshot        `json:"snapshots"`
	SnapshotLog       []SnapshotLog     `json:"snapshot-log"`
}

// SchemaSpec is an Iceberg schema.
type SchemaSpec struct {
	SchemaID int     `json:"schema-id"`
	Type     string  `json:"type"`
	Fields   []Field `json:"fields"`
}

// Field is an Iceberg schema field.
type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Type     string `json:"type"`
}

// PartitionSpec is an Iceberg partition specification. Tables written
// here are unpartitioned.
type PartitionSpec struct {
	SpecID int   `json:"spec-id"`
	Fields []any `json:"fields"`
}

// Snapshot is one committed version of the table.
type Snapshot struct {
	SnapshotID     int64             `json:"snapshot-id"`
	ParentID       *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber int64             `json:"sequence-number"`
	TimestampMs    int64             `json:"timestamp-ms"`
	Summary        map[string]string `json:"summary"`
	ManifestList   string            `json:"manifest-list"`
	SchemaID       int               `json:"schema-id"`
}

// SnapshotLog is a snapshot log entry.
type SnapshotLog struct {
	TimestampMs int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

// Manifest lists the data files added by a snapshot.
type Manifest struct {
	SnapshotID int64           `json:"snapshot-id"`
	Entries    []ManifestEntry `json:"entries"`
}

// ManifestEntry is a manifest entry.
type ManifestEntry struct {
	Status   int      `json:"status"` // 0=EXISTING, 1=ADDED, 2=DELETED
	DataFile DataFile `json:"data_file"`
}

// NewIcebergSink creates an Iceberg table sink.
func NewIcebergSink() *IcebergSink {
	return &IcebergSink{TargetFileRows: DefaultTargetFileRows}
}

// Open checks the table directory and, when the table exists, that its
// current schema matches.
func (s *IcebergSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Path == "" {
		return ixferrors.New(ixferrors.CodeWriteFailed, "iceberg output needs a table directory")
	}
	for _, dir := range []string{"data", "metadata"} {
		if err := os.MkdirAll(filepath.Join(opts.Path, dir), 0o755); err != nil {
			return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create table directory").
				WithContext("path", opts.Path)
		}
	}

	prev, _, err := readCurrentMetadata(opts.Path)
	if err != nil {
		return err
	}
	if prev != nil {
		if err := sameFields(currentSchema(prev), icebergFields(schema)); err != nil {
			return err
		}
	}

	s.opts = opts
	s.tableDir = opts.Path
	s.schema = schema
	s.dataFiles = nil
	s.rows, s.bytes = 0, 0
	s.startTime = time.Now()
	s.open = true
	return nil
}

// Write appends a batch to the current data file, rolling over to a new
// file once TargetFileRows is reached.
func (s *IcebergSink) Write(ctx context.Context, batch arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return errNotOpen
	}
	if s.current == nil {
		if err := s.startFile(ctx); err != nil {
			return err
		}
	}
	if err := s.current.Write(ctx, batch); err != nil {
		return err
	}
	s.fileRows += batch.NumRows()
	if s.TargetFileRows > 0 && s.fileRows >= s.TargetFileRows {
		return s.finishFile(ctx)
	}
	return nil
}

// Flush ends the current row group of the open data file.
func (s *IcebergSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return errNotOpen
	}
	if s.current == nil {
		return nil
	}
	return s.current.Flush(ctx)
}

func (s *IcebergSink) startFile(ctx context.Context) error {
	name := fmt.Sprintf("%05d-%s.parquet", len(s.dataFiles), uuid.NewString())
	opts := s.opts
	opts.Path = filepath.Join(s.tableDir, "data", name)
	p := NewParquetSink()
	if err := p.Open(ctx, s.schema, opts); err != nil {
		return err
	}
	s.current = p
	s.fileRows = 0
	return nil
}

func (s *IcebergSink) finishFile(ctx context.Context) error {
	res, err := s.current.Close(ctx)
	s.current = nil
	if err != nil {
		return err
	}
	s.dataFiles = append(s.dataFiles, DataFile{
		FilePath:      "data/" + filepath.Base(res.Path),
		FileFormat:    "PARQUET",
		RecordCount:   res.RowsWritten,
		FileSizeBytes: res.BytesWritten,
	})
	s.rows += res.RowsWritten
	s.bytes += res.BytesWritten
	return nil
}

// Close writes the last data file, the manifest and the next metadata
// version.
func (s *IcebergSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, errNotOpen
	}
	if s.current != nil {
		if err := s.finishFile(ctx); err != nil {
			s.removeDataFiles()
			return nil, err
		}
	}
	if err := s.commit(); err != nil {
		s.removeDataFiles()
		return nil, err
	}
	s.open = false
	return &Result{
		Path:         s.tableDir,
		Format:       FormatIceberg,
		RowsWritten:  s.rows,
		BytesWritten: s.bytes,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort removes the data files written since Open. The table metadata is
// left as it was.
func (s *IcebergSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.current != nil {
		err = s.current.Abort()
		s.current = nil
	}
	s.removeDataFiles()
	s.open = false
	return err
}

func (s *IcebergSink) removeDataFiles() {
	for _, df := range s.dataFiles {
		os.Remove(filepath.Join(s.tableDir, filepath.FromSlash(df.FilePath)))
	}
	s.dataFiles = nil
}

func (s *IcebergSink) commit() error {
	metaDir := filepath.Join(s.tableDir, "metadata")
	prev, version, err := readCurrentMetadata(s.tableDir)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	snapshotID := time.Now().UnixNano()

	manifest := Manifest{SnapshotID: snapshotID, Entries: make([]ManifestEntry, len(s.dataFiles))}
	for i, df := range s.dataFiles {
		manifest.Entries[i] = ManifestEntry{Status: 1, DataFile: df}
	}
	manifestName := fmt.Sprintf("snap-%d-manifest.json", snapshotID)
	if err := writeJSONAtomic(filepath.Join(metaDir, manifestName), manifest); err != nil {
		return err
	}

	meta := prev
	if meta == nil {
		fields := icebergFields(s.schema)
		meta = &IcebergMetadata{
			FormatVersion:   2,
			TableUUID:       uuid.NewString(),
			Location:        s.tableDir,
			LastColumnID:    len(fields),
			Schemas:         []SchemaSpec{{SchemaID: 0, Type: "struct", Fields: fields}},
			PartitionSpecs:  []PartitionSpec{{SpecID: 0, Fields: []any{}}},
			LastPartitionID: 999,
			Properties:      map[string]string{"write.format.default": "parquet"},
		}
		for k, v := range s.opts.Metadata {
			meta.Properties["db2ixf."+k] = v
		}
	}

	var totalRows, totalFiles int64
	var parent *int64
	if meta.CurrentSnapshotID != nil {
		id := *meta.CurrentSnapshotID
		parent = &id
		for _, snap := range meta.Snapshots {
			if snap.SnapshotID == id {
				totalRows, _ = strconv.ParseInt(snap.Summary["total-records"], 10, 64)
				totalFiles, _ = strconv.ParseInt(snap.Summary["total-data-files"], 10, 64)
			}
		}
	}
	totalRows += s.rows
	totalFiles += int64(len(s.dataFiles))

	meta.LastSequence++
	meta.LastUpdatedMs = now
	meta.CurrentSnapshotID = &snapshotID
	meta.Snapshots = append(meta.Snapshots, Snapshot{
		SnapshotID:     snapshotID,
		ParentID:       parent,
		SequenceNumber: meta.LastSequence,
		TimestampMs:    now,
		Summary: map[string]string{
			"operation":        "append",
			"added-data-files": strconv.Itoa(len(s.dataFiles)),
			"added-records":    strconv.FormatInt(s.rows, 10),
			"total-records":    strconv.FormatInt(totalRows, 10),
			"total-data-files": strconv.FormatInt(totalFiles, 10),
		},
		ManifestList: "metadata/" + manifestName,
		SchemaID:     meta.CurrentSchemaID,
	})
	meta.SnapshotLog = append(meta.SnapshotLog, SnapshotLog{TimestampMs: now, SnapshotID: snapshotID})

	next := version + 1
	if err := writeJSONAtomic(filepath.Join(metaDir, fmt.Sprintf("v%d.metadata.json", next)), meta); err != nil {
		return err
	}
	hint := filepath.Join(metaDir, "version-hint.text")
	if err := os.WriteFile(hint+".tmp", []byte(strconv.Itoa(next)), 0o644); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write version hint")
	}
	if _, err := renameInto(hint+".tmp", hint); err != nil {
		return err
	}
	return nil
}

// ReadIcebergMetadata returns the current metadata of the table in dir, or
// nil when dir holds no table yet.
func ReadIcebergMetadata(dir string) (*IcebergMetadata, error) {
	meta, _, err := readCurrentMetadata(dir)
	return meta, err
}

func readCurrentMetadata(dir string) (*IcebergMetadata, int, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata", "version-hint.text"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to read version hint")
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, 0, ixferrors.Wrapf(err, ixferrors.CodeInvalidFormat, "invalid version hint %q", data)
	}

	path := filepath.Join(dir, "metadata", fmt.Sprintf("v%d.metadata.json", version))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to read table metadata").
			WithContext("path", path)
	}
	var meta IcebergMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, 0, ixferrors.Wrap(err, ixferrors.CodeInvalidFormat, "invalid table metadata").
			WithContext("path", path)
	}
	return &meta, version, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to encode table metadata")
	}
	tmp := tempPath(path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to write table metadata").
			WithContext("path", path)
	}
	_, err = renameInto(tmp, path)
	return err
}

func currentSchema(meta *IcebergMetadata) []Field {
	for _, s := range meta.Schemas {
		if s.SchemaID == meta.CurrentSchemaID {
			return s.Fields
		}
	}
	return nil
}

func sameFields(have, want []Field) error {
	if len(have) != len(want) {
		return ixferrors.Newf(ixferrors.CodeWriteFailed,
			"table has %d columns, input has %d", len(have), len(want))
	}
	for i := range have {
		if have[i].Name != want[i].Name || have[i].Type != want[i].Type {
			return ixferrors.Newf(ixferrors.CodeWriteFailed,
				"column %d is %s %s in the table, %s %s in the input",
				i+1, have[i].Name, have[i].Type, want[i].Name, want[i].Type)
		}
	}
	return nil
}

func icebergFields(schema *arrow.Schema) []Field {
	fields := make([]Field, schema.NumFields())
	for i, f := range schema.Fields() {
		fields[i] = Field{ID: i + 1, Name: f.Name, Required: !f.Nullable, Type: icebergType(f.Type)}
	}
	return fields
}

// icebergType maps the Arrow types produced from IXF columns to Iceberg
// primitive types.
func icebergType(t arrow.DataType) string {
	switch t := t.(type) {
	case *arrow.Int8Type, *arrow.Int16Type, *arrow.Int32Type:
		return "int"
	case *arrow.Int64Type:
		return "long"
	case *arrow.Float32Type:
		return "float"
	case *arrow.Float64Type:
		return "double"
	case *arrow.BooleanType:
		return "boolean"
	case *arrow.Date32Type, *arrow.Date64Type:
		return "date"
	case *arrow.Time32Type, *arrow.Time64Type:
		return "time"
	case *arrow.TimestampType:
		return "timestamp"
	case *arrow.Decimal128Type:
		return fmt.Sprintf("decimal(%d, %d)", t.Precision, t.Scale)
	case *arrow.FixedSizeBinaryType:
		return fmt.Sprintf("fixed[%d]", t.ByteWidth)
	case *arrow.BinaryType, *arrow.LargeBinaryType:
		return "binary"
	default:
		return "string"
	}
}
