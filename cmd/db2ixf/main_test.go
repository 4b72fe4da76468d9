package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ismailhammounou/db2ixf/internal/ixftest"
	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
)

var peopleColumns = []ixftest.Column{
	{Name: "ID", Type: ixf.TypeInteger, Position: 1},
	{Name: "NAME", Type: ixf.TypeVarchar, Length: "00010", CodePage: 1208, Nullable: true, Position: 5},
}

func people(names ...string) *ixftest.Builder {
	b := ixftest.New("PEOPLE", peopleColumns...)
	for i, n := range names {
		b.Data(ixftest.Concat(ixftest.LE32(int32(i+1)), ixftest.NotNull(ixftest.Varchar(n, 10))))
	}
	return b.End()
}

// writeConfig writes a config file so tests do not pick up the user's.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	require.NoError(t, a.shutdown(context.Background()))
	return out.String(), err
}

func TestCSVCommand(t *testing.T) {
	in := people("alice", "bob").WriteFile(t, "PEOPLE.IXF")
	out := filepath.Join(t.TempDir(), "people.csv")

	stdout, err := run(t, "csv", in, out, "--config", writeConfig(t, ""), "-s", ";")
	require.NoError(t, err)
	require.Contains(t, stdout, "2 healthy, 0 corrupted, 2 total")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, []string{"ID;NAME", "1;alice", "2;bob"}, lines)
}

func TestFormatCommand_DefaultOutput(t *testing.T) {
	in := people("alice").WriteFile(t, "PEOPLE.IXF")
	dir := t.TempDir()
	t.Chdir(dir)

	stdout, err := run(t, "jsonline", in, "--config", writeConfig(t, ""), "-q")
	require.NoError(t, err)
	require.Empty(t, stdout)

	data, err := os.ReadFile(filepath.Join(dir, "people.jsonl"))
	require.NoError(t, err)
	require.JSONEq(t, `{"ID":1,"NAME":"alice"}`, strings.TrimSpace(string(data)))
}

func TestFormatCommand_MissingInput(t *testing.T) {
	_, err := run(t, "parquet", filepath.Join(t.TempDir(), "NONE.IXF"), "--config", writeConfig(t, ""), "-q")
	require.True(t, ixferrors.IsCode(err, ixferrors.CodeFileNotFound))
	require.Equal(t, 3, exitCode(err))
}

func TestInvalidAcceptedRate(t *testing.T) {
	in := people("alice").WriteFile(t, "PEOPLE.IXF")
	_, err := run(t, "csv", in, "--config", writeConfig(t, ""), "--accepted-rate", "101")
	require.True(t, ixferrors.IsCode(err, ixferrors.CodeInvalidConfig))
	require.Equal(t, 2, exitCode(err))
}

func TestMissingConfigFile(t *testing.T) {
	in := people("alice").WriteFile(t, "PEOPLE.IXF")
	_, err := run(t, "csv", in, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.True(t, ixferrors.IsCode(err, ixferrors.CodeInvalidConfig))
}

func TestInfoCommand(t *testing.T) {
	in := people("alice").WriteFile(t, "PEOPLE.IXF")
	stdout, err := run(t, "info", in, "--config", writeConfig(t, ""))
	require.NoError(t, err)
	require.Contains(t, stdout, "TESTS.PEOPLE")
	require.Contains(t, stdout, "VARCHAR")
}

func TestBatchCommand_SkipsConverted(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "A.IXF"), people("alice").Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "B.ixf"), people("bob", "carol").Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "notes.txt"), []byte("x"), 0o644))

	cfg := writeConfig(t, "checkpoint:\n  backend: file\n  dir: "+filepath.Join(t.TempDir(), "ledger")+"\n")
	args := []string{"batch", "csv", inDir, "--out", outDir, "-j", "2", "--config", cfg}

	stdout, err := run(t, args...)
	require.NoError(t, err)
	require.Contains(t, stdout, "2 files")
	require.FileExists(t, filepath.Join(outDir, "a.csv"))
	require.FileExists(t, filepath.Join(outDir, "b.csv"))

	stdout, err = run(t, args...)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(stdout, "already converted"))
}

func TestBatchCommand_Failure(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "BAD.IXF"), []byte("not an ixf file"), 0o644))

	_, err := run(t, "batch", "json", inDir, "--out", outDir, "--config", writeConfig(t, ""), "-q")
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(outDir, "bad.json"))
}

func TestBatchCommand_NoInputs(t *testing.T) {
	_, err := run(t, "batch", "csv", filepath.Join(t.TempDir(), "*.IXF"), "--config", writeConfig(t, ""))
	require.True(t, ixferrors.IsCode(err, ixferrors.CodeFileNotFound))
}

func TestDefaultOutput(t *testing.T) {
	require.Equal(t, filepath.Join("/out", "sales.parquet"),
		defaultOutput("/in/SALES.IXF", "/out", sinks.FormatParquet))
	require.Equal(t, "s3://lake/daily/sales.csv",
		defaultOutput("s3://exports/2024/SALES.IXF", "s3://lake/daily/", sinks.FormatCSV))
	require.Equal(t, "s3://lake/sales.jsonl",
		defaultOutput("/in/sales.ixf", "s3://lake", sinks.FormatJSONL))
}

func TestParseMetadata(t *testing.T) {
	require.Equal(t, map[string]string{"owner": "etl", "k": "a=b"},
		parseMetadata([]string{"owner=etl", "k=a=b", "bad"}))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 130, exitCode(ixferrors.ContextCanceled("convert", context.Canceled)))
	require.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestIcebergCommand_AppendsSnapshots(t *testing.T) {
	in := people("alice", "bob").WriteFile(t, "PEOPLE.IXF")
	table := filepath.Join(t.TempDir(), "people")
	cfg := writeConfig(t, "")

	for i := 0; i < 2; i++ {
		_, err := run(t, "iceberg", in, table, "--config", cfg, "-q")
		require.NoError(t, err)
	}

	meta, err := sinks.ReadIcebergMetadata(table)
	require.NoError(t, err)
	require.Len(t, meta.Snapshots, 2)
	require.Equal(t, "4", meta.Snapshots[1].Summary["total-records"])
}

func TestIcebergCommand_RejectsS3Output(t *testing.T) {
	in := people("alice").WriteFile(t, "PEOPLE.IXF")
	_, err := run(t, "iceberg", in, "s3://lake/people/", "--config", writeConfig(t, ""), "-q")
	require.True(t, ixferrors.IsCode(err, ixferrors.CodeInvalidConfig))
}
