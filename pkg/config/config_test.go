package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1, cfg.Parsing.AcceptedCorruptionRate)
	require.EqualValues(t, 4<<20, cfg.Parsing.TargetBufferSize)
	require.Zero(t, cfg.Parsing.BatchSize)
	require.Equal(t, "|", cfg.Output.CSVSeparator)
}

func TestLoad_Layers(t *testing.T) {
	system := writeYAML(t, `
parsing:
  accepted_corruption_rate: 5
output:
  compression: zstd
`)
	project := writeYAML(t, `
parsing:
  accepted_corruption_rate: 0
checkpoint:
  backend: redis
`)
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	m := NewManager().WithPaths(system, missing, project)
	require.NoError(t, m.Load())

	cfg := m.Get()
	require.Zero(t, cfg.Parsing.AcceptedCorruptionRate, "explicit zero overrides")
	require.Equal(t, "zstd", cfg.Output.Compression)
	require.Equal(t, "redis", cfg.Checkpoint.Backend)
	require.Equal(t, "2.6", cfg.Output.ParquetVersion, "untouched default")
	require.Equal(t, []string{system, project}, m.GetPaths())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv(EnvAcceptedCorruptionRate, "10")
	t.Setenv(EnvBufferSize, "1024")
	t.Setenv(EnvBatchSize, "500")

	m := NewManager().WithPaths(writeYAML(t, "parsing:\n  accepted_corruption_rate: 3\n"))
	require.NoError(t, m.Load())
	require.Equal(t, 10, m.Get().Parsing.AcceptedCorruptionRate)
	require.EqualValues(t, 1024, m.Get().Parsing.TargetBufferSize)
	require.Equal(t, 500, m.Get().Parsing.BatchSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  string
		yaml string
	}{
		{name: "rate above 100", env: "101"},
		{name: "rate below 0", env: "-1"},
		{name: "rate not a number", env: "lots"},
		{name: "bad yaml", yaml: "parsing: [\n"},
		{name: "bad compression", yaml: "output:\n  compression: rar\n"},
		{name: "bad parquet version", yaml: "output:\n  parquet_version: \"3.0\"\n"},
		{name: "bad separator", yaml: "output:\n  csv_separator: \"ab\"\n"},
		{name: "bad backend", yaml: "checkpoint:\n  backend: etcd\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv(EnvAcceptedCorruptionRate, tt.env)
			}
			var paths []string
			if tt.yaml != "" {
				paths = append(paths, writeYAML(t, tt.yaml))
			}
			err := NewManager().WithPaths(paths...).Load()
			require.Error(t, err)
			require.True(t, ixferrors.IsCode(err, ixferrors.CodeInvalidConfig), err.Error())
		})
	}
}

func TestSinkOptions(t *testing.T) {
	cfg := Default()
	cfg.Output.Compression = "gzip"
	cfg.Output.CSVSeparator = `\t`

	opts, err := cfg.SinkOptions()
	require.NoError(t, err)
	require.Equal(t, sinks.CompressionGzip, opts.Compression)
	require.Equal(t, '\t', opts.Separator)
	require.Equal(t, "2.6", opts.ParquetVersion)
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m := NewManager()
	m.Get().Parsing.AcceptedCorruptionRate = 7
	require.NoError(t, m.Save(path))

	loaded := NewManager().WithPaths(path)
	require.NoError(t, loaded.Load())
	require.Equal(t, 7, loaded.Get().Parsing.AcceptedCorruptionRate)
}
