// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
)

// Environment variables read on top of the config files.
const (
	EnvAcceptedCorruptionRate = "DB2IXF_ACCEPTED_CORRUPTION_RATE"
	EnvBufferSize             = "DB2IXF_BUFFER_SIZE"
	EnvBatchSize              = "DB2IXF_BATCH_SIZE"
	EnvCompression            = "DB2IXF_COMPRESSION"
	EnvLogLevel               = "DB2IXF_LOG_LEVEL"
	EnvRedisAddr              = "DB2IXF_REDIS_ADDR"
	EnvS3Endpoint             = "DB2IXF_S3_ENDPOINT"
	EnvOTLPEndpoint           = "DB2IXF_OTLP_ENDPOINT"
	EnvMetricsAddr            = "DB2IXF_METRICS_ADDR"
)

// Config holds all db2ixf configuration.
type Config struct {
	Version int `yaml:"version"`

	Parsing    ParsingConfig    `yaml:"parsing"`
	Output     OutputConfig     `yaml:"output"`
	Log        LogConfig        `yaml:"log"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	S3         S3Config         `yaml:"s3"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ParsingConfig controls the IXF parser.
type ParsingConfig struct {
	AcceptedCorruptionRate int   `yaml:"accepted_corruption_rate"` // percent, 0-100
	TargetBufferSize       int64 `yaml:"target_buffer_size"`       // bytes per batch
	BatchSize              int   `yaml:"batch_size"`               // 0 = adaptive
}

// OutputConfig controls default sink behavior.
type OutputConfig struct {
	Dir            string `yaml:"dir"`
	Compression    string `yaml:"compression"` // snappy | zstd | gzip | brotli | lz4 | none
	ParquetVersion string `yaml:"parquet_version"`
	RowGroupSize   int    `yaml:"row_group_size"`
	CSVSeparator   string `yaml:"csv_separator"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// CheckpointConfig selects the conversion ledger backend.
type CheckpointConfig struct {
	Backend   string        `yaml:"backend"` // none | file | redis
	Dir       string        `yaml:"dir"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// S3Config for s3:// inputs and outputs.
type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"path_style"`
}

// TelemetryConfig for traces and metrics.
type TelemetryConfig struct {
	OTLPEndpoint  string  `yaml:"otlp_endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
	MetricsAddr   string  `yaml:"metrics_addr"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Version: 1,
		Parsing: ParsingConfig{
			AcceptedCorruptionRate: 1,
			TargetBufferSize:       4 << 20,
		},
		Output: OutputConfig{
			Compression:    "snappy",
			ParquetVersion: "2.6",
			RowGroupSize:   128 * 1024,
			CSVSeparator:   "|",
		},
		Log: LogConfig{
			Level: "warn",
		},
		Checkpoint: CheckpointConfig{
			Backend:   "none",
			Dir:       filepath.Join(homeDir, ".db2ixf", "ledger"),
			RedisAddr: "localhost:6379",
			KeyPrefix: "db2ixf:",
			TTL:       30 * 24 * time.Hour,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			SamplingRatio: 1.0,
		},
	}
}

// Validate rejects settings no conversion could run with.
func (c *Config) Validate() error {
	if c.Parsing.AcceptedCorruptionRate < 0 || c.Parsing.AcceptedCorruptionRate > 100 {
		return ixferrors.Newf(ixferrors.CodeInvalidConfig,
			"accepted corruption rate must be between 0 and 100, got %d", c.Parsing.AcceptedCorruptionRate)
	}
	if c.Parsing.TargetBufferSize < 0 {
		return ixferrors.Newf(ixferrors.CodeInvalidConfig, "negative target buffer size %d", c.Parsing.TargetBufferSize)
	}
	if c.Parsing.BatchSize < 0 {
		return ixferrors.Newf(ixferrors.CodeInvalidConfig, "negative batch size %d", c.Parsing.BatchSize)
	}
	if _, err := sinks.ParseCompression(c.Output.Compression); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeInvalidConfig, "output.compression")
	}
	if _, err := sinks.ParseParquetVersion(c.Output.ParquetVersion); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeInvalidConfig, "output.parquet_version")
	}
	if _, err := c.Separator(); err != nil {
		return err
	}
	switch c.Checkpoint.Backend {
	case "", "none", "file", "redis":
	default:
		return ixferrors.Newf(ixferrors.CodeInvalidConfig, "unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return ixferrors.Newf(ixferrors.CodeInvalidConfig, "sampling ratio must be between 0 and 1, got %g", c.Telemetry.SamplingRatio)
	}
	return nil
}

// Separator returns the CSV separator as a single rune.
func (c *Config) Separator() (rune, error) {
	s := c.Output.CSVSeparator
	if s == "" {
		return sinks.DefaultSeparator, nil
	}
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) || r == '"' || r == '\r' || r == '\n' {
		return 0, ixferrors.Newf(ixferrors.CodeInvalidConfig, "invalid csv separator %q", s)
	}
	return r, nil
}

// SinkOptions returns sink defaults for the configured output section.
func (c *Config) SinkOptions() (sinks.Options, error) {
	opts := sinks.DefaultOptions()
	comp, err := sinks.ParseCompression(c.Output.Compression)
	if err != nil {
		return opts, ixferrors.Wrap(err, ixferrors.CodeInvalidConfig, "output.compression")
	}
	sep, err := c.Separator()
	if err != nil {
		return opts, err
	}
	opts.Compression = comp
	opts.Separator = sep
	opts.ParquetVersion = c.Output.ParquetVersion
	if c.Output.RowGroupSize > 0 {
		opts.RowGroupSize = c.Output.RowGroupSize
	}
	return opts, nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
	search []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// WithPaths replaces the config file search path.
func (m *Manager) WithPaths(paths ...string) *Manager {
	m.search = paths
	return m
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	// Later files override earlier ones
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	if m.search != nil {
		return m.search
	}

	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/db2ixf/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".db2ixf", "config.yaml"))
	}

	// Project config
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".db2ixf.yaml"))
	}

	return paths
}

// loadFile decodes a config file over the current config. Keys absent
// from the file keep their value, so an explicit zero still overrides.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, m.config); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeInvalidConfig, "decode config").
			WithContext("path", path)
	}
	return nil
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() error {
	if v := os.Getenv(EnvAcceptedCorruptionRate); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ixferrors.Wrapf(err, ixferrors.CodeInvalidConfig, "%s=%q", EnvAcceptedCorruptionRate, v)
		}
		m.config.Parsing.AcceptedCorruptionRate = n
	}
	if v := os.Getenv(EnvBufferSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ixferrors.Wrapf(err, ixferrors.CodeInvalidConfig, "%s=%q", EnvBufferSize, v)
		}
		m.config.Parsing.TargetBufferSize = n
	}
	if v := os.Getenv(EnvBatchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ixferrors.Wrapf(err, ixferrors.CodeInvalidConfig, "%s=%q", EnvBatchSize, v)
		}
		m.config.Parsing.BatchSize = n
	}
	if v := os.Getenv(EnvCompression); v != "" {
		m.config.Output.Compression = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		m.config.Log.Level = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		m.config.Checkpoint.RedisAddr = v
	}
	if v := os.Getenv(EnvS3Endpoint); v != "" {
		m.config.S3.Endpoint = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		m.config.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		m.config.Telemetry.MetricsAddr = v
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path, or to the user config file
// when path is empty.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".db2ixf", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
