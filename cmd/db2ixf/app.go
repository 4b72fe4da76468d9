package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/ismailhammounou/db2ixf/internal/logging"
	"github.com/ismailhammounou/db2ixf/pkg/checkpoint"
	"github.com/ismailhammounou/db2ixf/pkg/config"
	"github.com/ismailhammounou/db2ixf/pkg/convert"
	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
	s3store "github.com/ismailhammounou/db2ixf/pkg/storage/s3"
	"github.com/ismailhammounou/db2ixf/pkg/telemetry"
	"github.com/ismailhammounou/db2ixf/pkg/tui"
)

// app holds what the commands share once flags and config are resolved.
type app struct {
	flags *globalFlags

	cfg      *config.Config
	logger   log.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	tracer   trace.Tracer

	closers []func(context.Context) error

	s3Mu sync.Mutex
	s3   *s3store.Client
}

// setup loads the configuration, applies flag overrides and starts the
// metrics server and the trace exporter when they are configured.
func (a *app) setup(cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := a.flags

	mgr := config.NewManager()
	if f.configPath != "" {
		if _, err := os.Stat(f.configPath); err != nil {
			return ixferrors.Wrap(err, ixferrors.CodeInvalidConfig, "config file").
				WithContext("path", f.configPath)
		}
		mgr.WithPaths(f.configPath)
	}
	if err := mgr.Load(); err != nil {
		return err
	}
	cfg := mgr.Get()
	a.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	lvl := cfg.Log.Level
	if f.verbose > 0 {
		lvl = logging.LevelFromVerbosity(f.verbose)
	}
	a.logger = logging.NewStderr(lvl)
	level.Debug(a.logger).Log("msg", "config loaded", "paths", strings.Join(mgr.GetPaths(), ","))

	a.registry = prometheus.NewRegistry()
	a.metrics = telemetry.NewMetrics(a.registry)
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := telemetry.ServeMetrics(srvCtx, addr, a.registry); err != nil {
				level.Error(a.logger).Log("msg", "metrics server", "addr", addr, "err", err)
			}
		}()
		a.closers = append(a.closers, func(context.Context) error {
			cancel()
			<-done
			return nil
		})
		level.Info(a.logger).Log("msg", "serving metrics", "addr", addr)
	}

	if endpoint := cfg.Telemetry.OTLPEndpoint; endpoint != "" {
		otlp := telemetry.DefaultOTLPConfig("db2ixf")
		otlp.Endpoint = endpoint
		otlp.ServiceVersion = version
		otlp.InsecureTLS = cfg.Telemetry.Insecure
		otlp.SamplingRatio = cfg.Telemetry.SamplingRatio
		shutdown, err := telemetry.InitOTLP(ctx, otlp)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, shutdown)
	}
	a.tracer = telemetry.Tracer()
	return nil
}

// applyFlags overrides config values with the flags set on the command
// line.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := a.flags
	changed := cmd.Flags().Changed
	if changed("accepted-rate") {
		cfg.Parsing.AcceptedCorruptionRate = f.acceptedRate
	}
	if changed("buffer-size") {
		cfg.Parsing.TargetBufferSize = f.bufferSize
	}
	if changed("batch-size") {
		cfg.Parsing.BatchSize = f.batchSize
	}
	if changed("compression") {
		cfg.Output.Compression = f.compression
	}
	if changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = f.metricsAddr
	}
	if changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint = f.otlpEndpoint
	}
	if changed("checkpoint") {
		cfg.Checkpoint.Backend = f.checkpoint
	}
}

func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// convertOptions returns the conversion options for input.
func (a *app) convertOptions(input string) convert.Options {
	opts := convert.DefaultOptions()
	opts.Input = input
	opts.AcceptedCorruptionRate = a.cfg.Parsing.AcceptedCorruptionRate
	opts.BatchSize = a.cfg.Parsing.BatchSize
	if a.cfg.Parsing.TargetBufferSize > 0 {
		opts.TargetBufferSize = a.cfg.Parsing.TargetBufferSize
	}
	if a.flags.noNanoseconds {
		opts.ArrowOptions = append(opts.ArrowOptions, ixf.WithoutNanoseconds())
	}
	if a.flags.timeAsString {
		opts.ArrowOptions = append(opts.ArrowOptions, ixf.TimeAsString())
	}
	opts.Logger = a.logger
	opts.Metrics = a.metrics
	opts.Tracer = a.tracer
	return opts
}

// sinkOptions returns the configured sink options with the --metadata
// pairs attached.
func (a *app) sinkOptions() (sinks.Options, error) {
	opts, err := a.cfg.SinkOptions()
	if err != nil {
		return opts, err
	}
	if md := parseMetadata(a.flags.metadata); len(md) > 0 {
		opts.Metadata = md
	}
	return opts, nil
}

// s3Client returns the S3 client, creating it on first use.
func (a *app) s3Client(ctx context.Context) (*s3store.Client, error) {
	a.s3Mu.Lock()
	defer a.s3Mu.Unlock()
	if a.s3 != nil {
		return a.s3, nil
	}
	cfg := s3store.DefaultConfig(a.cfg.S3.Region)
	cfg.Endpoint = a.cfg.S3.Endpoint
	cfg.UsePathStyle = a.cfg.S3.UsePathStyle
	client, err := s3store.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.s3 = client
	return client, nil
}

// openLedger opens the configured conversion ledger. It returns nil when
// the backend is "none".
func (a *app) openLedger(ctx context.Context) (*checkpoint.Ledger, error) {
	c := a.cfg.Checkpoint
	var backend checkpoint.Backend
	switch c.Backend {
	case "", "none":
		return nil, nil
	case "file":
		b, err := checkpoint.NewFileBackend(c.Dir)
		if err != nil {
			return nil, err
		}
		backend = b
	case "redis":
		rc := checkpoint.DefaultRedisConfig(c.RedisAddr)
		rc.Database = c.RedisDB
		if c.KeyPrefix != "" {
			rc.Prefix = c.KeyPrefix
		}
		if c.TTL > 0 {
			rc.TTL = c.TTL
		}
		b, err := checkpoint.NewRedisBackend(ctx, rc)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, ixferrors.Newf(ixferrors.CodeInvalidConfig, "unknown checkpoint backend %q", c.Backend)
	}
	level.Info(a.logger).Log("msg", "ledger opened", "backend", backend.Name())
	return checkpoint.New(backend, a.logger), nil
}

// defaultOutput returns the output of input inside dir. dir may be an
// s3:// prefix.
func defaultOutput(input, dir string, format sinks.Format) string {
	base := input
	if s3store.IsURI(input) {
		base = path.Base(input)
	}
	name := convert.OutputPath(base, "", format)
	if s3store.IsURI(dir) {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name)
}

// convert converts input to output. Either may be an s3:// URI: inputs
// are downloaded to a temporary file and outputs are written locally and
// uploaded once the sink has committed.
func (a *app) convert(ctx context.Context, input, output string, format sinks.Format, sinkOpts sinks.Options, onBatch func(convert.Progress)) (*convert.Summary, error) {
	if format == sinks.FormatIceberg && s3store.IsURI(output) {
		return nil, ixferrors.New(ixferrors.CodeInvalidConfig, "iceberg tables are written to local directories only")
	}
	local := input
	if s3store.IsURI(input) {
		client, err := a.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		tmp, err := client.Download(ctx, input, "")
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp)
		local = tmp
	}

	target := output
	if s3store.IsURI(output) {
		dir, err := os.MkdirTemp("", "db2ixf-out-")
		if err != nil {
			return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "staging directory")
		}
		defer os.RemoveAll(dir)
		target = filepath.Join(dir, path.Base(output))
	} else if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "output directory").
			WithContext("path", output)
	}

	sinkOpts.Path = target
	opts := a.convertOptions(input)
	opts.OnBatch = onBatch
	sum, err := convert.ConvertFile(ctx, local, format, sinkOpts, opts)
	if err != nil {
		return sum, err
	}

	if s3store.IsURI(output) {
		client, err := a.s3Client(ctx)
		if err != nil {
			return sum, err
		}
		if _, err := client.Upload(ctx, target, output, sinkOpts.Metadata); err != nil {
			return sum, err
		}
		sum.Output = output
	}
	return sum, nil
}

// fingerprint identifies the content of input for the ledger.
func (a *app) fingerprint(ctx context.Context, input string) (string, error) {
	if !s3store.IsURI(input) {
		return checkpoint.Fingerprint(input)
	}
	client, err := a.s3Client(ctx)
	if err != nil {
		return "", err
	}
	info, err := client.Stat(ctx, input)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s", info.Size, strings.Trim(info.ETag, `"`)), nil
}

// process converts one input of a batch or watch run, consulting the
// ledger when one is open.
func (a *app) process(ctx context.Context, ledger *checkpoint.Ledger, input, outDir string, format sinks.Format, sinkOpts sinks.Options) tui.BatchResult {
	res := tui.BatchResult{Input: input}
	output := defaultOutput(input, outDir, format)

	var entry *checkpoint.Entry
	if ledger != nil {
		fp, err := a.fingerprint(ctx, input)
		if err != nil {
			res.Err = err
			return res
		}
		entry, err = ledger.Begin(ctx, input, fp, output, format.String())
		switch {
		case errors.Is(err, checkpoint.ErrAlreadyConverted):
			res.Skipped = true
			return res
		case errors.Is(err, checkpoint.ErrLocked):
			res.Skipped = true
			res.Reason = "converting elsewhere"
			return res
		case err != nil:
			res.Err = err
			return res
		}
	}

	sum, err := a.convert(ctx, input, output, format, sinkOpts, nil)
	res.Summary, res.Err = sum, err

	if entry != nil {
		var healthy, corrupted int64
		if sum != nil {
			healthy, corrupted = sum.Stats.Healthy, sum.Stats.Corrupted
		}
		// the conversion outcome is recorded even when ctx was cancelled
		if ferr := ledger.Finish(context.WithoutCancel(ctx), entry, healthy, corrupted, err); ferr != nil {
			level.Warn(a.logger).Log("msg", "ledger update failed", "input", input, "err", ferr)
		}
	}
	return res
}

// parseMetadata parses key=value pairs.
func parseMetadata(flags []string) map[string]string {
	metadata := make(map[string]string)
	for _, flag := range flags {
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		}
	}
	return metadata
}
