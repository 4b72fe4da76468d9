// db2ixf converts IBM DB2 PC/IXF export files to JSON, CSV, Parquet,
// Arrow, DuckDB and Excel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd, a := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if serr := a.shutdown(context.Background()); err == nil {
		err = serr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error categories to process exit codes.
func exitCode(err error) int {
	switch ixferrors.GetCode(err) {
	case ixferrors.CodeInvalidConfig:
		return 2
	case ixferrors.CodeFileNotFound, ixferrors.CodeFilePermission:
		return 3
	case ixferrors.CodeContextCanceled:
		return 130
	default:
		return 1
	}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	verbose      int
	configPath   string
	quiet        bool
	metricsAddr  string
	otlpEndpoint string
	checkpoint   string

	acceptedRate  int
	bufferSize    int64
	batchSize     int
	compression   string
	noNanoseconds bool
	timeAsString  bool
	metadata      []string
}

// newRootCmd builds the command tree. The returned app must be shut down
// after the command has run.
func newRootCmd() (*cobra.Command, *app) {
	flags := &globalFlags{}
	a := &app{flags: flags}

	rootCmd := &cobra.Command{
		Use:   "db2ixf",
		Short: "db2ixf - Convert DB2 PC/IXF files",
		Long: `db2ixf parses IBM DB2 PC/IXF export files and converts their rows to
JSON, JSON lines, CSV, Parquet, Arrow IPC, DuckDB or Excel.

Rows that cannot be decoded are dropped and counted. The conversion fails
when the share of dropped rows exceeds --accepted-rate percent.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.CountVarP(&flags.verbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	pf.StringVar(&flags.configPath, "config", "", "Config file (default: /etc/db2ixf, ~/.db2ixf and ./.db2ixf.yaml)")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Do not print progress or summaries")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	pf.StringVar(&flags.otlpEndpoint, "otlp-endpoint", "", "Export traces to this OTLP gRPC endpoint")
	pf.StringVar(&flags.checkpoint, "checkpoint", "", "Conversion ledger backend for batch and watch (none, file, redis)")
	pf.IntVar(&flags.acceptedRate, "accepted-rate", 1, "Accepted corruption rate in percent (0-100)")
	pf.Int64Var(&flags.bufferSize, "buffer-size", 4<<20, "Target in-memory batch size in bytes")
	pf.IntVarP(&flags.batchSize, "batch-size", "b", 0, "Rows per batch (0: derived from --buffer-size)")
	pf.StringVar(&flags.compression, "compression", "", "Compression for parquet and arrow (none, snappy, gzip, lz4, zstd, brotli)")
	pf.BoolVar(&flags.noNanoseconds, "no-nanoseconds", false, "Use microsecond timestamps")
	pf.BoolVar(&flags.timeAsString, "time-as-string", false, "Write TIME columns as HH:MM:SS strings")
	pf.StringArrayVar(&flags.metadata, "metadata", nil, "Key-value metadata for the output (format: key=value)")

	for _, f := range sinks.Formats() {
		rootCmd.AddCommand(newFormatCmd(a, f))
	}
	rootCmd.AddCommand(newInfoCmd(a))
	rootCmd.AddCommand(newBatchCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))

	return rootCmd, a
}
