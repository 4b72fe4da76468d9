package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ismailhammounou/db2ixf/pkg/convert"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
	s3store "github.com/ismailhammounou/db2ixf/pkg/storage/s3"
	"github.com/ismailhammounou/db2ixf/pkg/tui"
)

var formatAliases = map[sinks.Format][]string{
	sinks.FormatJSONL: {"jsonline"},
	sinks.FormatArrow: {"ipc", "feather"},
	sinks.FormatXLSX:  {"excel"},
}

var formatDescriptions = map[sinks.Format]string{
	sinks.FormatJSON:    "a JSON array of row objects",
	sinks.FormatJSONL:   "JSON lines, one row object per line",
	sinks.FormatCSV:     "CSV with a header row",
	sinks.FormatParquet: "Apache Parquet",
	sinks.FormatArrow:   "an Arrow IPC file",
	sinks.FormatDuckDB:  "a DuckDB database table",
	sinks.FormatXLSX:    "an Excel workbook",
	sinks.FormatIceberg: "an Apache Iceberg table directory",
}

type formatFlags struct {
	separator      string
	parquetVersion string
	rowGroupSize   int
}

// newFormatCmd returns the command converting one file to format.
func newFormatCmd(a *app, format sinks.Format) *cobra.Command {
	ff := &formatFlags{}
	cmd := &cobra.Command{
		Use:     format.String() + " FILE [OUTPUT]",
		Aliases: formatAliases[format],
		Short:   fmt.Sprintf("Convert an IXF file to %s", formatDescriptions[format]),
		Long: fmt.Sprintf(`Convert an IXF file to %s.

FILE and OUTPUT may be local paths or s3:// URIs. OUTPUT defaults to the
lowercased file name with the %s extension in the current directory.

Examples:
  db2ixf %[3]s SALES.IXF
  db2ixf %[3]s SALES.IXF out/sales%[2]s
  db2ixf %[3]s s3://exports/SALES.IXF s3://lake/sales/`,
			formatDescriptions[format], format.Extension(), format.String()),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd, format, ff, args)
		},
	}

	switch format {
	case sinks.FormatCSV:
		cmd.Flags().StringVarP(&ff.separator, "sep", "s", string(sinks.DefaultSeparator), `Field separator (one character, \t for tab)`)
	case sinks.FormatParquet, sinks.FormatIceberg:
		cmd.Flags().StringVarP(&ff.parquetVersion, "parquet-version", "p", "2.6", "Parquet format version (1.0, 2.4, 2.6)")
		cmd.Flags().IntVar(&ff.rowGroupSize, "row-group-size", 0, "Rows per row group (0: configured default)")
	}
	return cmd
}

func (a *app) runConvert(cmd *cobra.Command, format sinks.Format, ff *formatFlags, args []string) error {
	ctx := cmd.Context()
	input := args[0]

	if cmd.Flags().Changed("sep") {
		a.cfg.Output.CSVSeparator = ff.separator
	}
	if cmd.Flags().Changed("parquet-version") {
		a.cfg.Output.ParquetVersion = ff.parquetVersion
	}
	if ff.rowGroupSize > 0 {
		a.cfg.Output.RowGroupSize = ff.rowGroupSize
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	sinkOpts, err := a.sinkOptions()
	if err != nil {
		return err
	}

	var output string
	if len(args) > 1 {
		output = args[1]
		if s3store.IsURI(output) && output[len(output)-1] == '/' {
			output = defaultOutput(input, output, format)
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		output = defaultOutput(input, cwd, format)
	}

	var onBatch func(convert.Progress)
	if !a.flags.quiet && !s3store.IsURI(input) {
		if info, err := os.Stat(input); err == nil {
			bar := tui.ShowProgress(cmd.ErrOrStderr(), info.Size(), input)
			defer bar.Finish()
			onBatch = tui.ProgressFunc(bar)
		}
	}

	sum, err := a.convert(ctx, input, output, format, sinkOpts, onBatch)
	if err != nil {
		return err
	}
	if !a.flags.quiet {
		tui.PrintSummary(cmd.OutOrStdout(), sum)
	}
	return nil
}
