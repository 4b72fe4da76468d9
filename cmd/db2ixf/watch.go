package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/ismailhammounou/db2ixf/pkg/sinks"
	"github.com/ismailhammounou/db2ixf/pkg/tui"
	"github.com/ismailhammounou/db2ixf/pkg/watch"
)

type watchFlags struct {
	outDir   string
	existing bool
	debounce time.Duration
}

func newWatchCmd(a *app) *cobra.Command {
	wf := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch FORMAT DIR",
		Short: "Convert IXF files as they land in a directory",
		Long: `Watch DIR and convert every .ixf file written to it once the file has
stopped changing. Runs until interrupted.

Examples:
  db2ixf watch parquet /data/incoming --out /data/lake
  db2ixf watch csv ./drop --existing --checkpoint file`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, wf, args)
		},
	}
	cmd.Flags().StringVarP(&wf.outDir, "out", "o", ".", "Output directory or s3:// prefix")
	cmd.Flags().BoolVar(&wf.existing, "existing", false, "Also convert the .ixf files already in DIR")
	cmd.Flags().DurationVar(&wf.debounce, "debounce", watch.DefaultDebounce, "Quiet period before a file is converted")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, wf *watchFlags, args []string) error {
	ctx := cmd.Context()
	format, err := sinks.ParseFormat(args[0])
	if err != nil {
		return err
	}
	sinkOpts, err := a.sinkOptions()
	if err != nil {
		return err
	}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
	}

	opts := []watch.Option{watch.WithDebounce(wf.debounce), watch.WithLogger(a.logger)}
	if wf.existing {
		opts = append(opts, watch.WithExisting())
	}
	w, err := watch.New(args[1], opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	w.OnFile = func(ctx context.Context, path string) error {
		r := a.process(ctx, ledger, path, wf.outDir, format, sinkOpts)
		if !a.flags.quiet && r.Err == nil {
			outMu.Lock()
			tui.PrintBatch(out, []tui.BatchResult{r})
			outMu.Unlock()
		}
		return r.Err
	}
	w.OnError = func(path string, err error) {
		level.Error(a.logger).Log("msg", "conversion failed", "input", path, "err", err)
	}

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
