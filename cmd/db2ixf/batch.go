package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/sinks"
	s3store "github.com/ismailhammounou/db2ixf/pkg/storage/s3"
	"github.com/ismailhammounou/db2ixf/pkg/tui"
	"github.com/ismailhammounou/db2ixf/pkg/watch"
)

type batchFlags struct {
	outDir   string
	workers  int
	failFast bool
}

func newBatchCmd(a *app) *cobra.Command {
	bf := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch FORMAT INPUT...",
		Short: "Convert many IXF files in parallel",
		Long: `Convert many IXF files to FORMAT in parallel.

Each INPUT is a directory (its .ixf files are converted), a glob pattern,
a file, or an s3:// prefix. With a checkpoint backend configured, inputs
already converted and unchanged since are skipped.

Examples:
  db2ixf batch parquet ./exports --out ./lake -j 8
  db2ixf batch csv "data/*.IXF" --out ./csv
  db2ixf batch parquet s3://exports/daily/ --out s3://lake/daily/ --checkpoint redis`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, bf, args)
		},
	}
	cmd.Flags().StringVarP(&bf.outDir, "out", "o", ".", "Output directory or s3:// prefix")
	cmd.Flags().IntVarP(&bf.workers, "jobs", "j", runtime.NumCPU(), "Number of parallel conversions")
	cmd.Flags().BoolVar(&bf.failFast, "fail-fast", false, "Stop at the first failed conversion")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, bf *batchFlags, args []string) error {
	ctx := cmd.Context()
	format, err := sinks.ParseFormat(args[0])
	if err != nil {
		return err
	}
	sinkOpts, err := a.sinkOptions()
	if err != nil {
		return err
	}

	inputs, err := a.expandInputs(ctx, args[1:])
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return ixferrors.New(ixferrors.CodeFileNotFound, "no input files found")
	}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
	}

	workers := bf.workers
	if workers < 1 {
		workers = 1
	}
	out := cmd.OutOrStdout()
	if !a.flags.quiet {
		fmt.Fprintf(out, "Converting %d files to %s with %d workers...\n", len(inputs), format, workers)
	}

	results := make([]tui.BatchResult, len(inputs))
	var completed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, input := range inputs {
		g.Go(func() error {
			r := a.process(gctx, ledger, input, bf.outDir, format, sinkOpts)
			results[i] = r
			done := completed.Add(1)
			if r.Err != nil {
				failed.Add(1)
				level.Error(a.logger).Log("msg", "conversion failed", "input", input, "err", r.Err)
				if bf.failFast {
					return r.Err
				}
			}
			level.Info(a.logger).Log("msg", "processed", "input", input, "done", done, "total", len(inputs))
			return nil
		})
	}
	waitErr := g.Wait()

	if !a.flags.quiet {
		tui.PrintBatch(out, results)
	}
	if waitErr != nil {
		return waitErr
	}
	if n := failed.Load(); n > 0 {
		return ixferrors.Newf(ixferrors.CodeParseFailed, "%d of %d conversions failed", n, len(inputs))
	}
	return nil
}

// expandInputs resolves directories, glob patterns and s3:// prefixes to
// the list of .ixf inputs, without duplicates.
func (a *app) expandInputs(ctx context.Context, args []string) ([]string, error) {
	seen := make(map[string]bool)
	var inputs []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			inputs = append(inputs, p)
		}
	}

	for _, arg := range args {
		if s3store.IsURI(arg) {
			client, err := a.s3Client(ctx)
			if err != nil {
				return nil, err
			}
			objects, err := client.ListIXF(ctx, arg)
			if err != nil {
				return nil, err
			}
			for _, o := range objects {
				add(o.URI())
			}
			continue
		}

		if info, err := os.Stat(arg); err == nil && info.IsDir() {
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if !e.IsDir() && watch.IsIXF(e.Name()) {
					add(filepath.Join(arg, e.Name()))
				}
			}
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, ixferrors.Wrapf(err, ixferrors.CodeInvalidConfig, "invalid glob pattern %q", arg)
		}
		if len(matches) == 0 {
			level.Warn(a.logger).Log("msg", "no files match", "pattern", arg)
		}
		for _, m := range matches {
			add(m)
		}
	}
	sort.Strings(inputs)
	return inputs, nil
}
