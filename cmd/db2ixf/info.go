package main

import (
	"os"

	"github.com/spf13/cobra"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
	s3store "github.com/ismailhammounou/db2ixf/pkg/storage/s3"
	"github.com/ismailhammounou/db2ixf/pkg/tui"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "Display the header, table and columns of an IXF file",
		Long: `Read the header, table and column descriptor records of an IXF file
and print them with the Arrow type each column converts to. Data records
are not read.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd, args[0])
		},
	}
}

func (a *app) runInfo(cmd *cobra.Command, input string) error {
	ctx := cmd.Context()

	local := input
	if s3store.IsURI(input) {
		client, err := a.s3Client(ctx)
		if err != nil {
			return err
		}
		tmp, err := client.Download(ctx, input, "")
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		local = tmp
	}

	f, err := os.Open(local)
	if err != nil {
		if os.IsNotExist(err) {
			return ixferrors.FileNotFound(input)
		}
		return ixferrors.Wrap(err, ixferrors.CodeFilePermission, "open input").WithContext("path", input)
	}
	defer f.Close()

	p := ixf.NewParser(f, ixf.WithLogger(a.logger))
	if err := p.Open(ctx); err != nil {
		return err
	}
	tui.PrintInfo(cmd.OutOrStdout(), input, p)
	return nil
}
