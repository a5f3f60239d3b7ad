// Command atlasprep prepares single-cell expression matrices for reference
// mapping: it selects a donor cohort, aligns the genes to a stored reference
// panel and records every run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"atlasprep/pkg/domain"
)

var (
	exitFunc = os.Exit
	version  = "dev"
)

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code: 0 on success, 2 for
// usage, validation and lookup errors, 1 otherwise.
func run(args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(context.Background())
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		a.printer.failure(err)
		return exitCode(err)
	}
	return 0
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage), errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrLookup):
		return 2
	default:
		return 1
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "atlasprep",
		Short: "Prepare expression matrices for reference atlas mapping",
		Long: `atlasprep selects one donor's cells from an expression matrix and aligns
their genes to a stored reference panel: it detects whether columns are gene
ids or symbols, falls back to gene annotation columns, enforces a minimum
overlap, and zero-pads missing panel genes in panel order.`,
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.configure(cmd) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	a.bindGlobalFlags(root)
	root.AddCommand(
		newPrepareCmd(a),
		newPanelCmd(a),
		newRunsCmd(a),
		newVersionCmd(a),
	)
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the atlasprep version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintf(a.stdout, "atlasprep %s\n", version)
			return err
		},
	}
}
