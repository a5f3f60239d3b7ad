package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"atlasprep/internal/ingest"
	"atlasprep/pkg/reference"
)

func newPanelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Manage stored reference panels",
	}
	cmd.AddCommand(newPanelImportCmd(a), newPanelListCmd(a), newPanelShowCmd(a), newPanelDeleteCmd(a))
	return cmd
}

func newPanelImportCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a reference panel CSV (gene_ids and gene_symbols columns)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			p, err := ingest.ReadPanelFile(args[0], name)
			if err != nil {
				return err
			}
			rec, res, err := svc.ImportPanel(cmd.Context(), p)
			if err != nil {
				return err
			}
			for _, v := range res.Violations {
				a.printer.warning("%s", v.Message)
			}
			a.printer.success("panel %s imported", rec.Name)
			a.printer.field("genes", len(rec.Genes))
			a.printer.field("checksum", rec.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "panel name (default: file name without extensions)")
	return cmd
}

func newPanelListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored reference panels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			tw := a.printer.table()
			fmt.Fprintln(tw, "NAME\tGENES\tCHECKSUM\tIMPORTED")
			for _, rec := range svc.ListPanels() {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", rec.Name, len(rec.Genes), shortChecksum(rec.Checksum), rec.ImportedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newPanelShowCmd(a *app) *cobra.Command {
	var genes bool
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show a stored reference panel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			p, err := svc.Panel(args[0])
			if err != nil {
				return err
			}
			if genes {
				return reference.WriteCSV(a.stdout, p)
			}
			a.printer.field("name", p.Name())
			a.printer.field("genes", p.Len())
			a.printer.field("checksum", p.Checksum())
			return nil
		},
	}
	cmd.Flags().BoolVar(&genes, "genes", false, "print the gene table as CSV")
	return cmd
}

func newPanelDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a reference panel that no run references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := svc.DeletePanel(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.success("panel %s deleted", args[0])
			return nil
		},
	}
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
