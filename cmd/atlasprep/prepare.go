package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"atlasprep/internal/adapters/export"
	"atlasprep/internal/core"
	"atlasprep/internal/ingest"
	"atlasprep/pkg/domain"
	"atlasprep/pkg/expression"
)

type prepareOptions struct {
	matrix     string
	metadata   string
	cohorts    []string
	column     string
	dataset    string
	panel      string
	reference  string
	minOverlap int
	formats    []string
	asJSON     bool

	minOverlapSet bool
}

func newPrepareCmd(a *app) *cobra.Command {
	var opts prepareOptions
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Select cohorts and align them to a reference panel",
		Long: `Reads an expression matrix (dense CSV, or a 10x directory holding matrix.mtx,
features.tsv and barcodes.tsv), optionally restricts it to the cells of one or
more cohorts listed in a metadata CSV, and aligns each result to a reference
panel. Every attempt is recorded as a run; --format exports the aligned matrix.

Examples:
  atlasprep prepare --matrix filtered_feature_bc_matrix --metadata meta.csv.gz \
    --cohort D12_4 --dataset delorey --reference hlca_genes.csv --format mtx
  atlasprep prepare --matrix counts.csv --panel hlca_genes --min-overlap 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.minOverlapSet = cmd.Flags().Changed("min-overlap")
			return runPrepare(cmd.Context(), a, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.matrix, "matrix", "m", "", "expression matrix: CSV file or 10x directory (required)")
	f.StringVar(&opts.metadata, "metadata", "", "cell metadata CSV, first column is the barcode")
	f.StringSliceVar(&opts.cohorts, "cohort", nil, "cohort key to select; repeat for several cohorts")
	f.StringVar(&opts.column, "cohort-column", "", "metadata column holding the cohort key (default from config)")
	f.StringVarP(&opts.dataset, "dataset", "d", "", "dataset label stamped on the cells")
	f.StringVarP(&opts.panel, "panel", "p", "", "stored reference panel name (default from config)")
	f.StringVarP(&opts.reference, "reference", "r", "", "reference panel CSV to import before aligning")
	f.IntVar(&opts.minOverlap, "min-overlap", 0, "minimum panel genes required (default from config)")
	f.StringSliceVarP(&opts.formats, "format", "f", nil, "artifact formats to export: "+strings.Join(formatNames(), ", "))
	f.BoolVar(&opts.asJSON, "json", false, "print run records as JSON")
	_ = cmd.MarkFlagRequired("matrix")
	return cmd
}

func formatNames() []string {
	out := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		out[i] = string(f)
	}
	return out
}

func runPrepare(ctx context.Context, a *app, opts prepareOptions) error {
	if opts.metadata == "" && len(opts.cohorts) > 0 {
		return usageError{errors.New("--cohort requires --metadata")}
	}
	if opts.metadata != "" && len(opts.cohorts) == 0 {
		return usageError{errors.New("--metadata requires at least one --cohort")}
	}
	for _, name := range opts.formats {
		if _, err := export.ParseFormat(name); err != nil {
			return usageError{err}
		}
	}
	svc, err := a.open(ctx)
	if err != nil {
		return err
	}

	panelName := firstNonEmpty(opts.panel, a.cfg.Reference.Panel)
	if refPath := firstNonEmpty(opts.reference, a.cfg.Reference.Path); refPath != "" {
		p, err := ingest.ReadPanelFile(refPath, panelName)
		if err != nil {
			return fmt.Errorf("read reference panel: %w", err)
		}
		rec, res, err := svc.ImportPanel(ctx, p)
		if err != nil {
			return err
		}
		for _, v := range res.Violations {
			a.printer.warning("%s", v.Message)
		}
		panelName = rec.Name
	}
	if panelName == "" {
		return usageError{errors.New("a reference panel is required: pass --panel or --reference")}
	}

	m, err := ingest.ReadMatrixFile(opts.matrix)
	if err != nil {
		return fmt.Errorf("read matrix: %w", err)
	}
	var meta *expression.CellTable
	if opts.metadata != "" {
		if meta, err = ingest.ReadCellTableFile(opts.metadata); err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
	}
	a.logger.Info("matrix loaded", "path", opts.matrix, "cells", len(m.Cells()), "genes", len(m.Genes()))

	var minOverlap *int
	if opts.minOverlapSet {
		minOverlap = &opts.minOverlap
	}
	cohorts := opts.cohorts
	if len(cohorts) == 0 {
		cohorts = []string{""}
	}
	worker := export.NewWorker(svc, jobAuditLog{logger: a.logger})
	worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = worker.Stop(stopCtx)
	}()

	jobs := make([]export.JobRecord, 0, len(cohorts))
	for _, key := range cohorts {
		req := core.PrepareRequest{
			Dataset:    opts.dataset,
			Matrix:     m,
			Metadata:   meta,
			Panel:      panelName,
			MinOverlap: minOverlap,
			Formats:    opts.formats,
			Cohort: core.CohortSelection{
				Column:           firstNonEmpty(opts.column, a.cfg.Cohort.Column),
				Key:              key,
				DatasetAttribute: a.cfg.Cohort.DatasetAttribute,
			},
		}
		job, err := worker.Enqueue(ctx, export.Job{Request: req, RequestedBy: os.Getenv("USER")})
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}

	var runs []domain.RunRecord
	var errs []error
	for _, job := range jobs {
		done, err := worker.Wait(ctx, job.ID)
		if err != nil {
			return err
		}
		switch {
		case done.Err != nil && job.Cohort != "":
			errs = append(errs, fmt.Errorf("cohort %q: %w", job.Cohort, done.Err))
		case done.Err != nil:
			errs = append(errs, done.Err)
		}
		if done.RunID == "" {
			continue
		}
		run, err := svc.GetRun(done.RunID)
		if err != nil {
			return err
		}
		runs = append(runs, run)
	}

	if opts.asJSON {
		if err := a.printer.json(runs); err != nil {
			return err
		}
	} else {
		for _, run := range runs {
			printRun(a.printer, run)
		}
	}
	return errors.Join(errs...)
}

func printRun(p *printer, run domain.RunRecord) {
	if run.Status == domain.RunSucceeded {
		p.success("run %s succeeded", run.ID)
	} else {
		_, _ = p.red.Fprintf(p.stdout, "✗ run %s failed\n", run.ID)
	}
	if run.Dataset != "" {
		p.field("dataset", run.Dataset)
	}
	if run.Cohort != "" {
		p.field("cohort", run.Cohort)
	}
	p.field("panel", fmt.Sprintf("%s (%d genes)", run.Panel, run.PanelSize))
	if run.Status == domain.RunFailed {
		p.field("error", run.Error)
		return
	}
	ns := run.Namespace
	if run.Fallback != "" {
		ns += " via " + run.Fallback
	}
	p.field("namespace", ns)
	p.field("cells", run.Cells)
	p.field("found", run.Found)
	p.field("padded", run.Padded)
	for _, key := range run.Artifacts {
		p.field("artifact", key)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
