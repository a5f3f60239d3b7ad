package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"atlasprep/internal/adapters/export"
	"atlasprep/internal/blob"
	"atlasprep/internal/config"
	"atlasprep/internal/core"
	"atlasprep/internal/logging"
	"atlasprep/internal/metrics"
	"atlasprep/internal/persistence"
	"atlasprep/pkg/domain"
)

// globalFlags map persistent flags to config keys.
var globalFlags = []struct {
	name, key, usage string
}{
	{"storage-driver", "storage.driver", "run store: memory, sqlite or postgres"},
	{"storage-dsn", "storage.dsn", "sqlite path or postgres connection string"},
	{"blob-driver", "blob.driver", "artifact store: fs, s3 or memory"},
	{"blob-root", "blob.fs_root", "artifact directory for the fs driver"},
	{"log-level", "log.level", "debug, info, warn or error"},
	{"log-format", "log.format", "console or json"},
	{"metrics-textfile", "metrics.textfile", "write Prometheus metrics to this file on exit"},
}

// app holds the dependencies shared by subcommands. They are opened lazily
// so that help and version need no storage.
type app struct {
	stdout, stderr io.Writer
	printer        *printer

	configPath string
	verbose    bool
	noColor    bool
	flagValues map[string]*string

	cfg     config.Config
	logger  *logging.Logger
	metrics *metrics.Recorder
	store   domain.PersistentStore
	blobs   blob.Store
	service *core.Service
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		printer:    newPrinter(stdout, stderr),
		flagValues: make(map[string]*string, len(globalFlags)),
	}
}

func (a *app) bindGlobalFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file (default $ATLASPREP_CONFIG)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.noColor, "no-color", false, "disable coloured output")
	for _, f := range globalFlags {
		a.flagValues[f.name] = flags.String(f.name, "", f.usage)
	}
}

// configure resolves configuration for the command being run.
func (a *app) configure(cmd *cobra.Command) error {
	if a.noColor {
		color.NoColor = true
	}
	overrides := make(map[string]string)
	for _, f := range globalFlags {
		if cmd.Flags().Changed(f.name) {
			overrides[f.key] = *a.flagValues[f.name]
		}
	}
	if a.verbose {
		overrides["log.level"] = "debug"
	}
	cfg, err := config.Load(config.Options{Path: a.configPath, Overrides: overrides})
	if err != nil {
		return usageError{err}
	}
	a.cfg = cfg
	return nil
}

// open builds the service on first use.
func (a *app) open(ctx context.Context) (*core.Service, error) {
	if a.service != nil {
		return a.service, nil
	}
	logger, err := logging.New(logging.Options{Level: a.cfg.Log.Level, Format: a.cfg.Log.Format, Output: a.stderr})
	if err != nil {
		return nil, usageError{err}
	}
	a.logger = logger
	a.metrics = metrics.NewRecorder()

	store, err := persistence.Open(ctx, a.cfg.Storage.Driver, a.cfg.Storage.DSN, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Storage.Driver, err)
	}
	a.store = store
	blobs, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open %s artifact store: %w", a.cfg.Blob.Driver, err)
	}
	a.blobs = blobs
	logger.Debug("storage opened", "storage", string(a.cfg.Storage.Driver), "blob", string(blobs.Driver()), "config", a.cfg.Path)

	a.service = core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(a.metrics),
		core.WithAuditRecorder(auditLog{logger: logger}),
		core.WithArtifactSink(export.NewSink(export.NewBlobObjectStore(blobs))),
		core.WithDefaultMinOverlap(a.cfg.Alignment.MinOverlap),
	)
	return a.service, nil
}

func (a *app) close() error {
	var errs []error
	if a.metrics != nil && a.cfg.Metrics.Textfile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.store != nil {
		errs = append(errs, persistence.Close(a.store))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Sync())
	}
	return errors.Join(errs...)
}

// auditLog writes service and job audit entries to the structured log.
type auditLog struct {
	logger core.Logger
}

func (l auditLog) Record(_ context.Context, e core.AuditEntry) {
	args := []any{"operation", e.Operation, "entity", string(e.Entity), "action", string(e.Action),
		"id", e.EntityID, "status", string(e.Status), "duration", e.Duration}
	if e.Error != "" {
		args = append(args, "error", e.Error)
	}
	l.logger.Info("audit", args...)
}

type jobAuditLog struct {
	logger core.Logger
}

func (l jobAuditLog) Record(_ context.Context, e export.AuditEntry) {
	l.logger.Debug("prepare job", "job", e.JobID, "status", string(e.Status), "dataset", e.Dataset, "actor", e.Actor)
}
