// Package app builds every client once from Config and exposes the
// operations the command line, the HTTP trigger and the Temporal worker call.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/feedback-annotator/internal/annotation"
	"github.com/yungbote/feedback-annotator/internal/config"
	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/ingest"
	"github.com/yungbote/feedback-annotator/internal/observability"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse/bq"
)

type App struct {
	Log     *logger.Logger
	Cfg     config.Config
	Metrics *observability.Metrics
	Clients Clients

	Tables       annotation.Tables
	Provisioner  *annotation.Provisioner
	Orchestrator *annotation.Orchestrator
	Inspector    *annotation.Inspector

	cancel context.CancelFunc
}

// New connects to the warehouse, the sentiment backend and the optional
// lock and ledger. Nothing is contacted when cfg fails validation.
func New(ctx context.Context, log *logger.Logger, cfg config.Config) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := observability.Init()
	clients, err := wireClients(ctx, log, cfg, m)
	if err != nil {
		return nil, err
	}

	tables := annotation.Tables{
		Feedback:  cfg.Warehouse.FeedbackTable,
		Sentiment: cfg.Warehouse.SentimentTable,
	}
	a := cfg.Annotation
	orch := annotation.NewOrchestrator(log, clients.Warehouse, clients.Backend, tables, annotation.Options{
		DefaultLimit:   a.DefaultRowLimit,
		BatchSize:      a.BatchSize,
		Concurrency:    a.Concurrency,
		SelectAttempts: a.SelectAttempts,
		Observer:       m,
	})

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if clients.Redis != nil {
		m.StartRedisCollector(bg, log, clients.Redis)
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Metrics:      m,
		Clients:      clients,
		Tables:       tables,
		Provisioner:  annotation.NewProvisioner(log, clients.Warehouse, tables),
		Orchestrator: orch,
		Inspector:    annotation.NewInspector(log, clients.Warehouse, tables),
		cancel:       cancel,
	}, nil
}

// RunAnnotation performs one run under the run lock when one is configured.
// A run locked out by another holder returns a skipped report together with
// domain.ErrRunInProgress. Every report is written to the ledger when one is
// configured.
func (a *App) RunAnnotation(ctx context.Context, limit *int) (domain.RunReport, error) {
	if d := a.Cfg.Annotation.RunDeadline(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var report domain.RunReport
	run := func(ctx context.Context) error {
		var err error
		report, err = a.Orchestrator.Run(ctx, limit)
		return err
	}

	var err error
	if a.Clients.Lock != nil {
		err = a.Clients.Lock.Do(ctx, run)
	} else {
		err = run(ctx)
	}
	if errors.Is(err, domain.ErrRunInProgress) && report.RunID == "" {
		report = a.skippedReport(err)
		a.Metrics.ObserveRun(report)
	} else if err != nil && report.RunID == "" {
		// The lock itself failed before the orchestrator ran.
		now := time.Now().UTC()
		report = domain.RunReport{
			RunID:      uuid.NewString(),
			Backend:    a.Clients.Backend.Name(),
			State:      domain.RunFailed,
			Error:      err.Error(),
			StartedAt:  now,
			FinishedAt: now,
		}
		a.Metrics.ObserveRun(report)
	}

	a.record(ctx, report)
	return report, err
}

func (a *App) skippedReport(err error) domain.RunReport {
	now := time.Now().UTC()
	return domain.RunReport{
		RunID:      uuid.NewString(),
		Backend:    a.Clients.Backend.Name(),
		State:      domain.RunSkipped,
		Error:      err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
}

func (a *App) record(ctx context.Context, report domain.RunReport) {
	if a.Clients.Ledger == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := a.Clients.Ledger.Record(recordCtx, report); err != nil {
		a.Log.Warn("Run ledger write failed", "run_id", report.RunID, "error", err)
	}
}

// Provision creates the Feedback and Sentiment tables when missing.
func (a *App) Provision(ctx context.Context) error {
	return a.Provisioner.EnsureAll(ctx)
}

type LoadRequest struct {
	Bucket        string
	Object        string
	Table         string
	MaxBadRecords int
	Append        bool
}

// Load bulk-loads a delimited feedback file into the Feedback table (or
// req.Table). BigQuery warehouses use a native load job; SQL warehouses read
// the object and insert rows in batches.
func (a *App) Load(ctx context.Context, req LoadRequest) (int64, error) {
	if req.Bucket == "" {
		req.Bucket = a.Cfg.GCP.BucketName
	}
	if req.Object == "" {
		req.Object = a.Cfg.GCP.BlobName
	}
	if req.Table == "" {
		req.Table = a.Tables.Feedback
	}
	if req.Bucket == "" || req.Object == "" {
		return 0, &config.ConfigError{Code: config.ConfigMissing, Key: "BUCKET_NAME/BLOB_NAME"}
	}
	if err := a.Provisioner.EnsureTable(ctx, req.Table, domain.FeedbackSchema); err != nil {
		return 0, err
	}

	opts := ingest.DefaultLoadOptions()
	opts.MaxBadRecords = req.MaxBadRecords
	opts.Truncate = !req.Append

	var loader ingest.Loader
	if native, ok := a.Clients.Warehouse.(*bq.Client); ok {
		loader = native
	} else {
		objects, err := openSource(ctx, a.Log, a.Cfg.GCP.Credentials)
		if err != nil {
			return 0, err
		}
		defer objects.Close()
		loader = ingest.NewCSVLoader(a.Log, objects, a.Clients.Warehouse, a.Cfg.Annotation.BatchSize)
	}
	return loader.LoadDelimitedFile(ctx, req.Bucket, req.Object, req.Table, opts)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
