// Package annotation runs the incremental sentiment pipeline: provision the
// Feedback and Sentiment tables, select feedback that has no sentiment yet,
// score it, and persist the results.
package annotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

// Tables names the two tables the pipeline works on.
type Tables struct {
	Feedback  string
	Sentiment string
}

type Provisioner struct {
	log    *logger.Logger
	wh     warehouse.Client
	tables Tables
}

func NewProvisioner(log *logger.Logger, wh warehouse.Client, tables Tables) *Provisioner {
	return &Provisioner{
		log:    log.With("service", "annotation.Provisioner"),
		wh:     wh,
		tables: tables,
	}
}

// EnsureTable creates name with schema unless it already exists. Losing a
// creation race to a concurrent caller counts as success. An existing table
// is never altered.
func (p *Provisioner) EnsureTable(ctx context.Context, name string, schema domain.Schema) error {
	_, err := p.wh.GetTable(ctx, name)
	if err == nil {
		p.log.Debug("Table exists", "table", name)
		return nil
	}
	if !errors.Is(err, warehouse.ErrTableNotFound) {
		return &domain.ProvisionError{Table: name, Operation: "get", Cause: err}
	}

	if _, err := p.wh.CreateTable(ctx, name, schema); err != nil {
		if errors.Is(err, warehouse.ErrTableExists) {
			p.log.Debug("Table created concurrently", "table", name)
			return nil
		}
		return &domain.ProvisionError{Table: name, Operation: "create", Cause: err}
	}
	p.log.Info("Provisioned table", "table", name, "columns", len(schema))
	return nil
}

// EnsureAll provisions Feedback, then Sentiment.
func (p *Provisioner) EnsureAll(ctx context.Context) error {
	if p.tables.Feedback == "" || p.tables.Sentiment == "" {
		return fmt.Errorf("provisioner: feedback and sentiment table names are required")
	}
	if err := p.EnsureTable(ctx, p.tables.Feedback, domain.FeedbackSchema); err != nil {
		return err
	}
	return p.EnsureTable(ctx, p.tables.Sentiment, domain.SentimentSchema)
}
