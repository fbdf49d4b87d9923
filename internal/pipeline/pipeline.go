// Package pipeline turns raw findings into resolved identities in three
// stages: normalize (finding -> identity upsert), correlate (identity ->
// linked system), and score (identity -> risk score). Every stage is
// idempotent, so the pipeline can run after every job and converge on
// unchanged data.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/metrics"
	"github.com/identrail/identrail/internal/store"
)

// identityStore is the slice of the store the pipeline needs.
type identityStore interface {
	ListUnprocessedFindings(ctx context.Context, enclaveID uuid.UUID) ([]store.Finding, error)
	GetIdentityByFingerprint(ctx context.Context, enclaveID uuid.UUID, fingerprint string) (store.Identity, error)
	CreateIdentity(ctx context.Context, p store.CreateIdentityParams) (store.Identity, error)
	UpdateIdentityObserved(ctx context.Context, id uuid.UUID, displayName string, attributes store.IdentityAttributes, lastSeen time.Time) error
	LinkIdentityFinding(ctx context.Context, identityID, findingID uuid.UUID) error
	ListIdentities(ctx context.Context, enclaveID uuid.UUID) ([]store.Identity, error)
	SetIdentityLinkedSystem(ctx context.Context, id uuid.UUID, linkedSystem string) error
	SetIdentityRiskScore(ctx context.Context, id uuid.UUID, score int) error
}

type Pipeline struct {
	store  identityStore
	logger *slog.Logger
	now    func() time.Time
}

func New(st identityStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: st, logger: logger, now: time.Now}
}

// Stats reports how much each stage changed.
type Stats struct {
	Normalized int
	Correlated int
	Scored     int
}

// Run executes all three stages for one enclave. A failing stage does not
// stop the later ones; whatever state it left behind is still worth
// correlating and scoring, and the next run picks up the remainder.
func (p *Pipeline) Run(ctx context.Context, enclaveID uuid.UUID) (Stats, error) {
	var stats Stats
	var errs []error

	stats.Normalized = p.runStage(ctx, "normalize", enclaveID, &errs, p.Normalize)
	stats.Correlated = p.runStage(ctx, "correlate", enclaveID, &errs, p.Correlate)
	stats.Scored = p.runStage(ctx, "score", enclaveID, &errs, p.Score)

	p.logger.Info("pipeline run finished",
		"enclave_id", enclaveID,
		"normalized", stats.Normalized,
		"correlated", stats.Correlated,
		"scored", stats.Scored,
		"errors", len(errs))
	return stats, errors.Join(errs...)
}

func (p *Pipeline) runStage(ctx context.Context, name string, enclaveID uuid.UUID, errs *[]error, stage func(context.Context, uuid.UUID) (int, error)) int {
	start := p.now()
	n, err := stage(ctx, enclaveID)
	metrics.PipelineStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
	}
	metrics.PipelineRunsTotal.WithLabelValues(name, status).Inc()
	if n > 0 {
		metrics.IdentitiesResolvedTotal.WithLabelValues(name).Add(float64(n))
	}
	return n
}
