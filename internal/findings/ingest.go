// Package findings is the single write path for raw connector
// observations. Every record enters through Ingest, which dedups on the
// source-specific fingerprint: a new fingerprint inserts a finding, a known
// one refreshes the existing row in place.
package findings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/metrics"
	"github.com/identrail/identrail/internal/store"
)

// findingStore is the slice of the store the ingester needs.
type findingStore interface {
	GetFindingByFingerprint(ctx context.Context, enclaveID uuid.UUID, sourceType store.SourceType, fingerprint string) (store.Finding, error)
	InsertFinding(ctx context.Context, p store.InsertFindingParams) (store.Finding, error)
	RefreshFinding(ctx context.Context, id uuid.UUID, rawData map[string]any, jobID *uuid.UUID) error
}

type Ingester struct {
	store  findingStore
	logger *slog.Logger
}

func NewIngester(st findingStore, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: st, logger: logger}
}

// Record is one raw observation offered to the ingest boundary.
type Record struct {
	JobID               *uuid.UUID
	ConnectorInstanceID uuid.UUID
	EnclaveID           uuid.UUID
	SourceType          store.SourceType
	Fingerprint         string
	RawData             map[string]any
}

// Result reports what Ingest did with a single record.
type Result struct {
	Finding store.Finding
	Created bool
}

// BatchResult aggregates a batch: Ingested counts new fingerprints,
// Duplicates counts refreshed ones.
type BatchResult struct {
	Ingested   int
	Duplicates int
}

// Ingest upserts one record by (enclave, source type, fingerprint).
func (ing *Ingester) Ingest(ctx context.Context, rec Record) (Result, error) {
	if rec.Fingerprint == "" {
		return Result{}, fmt.Errorf("ingest %s finding: empty fingerprint", rec.SourceType)
	}

	existing, err := ing.store.GetFindingByFingerprint(ctx, rec.EnclaveID, rec.SourceType, rec.Fingerprint)
	switch {
	case err == nil:
		if err := ing.store.RefreshFinding(ctx, existing.ID, rec.RawData, rec.JobID); err != nil {
			return Result{}, fmt.Errorf("refresh finding %s: %w", existing.ID, err)
		}
		existing.RawData = rec.RawData
		if rec.JobID != nil {
			existing.JobID = rec.JobID
		}
		metrics.FindingsIngestedTotal.WithLabelValues(string(rec.SourceType), "duplicate").Inc()
		return Result{Finding: existing, Created: false}, nil
	case errors.Is(err, store.ErrNotFound):
		created, err := ing.store.InsertFinding(ctx, store.InsertFindingParams{
			JobID:               rec.JobID,
			ConnectorInstanceID: rec.ConnectorInstanceID,
			EnclaveID:           rec.EnclaveID,
			SourceType:          rec.SourceType,
			RawData:             rec.RawData,
			Fingerprint:         rec.Fingerprint,
		})
		if err != nil {
			return Result{}, fmt.Errorf("insert finding: %w", err)
		}
		metrics.FindingsIngestedTotal.WithLabelValues(string(rec.SourceType), "created").Inc()
		return Result{Finding: created, Created: true}, nil
	default:
		return Result{}, fmt.Errorf("look up finding by fingerprint: %w", err)
	}
}

// IngestBatch runs Ingest over a slice of records. Records that fail are
// logged and skipped; the batch keeps going so one bad record cannot sink a
// collector run.
func (ing *Ingester) IngestBatch(ctx context.Context, recs []Record) (BatchResult, error) {
	var out BatchResult
	for _, rec := range recs {
		res, err := ing.Ingest(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			ing.logger.Warn("skipping finding",
				"source_type", rec.SourceType,
				"fingerprint", rec.Fingerprint,
				"error", err)
			continue
		}
		if res.Created {
			out.Ingested++
		} else {
			out.Duplicates++
		}
	}
	return out, nil
}
