// Package jobs drives a connector job through its lifecycle:
// pending -> running -> completed or failed. Terminal states are final;
// a re-attempt is always a new job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/connectors/adcs"
	"github.com/identrail/identrail/internal/connectors/adldap"
	"github.com/identrail/identrail/internal/findings"
	"github.com/identrail/identrail/internal/metrics"
	"github.com/identrail/identrail/internal/pipeline"
	"github.com/identrail/identrail/internal/store"
)

// ErrJobClaimed reports that another worker moved the job out of pending
// first. Callers treat it as "nothing to do".
var ErrJobClaimed = errors.New("job already claimed")

type jobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (store.Job, error)
	GetConnectorInstance(ctx context.Context, id uuid.UUID) (store.ConnectorInstance, error)
	GetConnectorType(ctx context.Context, id uuid.UUID) (store.ConnectorType, error)
	ClaimJob(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	FailPendingJob(ctx context.Context, id uuid.UUID, message string, finishedAt time.Time) (bool, error)
	FinishJob(ctx context.Context, id uuid.UUID, status store.JobStatus, errorMessage string, finishedAt time.Time) error
	SetJobCounts(ctx context.Context, id uuid.UUID, found, ingested int) error
	SetConnectorInstanceLastRun(ctx context.Context, id uuid.UUID, at time.Time) error
	CountFindingsForJob(ctx context.Context, jobID uuid.UUID) (int, error)
}

type batchIngester interface {
	IngestBatch(ctx context.Context, recs []findings.Record) (findings.BatchResult, error)
}

type resolver interface {
	Run(ctx context.Context, enclaveID uuid.UUID) (pipeline.Stats, error)
}

type Manager struct {
	store       jobStore
	ingester    batchIngester
	pipeline    resolver
	ldapTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	// collect is swapped out by tests to avoid a live directory.
	collect func(ctx context.Context, cfg adldap.Config) ([]adldap.Record, error)
}

func NewManager(st jobStore, ingester batchIngester, res resolver, ldapTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:       st,
		ingester:    ingester,
		pipeline:    res,
		ldapTimeout: ldapTimeout,
		logger:      logger,
		now:         time.Now,
	}
	m.collect = func(ctx context.Context, cfg adldap.Config) ([]adldap.Record, error) {
		return adldap.NewCollector(cfg, m.ldapTimeout, m.logger).Collect(ctx)
	}
	return m
}

// executor runs the connector-type-specific part of a job and reports
// record counts.
type executor func(ctx context.Context, job store.Job, instance store.ConnectorInstance) (found, ingested int, err error)

// Execute runs one job end to end. It returns ErrJobClaimed when the job
// was no longer pending, and nil when the job ID does not exist. Whatever
// happens, a job this method claimed is left in a terminal state.
func (m *Manager) Execute(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("job not found", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	instance, typeCode, exec, resolveErr := m.resolve(ctx, job)
	if resolveErr != nil {
		// The job was never claimed; fail it only if it is still pending
		// so a terminal state is never overwritten.
		if _, failErr := m.store.FailPendingJob(ctx, job.ID, resolveErr.Error(), m.now().UTC()); failErr != nil {
			m.logger.Error("could not fail job", "job_id", job.ID, "error", failErr)
		}
		return resolveErr
	}

	claimed, err := m.store.ClaimJob(ctx, job.ID, m.now().UTC())
	if err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		return ErrJobClaimed
	}

	m.logger.Info("job started",
		"job_id", job.ID,
		"connector_type", typeCode,
		"connector_instance_id", instance.ID,
		"enclave_id", instance.EnclaveID,
		"triggered_by", job.TriggeredBy)

	start := m.now()
	found, ingested, execErr := exec(ctx, job, instance)
	metrics.JobDuration.WithLabelValues(typeCode).Observe(time.Since(start).Seconds())

	m.finalize(ctx, job, instance, typeCode, found, ingested, execErr)

	// Run the pipeline even after a failed executor: partial data may
	// still have been ingested.
	if _, pipeErr := m.pipeline.Run(ctx, instance.EnclaveID); pipeErr != nil {
		m.logger.Error("pipeline run failed",
			"job_id", job.ID, "enclave_id", instance.EnclaveID, "error", pipeErr)
	}
	return execErr
}

// resolve loads the instance and type for a job and picks the executor.
// Dispatch is a closed switch over the known type codes.
func (m *Manager) resolve(ctx context.Context, job store.Job) (store.ConnectorInstance, string, executor, error) {
	instance, err := m.store.GetConnectorInstance(ctx, job.ConnectorInstanceID)
	if err != nil {
		return store.ConnectorInstance{}, "", nil, fmt.Errorf("connector instance %s: %w", job.ConnectorInstanceID, err)
	}
	ctype, err := m.store.GetConnectorType(ctx, instance.ConnectorTypeID)
	if err != nil {
		return store.ConnectorInstance{}, "", nil, fmt.Errorf("connector type %s: %w", instance.ConnectorTypeID, err)
	}

	switch ctype.Code {
	case adldap.TypeCode:
		cfg, err := adldap.ParseConfig(instance.Config)
		if err != nil {
			return store.ConnectorInstance{}, "", nil, fmt.Errorf("instance %s: %w", instance.ID, err)
		}
		if err := cfg.Validate(); err != nil {
			return store.ConnectorInstance{}, "", nil, fmt.Errorf("instance %s: %w", instance.ID, err)
		}
		return instance, ctype.Code, m.adLDAPExecutor(cfg), nil
	case adcs.TypeCode:
		return instance, ctype.Code, m.adcsFileExecutor, nil
	default:
		return store.ConnectorInstance{}, "", nil, fmt.Errorf("unsupported connector type %q", ctype.Code)
	}
}

// adLDAPExecutor collects service accounts from the directory and ingests
// them as findings attached to the job.
func (m *Manager) adLDAPExecutor(cfg adldap.Config) executor {
	return func(ctx context.Context, job store.Job, instance store.ConnectorInstance) (int, int, error) {
		records, err := m.collect(ctx, cfg)
		if err != nil {
			return 0, 0, fmt.Errorf("ldap collection: %w", err)
		}

		recs := make([]findings.Record, 0, len(records))
		for _, rec := range records {
			recs = append(recs, findings.Record{
				JobID:               &job.ID,
				ConnectorInstanceID: instance.ID,
				EnclaveID:           instance.EnclaveID,
				SourceType:          store.SourceADServiceAccount,
				Fingerprint:         rec.Fingerprint,
				RawData:             rec.Raw,
			})
		}
		batch, err := m.ingester.IngestBatch(ctx, recs)
		if err != nil {
			return len(records), 0, fmt.Errorf("ingest findings: %w", err)
		}
		return len(records), batch.Ingested + batch.Duplicates, nil
	}
}

// adcsFileExecutor handles pre-ingested jobs: the findings were written at
// the ingest boundary, so the executor only accounts for them.
func (m *Manager) adcsFileExecutor(ctx context.Context, job store.Job, _ store.ConnectorInstance) (int, int, error) {
	n, err := m.store.CountFindingsForJob(ctx, job.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("count findings: %w", err)
	}
	return n, n, nil
}

// finalize moves a claimed job to its terminal state and stamps the
// instance's last run.
func (m *Manager) finalize(ctx context.Context, job store.Job, instance store.ConnectorInstance, typeCode string, found, ingested int, execErr error) {
	now := m.now().UTC()

	if err := m.store.SetJobCounts(ctx, job.ID, found, ingested); err != nil {
		m.logger.Error("could not set job counts", "job_id", job.ID, "error", err)
	}

	status := store.JobStatusCompleted
	message := ""
	if execErr != nil {
		status = store.JobStatusFailed
		message = execErr.Error()
	}
	if err := m.store.FinishJob(ctx, job.ID, status, message, now); err != nil {
		m.logger.Error("could not finish job", "job_id", job.ID, "error", err)
	}
	if err := m.store.SetConnectorInstanceLastRun(ctx, instance.ID, now); err != nil {
		m.logger.Error("could not set last run", "connector_instance_id", instance.ID, "error", err)
	}

	metrics.JobRunsTotal.WithLabelValues(typeCode, string(status)).Inc()
	if status == store.JobStatusCompleted {
		metrics.JobLastSuccessTimestamp.WithLabelValues(typeCode).Set(float64(now.Unix()))
	}

	m.logger.Info("job finished",
		"job_id", job.ID,
		"status", status,
		"records_found", found,
		"records_ingested", ingested,
		"error_message", message)
}
