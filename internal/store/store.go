package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed persistence layer. All queries are scoped to
// a single statement; the job lifecycle relies on conditional updates
// rather than transactions for its state transitions.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Enclaves ---

func (s *Store) CreateEnclave(ctx context.Context, name, description string) (Enclave, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO enclaves (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, created_at, updated_at`,
		uuid.New(), name, description)
	return scanEnclave(row)
}

func (s *Store) GetEnclave(ctx context.Context, id uuid.UUID) (Enclave, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM enclaves WHERE id = $1`, id)
	return scanEnclave(row)
}

func (s *Store) GetEnclaveByName(ctx context.Context, name string) (Enclave, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM enclaves WHERE name = $1`, name)
	return scanEnclave(row)
}

func (s *Store) ListEnclaves(ctx context.Context) ([]Enclave, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM enclaves ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Enclave
	for rows.Next() {
		e, err := scanEnclave(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEnclave(row pgx.Row) (Enclave, error) {
	var e Enclave
	var description *string
	err := row.Scan(&e.ID, &e.Name, &description, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Enclave{}, mapNoRows(err)
	}
	if description != nil {
		e.Description = *description
	}
	return e, nil
}

// --- Connector types ---

func (s *Store) GetConnectorType(ctx context.Context, id uuid.UUID) (ConnectorType, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, code, name, description FROM connector_types WHERE id = $1`, id)
	return scanConnectorType(row)
}

func (s *Store) GetConnectorTypeByCode(ctx context.Context, code string) (ConnectorType, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, code, name, description FROM connector_types WHERE code = $1`, code)
	return scanConnectorType(row)
}

func (s *Store) ListConnectorTypes(ctx context.Context) ([]ConnectorType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, description FROM connector_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConnectorType
	for rows.Next() {
		ct, err := scanConnectorType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func scanConnectorType(row pgx.Row) (ConnectorType, error) {
	var ct ConnectorType
	var description *string
	err := row.Scan(&ct.ID, &ct.Code, &ct.Name, &description)
	if err != nil {
		return ConnectorType{}, mapNoRows(err)
	}
	if description != nil {
		ct.Description = *description
	}
	return ct, nil
}

// --- Connector instances ---

type CreateConnectorInstanceParams struct {
	ConnectorTypeID uuid.UUID
	EnclaveID       uuid.UUID
	Name            string
	Config          map[string]any
	CronExpression  string
	IsEnabled       bool
}

const connectorInstanceColumns = `
	id, connector_type_id, enclave_id, name, config, cron_expression,
	is_enabled, last_run_at, created_at, updated_at`

func (s *Store) CreateConnectorInstance(ctx context.Context, p CreateConnectorInstanceParams) (ConnectorInstance, error) {
	cfg, err := marshalJSONMap(p.Config)
	if err != nil {
		return ConnectorInstance{}, fmt.Errorf("encode connector config: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO connector_instances
			(id, connector_type_id, enclave_id, name, config, cron_expression, is_enabled)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING`+connectorInstanceColumns,
		uuid.New(), p.ConnectorTypeID, p.EnclaveID, p.Name, cfg, p.CronExpression, p.IsEnabled)
	return scanConnectorInstance(row)
}

func (s *Store) GetConnectorInstance(ctx context.Context, id uuid.UUID) (ConnectorInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+connectorInstanceColumns+`
		FROM connector_instances WHERE id = $1`, id)
	return scanConnectorInstance(row)
}

func (s *Store) ListConnectorInstances(ctx context.Context) ([]ConnectorInstance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+connectorInstanceColumns+`
		FROM connector_instances ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectConnectorInstances(rows)
}

// ListScheduledConnectorInstances returns the enabled instances carrying a
// cron expression; the scheduler builds its cron entries from these.
func (s *Store) ListScheduledConnectorInstances(ctx context.Context) ([]ConnectorInstance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+connectorInstanceColumns+`
		FROM connector_instances
		WHERE is_enabled AND cron_expression IS NOT NULL AND cron_expression <> ''
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectConnectorInstances(rows)
}

func (s *Store) SetConnectorInstanceLastRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE connector_instances SET last_run_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	return err
}

func collectConnectorInstances(rows pgx.Rows) ([]ConnectorInstance, error) {
	defer rows.Close()
	var out []ConnectorInstance
	for rows.Next() {
		ci, err := scanConnectorInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func scanConnectorInstance(row pgx.Row) (ConnectorInstance, error) {
	var ci ConnectorInstance
	var cfg []byte
	var cronExpr *string
	err := row.Scan(&ci.ID, &ci.ConnectorTypeID, &ci.EnclaveID, &ci.Name, &cfg,
		&cronExpr, &ci.IsEnabled, &ci.LastRunAt, &ci.CreatedAt, &ci.UpdatedAt)
	if err != nil {
		return ConnectorInstance{}, mapNoRows(err)
	}
	if cronExpr != nil {
		ci.CronExpression = *cronExpr
	}
	if err := unmarshalJSONMap(cfg, &ci.Config); err != nil {
		return ConnectorInstance{}, fmt.Errorf("decode connector config: %w", err)
	}
	return ci, nil
}

// --- Jobs ---

const jobColumns = `
	id, connector_instance_id, status, started_at, finished_at,
	records_found, records_ingested, error_message, triggered_by, created_at`

func (s *Store) CreateJob(ctx context.Context, instanceID uuid.UUID, triggeredBy TriggerOrigin) (Job, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, connector_instance_id, status, triggered_by)
		VALUES ($1, $2, $3, $4)
		RETURNING`+jobColumns,
		uuid.New(), instanceID, JobStatusPending, triggeredBy)
	return scanJob(row)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *Store) ListPendingJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+` FROM jobs
		WHERE status = $1 ORDER BY created_at`, JobStatusPending)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (s *Store) ListJobsForInstance(ctx context.Context, instanceID uuid.UUID, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+` FROM jobs
		WHERE connector_instance_id = $1
		ORDER BY created_at DESC LIMIT $2`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ClaimJob is the atomic pending->running transition. It reports false when
// the job was not pending anymore, which callers treat as "already taken".
func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		id, JobStatusRunning, startedAt, JobStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailPendingJob terminally fails a job that never reached running
// (configuration errors). Conditional for the same reason ClaimJob is.
func (s *Store) FailPendingJob(ctx context.Context, id uuid.UUID, message string, finishedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_message = $3, finished_at = $4
		WHERE id = $1 AND status = $5`,
		id, JobStatusFailed, message, finishedAt, JobStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FinishJob(ctx context.Context, id uuid.UUID, status JobStatus, errorMessage string, finishedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_message = NULLIF($3, ''), finished_at = $4
		WHERE id = $1`, id, status, errorMessage, finishedAt)
	return err
}

func (s *Store) SetJobCounts(ctx context.Context, id uuid.UUID, found, ingested int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET records_found = $2, records_ingested = $3
		WHERE id = $1`, id, found, ingested)
	return err
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var errorMessage *string
	err := row.Scan(&j.ID, &j.ConnectorInstanceID, &j.Status, &j.StartedAt,
		&j.FinishedAt, &j.RecordsFound, &j.RecordsIngested, &errorMessage,
		&j.TriggeredBy, &j.CreatedAt)
	if err != nil {
		return Job{}, mapNoRows(err)
	}
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	return j, nil
}

// --- Findings ---

type InsertFindingParams struct {
	JobID               *uuid.UUID
	ConnectorInstanceID uuid.UUID
	EnclaveID           uuid.UUID
	SourceType          SourceType
	RawData             map[string]any
	Fingerprint         string
}

const findingColumns = `
	id, job_id, connector_instance_id, enclave_id, source_type, raw_data,
	fingerprint, ingested_at`

func (s *Store) GetFindingByFingerprint(ctx context.Context, enclaveID uuid.UUID, sourceType SourceType, fingerprint string) (Finding, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+findingColumns+` FROM findings
		WHERE enclave_id = $1 AND source_type = $2 AND fingerprint = $3`,
		enclaveID, sourceType, fingerprint)
	return scanFinding(row)
}

func (s *Store) InsertFinding(ctx context.Context, p InsertFindingParams) (Finding, error) {
	raw, err := marshalJSONMap(p.RawData)
	if err != nil {
		return Finding{}, fmt.Errorf("encode finding raw data: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO findings
			(id, job_id, connector_instance_id, enclave_id, source_type, raw_data, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING`+findingColumns,
		uuid.New(), p.JobID, p.ConnectorInstanceID, p.EnclaveID, p.SourceType, raw, p.Fingerprint)
	return scanFinding(row)
}

// RefreshFinding replaces the raw payload (and job reference) of an
// existing finding on re-ingestion of the same fingerprint.
func (s *Store) RefreshFinding(ctx context.Context, id uuid.UUID, rawData map[string]any, jobID *uuid.UUID) error {
	raw, err := marshalJSONMap(rawData)
	if err != nil {
		return fmt.Errorf("encode finding raw data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE findings SET raw_data = $2, job_id = COALESCE($3, job_id), ingested_at = now()
		WHERE id = $1`, id, raw, jobID)
	return err
}

func (s *Store) CountFindingsForJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM findings WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}

// ListUnprocessedFindings returns the findings in an enclave that no
// identity has absorbed yet, via the identity_findings anti-join.
func (s *Store) ListUnprocessedFindings(ctx context.Context, enclaveID uuid.UUID) ([]Finding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+findingColumns+` FROM findings f
		WHERE f.enclave_id = $1
		  AND NOT EXISTS (SELECT 1 FROM identity_findings pf WHERE pf.finding_id = f.id)
		ORDER BY f.ingested_at`, enclaveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFinding(row pgx.Row) (Finding, error) {
	var f Finding
	var raw []byte
	err := row.Scan(&f.ID, &f.JobID, &f.ConnectorInstanceID, &f.EnclaveID,
		&f.SourceType, &raw, &f.Fingerprint, &f.IngestedAt)
	if err != nil {
		return Finding{}, mapNoRows(err)
	}
	if err := unmarshalJSONMap(raw, &f.RawData); err != nil {
		return Finding{}, fmt.Errorf("decode finding raw data: %w", err)
	}
	return f, nil
}

// --- Identities ---

type CreateIdentityParams struct {
	EnclaveID   uuid.UUID
	Type        IdentityType
	DisplayName string
	Fingerprint string
	Attributes  IdentityAttributes
	FirstSeen   time.Time
	LastSeen    time.Time
}

const identityColumns = `
	id, enclave_id, identity_type, display_name, fingerprint, attributes,
	owner, linked_system, risk_score, first_seen, last_seen`

func (s *Store) GetIdentityByFingerprint(ctx context.Context, enclaveID uuid.UUID, fingerprint string) (Identity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+identityColumns+` FROM identities
		WHERE enclave_id = $1 AND fingerprint = $2`, enclaveID, fingerprint)
	return scanIdentity(row)
}

func (s *Store) CreateIdentity(ctx context.Context, p CreateIdentityParams) (Identity, error) {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return Identity{}, fmt.Errorf("encode identity attributes: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO identities
			(id, enclave_id, identity_type, display_name, fingerprint, attributes, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING`+identityColumns,
		uuid.New(), p.EnclaveID, p.Type, p.DisplayName, p.Fingerprint, attrs, p.FirstSeen, p.LastSeen)
	return scanIdentity(row)
}

// UpdateIdentityObserved applies a fresh observation to an existing
// identity: display name, merged attributes, and last-seen.
func (s *Store) UpdateIdentityObserved(ctx context.Context, id uuid.UUID, displayName string, attributes IdentityAttributes, lastSeen time.Time) error {
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("encode identity attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE identities
		SET display_name = $2, attributes = $3, last_seen = $4, updated_at = now()
		WHERE id = $1`, id, displayName, attrs, lastSeen)
	return err
}

// LinkIdentityFinding records a finding as processed into an identity. The
// insert is idempotent; position preserves contribution order.
func (s *Store) LinkIdentityFinding(ctx context.Context, identityID, findingID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_findings (finding_id, identity_id, position)
		SELECT $1, $2, COALESCE(max(position), 0) + 1
		FROM identity_findings WHERE identity_id = $2
		ON CONFLICT (finding_id) DO NOTHING`, findingID, identityID)
	return err
}

func (s *Store) ListIdentities(ctx context.Context, enclaveID uuid.UUID) ([]Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+identityColumns+` FROM identities
		WHERE enclave_id = $1 ORDER BY created_at`, enclaveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

func (s *Store) ListIdentityFindingIDs(ctx context.Context, identityID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT finding_id FROM identity_findings
		WHERE identity_id = $1 ORDER BY position`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) SetIdentityLinkedSystem(ctx context.Context, id uuid.UUID, linkedSystem string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE identities SET linked_system = NULLIF($2, ''), updated_at = now()
		WHERE id = $1`, id, linkedSystem)
	return err
}

func (s *Store) SetIdentityRiskScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE identities SET risk_score = $2, updated_at = now()
		WHERE id = $1`, id, score)
	return err
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var ident Identity
	var attrs []byte
	var owner, linkedSystem *string
	err := row.Scan(&ident.ID, &ident.EnclaveID, &ident.Type, &ident.DisplayName,
		&ident.Fingerprint, &attrs, &owner, &linkedSystem, &ident.RiskScore,
		&ident.FirstSeen, &ident.LastSeen)
	if err != nil {
		return Identity{}, mapNoRows(err)
	}
	if owner != nil {
		ident.Owner = *owner
	}
	if linkedSystem != nil {
		ident.LinkedSystem = *linkedSystem
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &ident.Attributes); err != nil {
			return Identity{}, fmt.Errorf("decode identity attributes: %w", err)
		}
	}
	return ident, nil
}

// --- JSON helpers ---

func marshalJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func unmarshalJSONMap(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		*dst = map[string]any{}
		return nil
	}
	return json.Unmarshal(raw, dst)
}
