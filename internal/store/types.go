// Package store holds the domain model and the Postgres-backed persistence
// layer shared by the connectors, the job lifecycle, and the resolution
// pipeline.
package store

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// TriggerOrigin records which path created a job.
type TriggerOrigin string

const (
	TriggerSchedule  TriggerOrigin = "schedule"
	TriggerManual    TriggerOrigin = "manual"
	TriggerCollector TriggerOrigin = "collector"
)

// SourceType identifies the raw shape of a finding's attributes.
type SourceType string

const (
	SourceADServiceAccount SourceType = "ad_svc_acct"
	SourceADCSCertificate  SourceType = "adcs_cert"
)

type IdentityType string

const (
	IdentityServiceAccount IdentityType = "svc_acct"
	IdentityCertificate    IdentityType = "cert"
)

// Enclave is the tenant isolation boundary; every connector instance,
// finding, and identity belongs to exactly one.
type Enclave struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ConnectorType struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Description string
}

type ConnectorInstance struct {
	ID              uuid.UUID
	ConnectorTypeID uuid.UUID
	EnclaveID       uuid.UUID
	Name            string
	Config          map[string]any
	CronExpression  string
	IsEnabled       bool
	LastRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Job is one execution attempt of a connector instance. Jobs form an
// append-only log: terminal states are never reset, re-attempts get a new
// job.
type Job struct {
	ID                  uuid.UUID
	ConnectorInstanceID uuid.UUID
	Status              JobStatus
	StartedAt           *time.Time
	FinishedAt          *time.Time
	RecordsFound        int
	RecordsIngested     int
	ErrorMessage        string
	TriggeredBy         TriggerOrigin
	CreatedAt           time.Time
}

// Finding is a raw, connector-sourced observation keyed by a
// source-specific fingerprint. Re-ingesting the same fingerprint refreshes
// RawData instead of creating a second row.
type Finding struct {
	ID                  uuid.UUID
	JobID               *uuid.UUID
	ConnectorInstanceID uuid.UUID
	EnclaveID           uuid.UUID
	SourceType          SourceType
	RawData             map[string]any
	Fingerprint         string
	IngestedAt          time.Time
}

// Identity is the deduplicated, normalized record for one non-human
// identity, unique per (enclave, fingerprint). Its ordered set of
// contributing findings lives in the identity_findings join table.
type Identity struct {
	ID           uuid.UUID
	EnclaveID    uuid.UUID
	Type         IdentityType
	DisplayName  string
	Fingerprint  string
	Attributes   IdentityAttributes
	Owner        string
	LinkedSystem string
	RiskScore    int
	FirstSeen    time.Time
	LastSeen     time.Time
}
