// Package storage provides an optional, non-authoritative Postgres audit
// mirror for job and attempt history, grounded on the teacher's
// internal/infrastructure/storage/bun_store.go (uptrace/bun +
// pgdialect/pgdriver, IfNotExists schema creation, bun-tagged model
// structs with a ToDomain()/New*Model() pair per entity). Unlike the
// teacher's BunStore, which was the sole source of truth for Workflow
// and Execution state, this store is read by nobody in this codebase —
// JobManager (internal/jobmanager) remains authoritative in memory, per
// spec.md §6 — so there is no equivalent of the teacher's ToDomain()
// reconstruction here, only one-way mirroring for operator queries.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// AuditStore mirrors Job phase timelines and Attempt records into
// Postgres for operator-facing audit queries.
type AuditStore struct {
	db *bun.DB
}

// NewAuditStore opens a bun/pgdriver connection against dsn. The caller
// decides whether to construct one at all: storage.enabled in
// config.toml gates whether cmd/orchestratord wires an AuditStore into
// learning.Recorder as its AuditSink.
func NewAuditStore(dsn string) *AuditStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &AuditStore{db: db}
}

// InitSchema creates the audit tables if they don't already exist, the
// way the teacher's BunStore.InitSchema does for its own entity set.
func (s *AuditStore) InitSchema(ctx context.Context) error {
	models := []any{
		(*jobModel)(nil),
		(*attemptModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

type jobModel struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         uuid.UUID `bun:"id,pk"`
	Prompt     string    `bun:"prompt"`
	Status     string    `bun:"status"`
	CreatedAt  time.Time `bun:"created_at"`
	FinishedAt time.Time `bun:"finished_at,nullzero"`
}

type attemptModel struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID         int64     `bun:"id,pk,autoincrement"`
	JobID      uuid.UUID `bun:"job_id"`
	Index      int       `bun:"idx"`
	Model      string    `bun:"model"`
	Outcome    string    `bun:"outcome"`
	Score      float64   `bun:"score"`
	StartedAt  time.Time `bun:"started_at"`
	FinishedAt time.Time `bun:"finished_at"`
}

// MirrorJob upserts job's current terminal snapshot, implementing the
// jobmanager side of the audit mirror.
func (s *AuditStore) MirrorJob(ctx context.Context, job *domain.Job) error {
	id, err := uuid.Parse(job.ID())
	if err != nil {
		return err
	}
	model := &jobModel{
		ID:     id,
		Prompt: job.Prompt(),
		Status: job.Status().String(),
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

// MirrorAttempt implements learning.AuditSink: one row per Attempt,
// appended, never updated, forming an append-only audit trail matching
// the Job's own append-only phase timeline.
func (s *AuditStore) MirrorAttempt(ctx context.Context, jobID string, attempt domain.Attempt) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return err
	}
	model := &attemptModel{
		JobID:      id,
		Index:      attempt.Index,
		Model:      attempt.Model,
		Outcome:    string(attempt.Outcome),
		Score:      attempt.Result.Score,
		StartedAt:  attempt.StartedAt,
		FinishedAt: attempt.FinishedAt,
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}
