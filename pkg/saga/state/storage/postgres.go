// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/state"
)

// PostgresConfig configures the PostgreSQL state store.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`

	// MaxOpenConns bounds the connection pool. Defaults to 25.
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns" mapstructure:"max_open_conns"`

	// MaxIdleConns bounds idle pooled connections. Defaults to 5.
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns" mapstructure:"max_idle_conns"`

	// ConnMaxLifetime recycles connections older than this. Defaults to 30m.
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`

	// ConnectTimeout bounds the startup ping. Defaults to 5s.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// EnsureSchema creates the saga tables at startup when true.
	EnsureSchema bool `json:"ensure_schema" yaml:"ensure_schema" mapstructure:"ensure_schema"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *PostgresConfig) ApplyDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c *PostgresConfig) Validate() error {
	if c.DSN == "" {
		return errors.New("postgres dsn is required")
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS saga_instances (
	id                 TEXT PRIMARY KEY,
	saga_name          TEXT        NOT NULL,
	status             INTEGER     NOT NULL,
	current_step_index INTEGER     NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS saga_steps (
	id               TEXT PRIMARY KEY,
	saga_instance_id TEXT        NOT NULL REFERENCES saga_instances (id),
	step_name        TEXT        NOT NULL,
	status           INTEGER     NOT NULL,
	payload          BYTEA,
	seq              BIGSERIAL,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_steps_instance ON saga_steps (saga_instance_id, seq);
CREATE INDEX IF NOT EXISTS idx_saga_instances_status ON saga_instances (status);
`

// PostgresStore is a PostgreSQL-backed state.Store. Transitions run inside a
// database transaction that locks the instance row with SELECT ... FOR
// UPDATE, which serializes concurrent transitions for the same saga across
// every orchestrator process sharing the database.
type PostgresStore struct {
	db     *sql.DB
	config *PostgresConfig

	mu     sync.RWMutex
	closed bool
}

// NewPostgresStore opens a connection pool, verifies connectivity, and
// optionally creates the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		return nil, errors.New("postgres config is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, config: config}
	if config.EnsureSchema {
		if err := store.ensureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return store, nil
}

// ensureSchema creates the saga tables when they do not exist.
func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, postgresSchema)
	return err
}

func (p *PostgresStore) checkClosed() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return state.ErrStoreClosed
	}
	return nil
}

// CreateInstance inserts a new RUNNING instance and its first STARTED step
// record in one database transaction.
func (p *PostgresStore) CreateInstance(ctx context.Context, sagaName, firstStep string, command func(sagaID string) ([]byte, error)) (*saga.Instance, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inst := &saga.Instance{
		ID:               uuid.NewString(),
		SagaName:         sagaName,
		Status:           saga.StatusRunning,
		CurrentStepIndex: 0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	payload, err := command(inst.ID)
	if err != nil {
		return nil, err
	}

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, saga.NewStorageError("CreateInstance", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	const qi = `INSERT INTO saga_instances (id, saga_name, status, current_step_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := dbTx.ExecContext(ctx, qi, inst.ID, inst.SagaName, int(inst.Status), inst.CurrentStepIndex, inst.CreatedAt, inst.UpdatedAt); err != nil {
		return nil, saga.NewStorageError("CreateInstance", err)
	}
	const qs = `INSERT INTO saga_steps (id, saga_instance_id, step_name, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := dbTx.ExecContext(ctx, qs, uuid.NewString(), inst.ID, firstStep, int(saga.StepStatusStarted), payload, now); err != nil {
		return nil, saga.NewStorageError("CreateInstance", err)
	}
	if err := dbTx.Commit(); err != nil {
		return nil, saga.NewStorageError("CreateInstance", err)
	}
	return inst, nil
}

// GetInstance returns the instance with the given ID.
func (p *PostgresStore) GetInstance(ctx context.Context, sagaID string) (*saga.Instance, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}
	const q = `SELECT id, saga_name, status, current_step_index, created_at, updated_at
		FROM saga_instances WHERE id = $1`
	return scanInstance(p.db.QueryRowContext(ctx, q, sagaID), sagaID)
}

// Transition locks the instance row, runs fn, and commits or rolls back.
func (p *PostgresStore) Transition(ctx context.Context, sagaID string, fn func(tx state.Transition) error) error {
	if err := p.checkClosed(); err != nil {
		return err
	}

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return saga.NewStorageError("BeginTx", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	const q = `SELECT id, saga_name, status, current_step_index, created_at, updated_at
		FROM saga_instances WHERE id = $1 FOR UPDATE`
	inst, err := scanInstance(dbTx.QueryRowContext(ctx, q, sagaID), sagaID)
	if err != nil {
		return err
	}

	t := &postgresTransition{ctx: ctx, tx: dbTx, instance: inst}
	if err := fn(t); err != nil {
		return err
	}

	if t.dirty {
		const upd = `UPDATE saga_instances SET status = $1, current_step_index = $2, updated_at = $3 WHERE id = $4`
		if _, err := dbTx.ExecContext(ctx, upd, int(t.instance.Status), t.instance.CurrentStepIndex, time.Now().UTC(), sagaID); err != nil {
			return saga.NewStorageError("UpdateInstance", err)
		}
	}
	if err := dbTx.Commit(); err != nil {
		return saga.NewStorageError("Commit", err)
	}
	return nil
}

// LatestStep returns the most recent record for (sagaID, stepName).
func (p *PostgresStore) LatestStep(ctx context.Context, sagaID, stepName string) (*saga.StepRecord, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}
	const q = `SELECT id, saga_instance_id, step_name, status, payload, created_at
		FROM saga_steps WHERE saga_instance_id = $1 AND step_name = $2
		ORDER BY seq DESC LIMIT 1`
	rec, err := scanStep(p.db.QueryRowContext(ctx, q, sagaID, stepName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// StepHistory returns the full step history in creation order.
func (p *PostgresStore) StepHistory(ctx context.Context, sagaID string) ([]*saga.StepRecord, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}
	const q = `SELECT id, saga_instance_id, step_name, status, payload, created_at
		FROM saga_steps WHERE saga_instance_id = $1 ORDER BY seq ASC`
	rows, err := p.db.QueryContext(ctx, q, sagaID)
	if err != nil {
		return nil, saga.NewStorageError("StepHistory", err)
	}
	defer rows.Close()

	var out []*saga.StepRecord
	for rows.Next() {
		rec, err := scanStepRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InFlightSteps returns the STARTED step record of every active instance.
func (p *PostgresStore) InFlightSteps(ctx context.Context) ([]*state.InFlightStep, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}
	// The latest row per (instance, step) with status STARTED belongs to the
	// instance's single in-flight step.
	const q = `
		SELECT i.id, i.saga_name, i.status, i.current_step_index, i.created_at, i.updated_at,
		       s.id, s.saga_instance_id, s.step_name, s.status, s.payload, s.created_at
		FROM saga_instances i
		JOIN LATERAL (
			SELECT DISTINCT ON (step_name) id, saga_instance_id, step_name, status, payload, created_at
			FROM saga_steps WHERE saga_instance_id = i.id
			ORDER BY step_name, seq DESC
		) s ON s.status = $1
		WHERE i.status IN ($2, $3)`
	rows, err := p.db.QueryContext(ctx, q, int(saga.StepStatusStarted), int(saga.StatusRunning), int(saga.StatusCompensating))
	if err != nil {
		return nil, saga.NewStorageError("InFlightSteps", err)
	}
	defer rows.Close()

	var out []*state.InFlightStep
	for rows.Next() {
		inst := &saga.Instance{}
		rec := &saga.StepRecord{}
		var instStatus, recStatus int
		if err := rows.Scan(
			&inst.ID, &inst.SagaName, &instStatus, &inst.CurrentStepIndex, &inst.CreatedAt, &inst.UpdatedAt,
			&rec.ID, &rec.SagaInstanceID, &rec.StepName, &recStatus, &rec.Payload, &rec.CreatedAt,
		); err != nil {
			return nil, saga.NewStorageError("InFlightSteps", err)
		}
		inst.Status = saga.Status(instStatus)
		rec.Status = saga.StepStatus(recStatus)
		out = append(out, &state.InFlightStep{Instance: inst, Record: rec})
	}
	return out, rows.Err()
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// postgresTransition applies writes through the open database transaction.
type postgresTransition struct {
	ctx      context.Context
	tx       *sql.Tx
	instance *saga.Instance
	dirty    bool
}

func (t *postgresTransition) Instance() *saga.Instance {
	return t.instance
}

func (t *postgresTransition) LatestStep(stepName string) (*saga.StepRecord, error) {
	const q = `SELECT id, saga_instance_id, step_name, status, payload, created_at
		FROM saga_steps WHERE saga_instance_id = $1 AND step_name = $2
		ORDER BY seq DESC LIMIT 1`
	rec, err := scanStep(t.tx.QueryRowContext(t.ctx, q, t.instance.ID, stepName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (t *postgresTransition) AppendStep(stepName string, status saga.StepStatus, payload []byte) (*saga.StepRecord, error) {
	rec := &saga.StepRecord{
		ID:             uuid.NewString(),
		SagaInstanceID: t.instance.ID,
		StepName:       stepName,
		Status:         status,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      time.Now().UTC(),
	}
	const q = `INSERT INTO saga_steps (id, saga_instance_id, step_name, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := t.tx.ExecContext(t.ctx, q, rec.ID, rec.SagaInstanceID, rec.StepName, int(rec.Status), rec.Payload, rec.CreatedAt); err != nil {
		return nil, saga.NewStorageError("AppendStep", err)
	}
	return rec, nil
}

func (t *postgresTransition) SetStatus(status saga.Status, currentStepIndex int) {
	t.instance.Status = status
	t.instance.CurrentStepIndex = currentStepIndex
	t.dirty = true
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner, sagaID string) (*saga.Instance, error) {
	inst := &saga.Instance{}
	var status int
	err := row.Scan(&inst.ID, &inst.SagaName, &status, &inst.CurrentStepIndex, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}
	if err != nil {
		return nil, saga.NewStorageError("GetInstance", err)
	}
	inst.Status = saga.Status(status)
	return inst, nil
}

func scanStep(row rowScanner) (*saga.StepRecord, error) {
	rec := &saga.StepRecord{}
	var status int
	err := row.Scan(&rec.ID, &rec.SagaInstanceID, &rec.StepName, &status, &rec.Payload, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, saga.NewStorageError("LatestStep", err)
	}
	rec.Status = saga.StepStatus(status)
	return rec, nil
}

func scanStepRows(rows *sql.Rows) (*saga.StepRecord, error) {
	rec := &saga.StepRecord{}
	var status int
	if err := rows.Scan(&rec.ID, &rec.SagaInstanceID, &rec.StepName, &status, &rec.Payload, &rec.CreatedAt); err != nil {
		return nil, saga.NewStorageError("StepHistory", err)
	}
	rec.Status = saga.StepStatus(status)
	return rec, nil
}
