package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/dcompute/coreplane/pkg/types"
)

// PostgresStore implements Store over a Postgres database: one table per
// entity, with JSON columns for the nested assignment/response/task-spec
// blobs.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens dsn via pgx's database/sql driver, wraps it with
// sqlx, and applies embedded goose migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type taskRow struct {
	TaskID              string         `db:"task_id"`
	TaskType            string         `db:"task_type"`
	Status              string         `db:"status"`
	Priority            string         `db:"priority"`
	SourceLanguage      string         `db:"source_language"`
	TargetLanguage      string         `db:"target_language"`
	Input               []byte         `db:"input"`
	RequiredWorkerCount int            `db:"required_worker_count"`
	MinWorkerCount      int            `db:"min_worker_count"`
	MaxWorkerCount      int            `db:"max_worker_count"`
	AssignedWorkers     pq.StringArray `db:"assigned_workers"`
	Assignments         []byte         `db:"assignments"`
	WorkerResponses     []byte         `db:"worker_responses"`
	RetryCount          int            `db:"retry_count"`
	CreatedAt           time.Time      `db:"created_at"`
	DistributedAt       sql.NullTime   `db:"distributed_at"`
	CompletedAt         sql.NullTime   `db:"completed_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func taskToRow(t *types.Task) (*taskRow, error) {
	input, err := json.Marshal(t.Input)
	if err != nil {
		return nil, err
	}
	assignments, err := json.Marshal(t.Assignments)
	if err != nil {
		return nil, err
	}
	responses, err := json.Marshal(t.WorkerResponses)
	if err != nil {
		return nil, err
	}
	row := &taskRow{
		TaskID:              t.TaskID,
		TaskType:            string(t.TaskType),
		Status:              string(t.Status),
		Priority:            string(t.Priority),
		SourceLanguage:      t.SourceLanguage,
		TargetLanguage:      t.TargetLanguage,
		Input:               input,
		RequiredWorkerCount: t.RequiredWorkerCount,
		MinWorkerCount:      t.MinWorkerCount,
		MaxWorkerCount:      t.MaxWorkerCount,
		AssignedWorkers:     pq.StringArray(t.AssignedWorkers),
		Assignments:         assignments,
		WorkerResponses:     responses,
		RetryCount:          t.RetryCount,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
	if t.DistributedAt != nil {
		row.DistributedAt = sql.NullTime{Time: *t.DistributedAt, Valid: true}
	}
	if t.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *t.CompletedAt, Valid: true}
	}
	return row, nil
}

func rowToTask(row *taskRow) (*types.Task, error) {
	t := &types.Task{
		TaskID:              row.TaskID,
		TaskType:            types.TaskType(row.TaskType),
		Status:              types.TaskStatus(row.Status),
		Priority:            types.Priority(row.Priority),
		SourceLanguage:      row.SourceLanguage,
		TargetLanguage:      row.TargetLanguage,
		RequiredWorkerCount: row.RequiredWorkerCount,
		MinWorkerCount:      row.MinWorkerCount,
		MaxWorkerCount:      row.MaxWorkerCount,
		AssignedWorkers:     []string(row.AssignedWorkers),
		RetryCount:          row.RetryCount,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Input, &t.Input); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.Assignments, &t.Assignments); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.WorkerResponses, &t.WorkerResponses); err != nil {
		return nil, err
	}
	if row.DistributedAt.Valid {
		t2 := row.DistributedAt.Time
		t.DistributedAt = &t2
	}
	if row.CompletedAt.Valid {
		t2 := row.CompletedAt.Time
		t.CompletedAt = &t2
	}
	return t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *types.Task) error {
	row, err := taskToRow(task)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO tasks (task_id, task_type, status, priority, source_language, target_language,
			input, required_worker_count, min_worker_count, max_worker_count, assigned_workers,
			assignments, worker_responses, retry_count, created_at, distributed_at, completed_at, updated_at)
		VALUES (:task_id, :task_type, :status, :priority, :source_language, :target_language,
			:input, :required_worker_count, :min_worker_count, :max_worker_count, :assigned_workers,
			:assignments, :worker_responses, :retry_count, :created_at, :distributed_at, :completed_at, :updated_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE task_id = $1`, taskID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return rowToTask(&row)
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *types.Task) error {
	task.UpdatedAt = time.Now()
	row, err := taskToRow(task)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE tasks SET
			status = :status, priority = :priority, assigned_workers = :assigned_workers,
			assignments = :assignments, worker_responses = :worker_responses, retry_count = :retry_count,
			distributed_at = :distributed_at, completed_at = :completed_at, updated_at = :updated_at
		WHERE task_id = :task_id
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *PostgresStore) ListPendingTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tasks WHERE status = $1
		ORDER BY
			CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC,
			created_at ASC
		LIMIT $2
	`, string(types.TaskPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	return rowsToTasks(rows)
}

func (s *PostgresStore) ListCompletedTasks(ctx context.Context) ([]*types.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM tasks WHERE status = $1`, string(types.TaskCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list completed tasks: %w", err)
	}
	return rowsToTasks(rows)
}

func (s *PostgresStore) ListStaleAssigned(ctx context.Context, olderThan time.Time) ([]*types.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tasks
		WHERE status = $1 AND distributed_at IS NOT NULL AND distributed_at < $2
		  AND worker_responses = '[]'::jsonb
	`, string(types.TaskAssigned), olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale assigned tasks: %w", err)
	}
	return rowsToTasks(rows)
}

func (s *PostgresStore) ListFailedRetryable(ctx context.Context, maxRetries int) ([]*types.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tasks WHERE status = $1 AND retry_count < $2
	`, string(types.TaskFailed), maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable failed tasks: %w", err)
	}
	return rowsToTasks(rows)
}

func rowsToTasks(rows []taskRow) ([]*types.Task, error) {
	tasks := make([]*types.Task, 0, len(rows))
	for i := range rows {
		t, err := rowToTask(&rows[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

type workerRow struct {
	WorkerID               string    `db:"worker_id"`
	Hotkey                 string    `db:"hotkey"`
	Stake                  float64   `db:"stake"`
	IsServing              bool      `db:"is_serving"`
	CurrentLoad            int       `db:"current_load"`
	MaxCapacity            int       `db:"max_capacity"`
	PerformanceScore       float64   `db:"performance_score"`
	TaskTypeSpecialization []byte    `db:"task_type_specialization"`
	LastSeen               time.Time `db:"last_seen"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

func (s *PostgresStore) UpsertWorker(ctx context.Context, w *types.WorkerRecord) error {
	spec, err := json.Marshal(w.TaskTypeSpecialization)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (worker_id, hotkey, stake, is_serving, current_load, max_capacity,
			performance_score, task_type_specialization, last_seen, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (worker_id) DO UPDATE SET
			hotkey = EXCLUDED.hotkey, stake = EXCLUDED.stake, is_serving = EXCLUDED.is_serving,
			current_load = EXCLUDED.current_load, max_capacity = EXCLUDED.max_capacity,
			performance_score = EXCLUDED.performance_score,
			task_type_specialization = EXCLUDED.task_type_specialization,
			last_seen = EXCLUDED.last_seen, updated_at = now()
	`, w.WorkerID, w.Hotkey, w.Stake, w.IsServing, w.CurrentLoad, w.MaxCapacity, w.PerformanceScore, spec, w.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert worker %s: %w", w.WorkerID, err)
	}
	return nil
}

func (s *PostgresStore) GetWorker(ctx context.Context, workerID string) (*types.WorkerRecord, error) {
	var row workerRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM worker_status WHERE worker_id = $1`, workerID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker %s: %w", workerID, err)
	}
	return rowToWorker(&row)
}

func (s *PostgresStore) ListWorkers(ctx context.Context) ([]*types.WorkerRecord, error) {
	var rows []workerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM worker_status`); err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	out := make([]*types.WorkerRecord, 0, len(rows))
	for i := range rows {
		w, err := rowToWorker(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func rowToWorker(row *workerRow) (*types.WorkerRecord, error) {
	w := &types.WorkerRecord{
		WorkerID:         row.WorkerID,
		Hotkey:           row.Hotkey,
		Stake:            row.Stake,
		IsServing:        row.IsServing,
		CurrentLoad:      row.CurrentLoad,
		MaxCapacity:      row.MaxCapacity,
		PerformanceScore: row.PerformanceScore,
		LastSeen:         row.LastSeen,
	}
	if len(row.TaskTypeSpecialization) > 0 {
		if err := json.Unmarshal(row.TaskTypeSpecialization, &w.TaskTypeSpecialization); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (s *PostgresStore) InsertAuditorReport(ctx context.Context, r *types.AuditorReport) error {
	status, err := json.Marshal(r.ReportedStatus)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auditor_reports (auditor_id, worker_id, epoch, timestamp, reported_status, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (auditor_id, worker_id, timestamp) DO NOTHING
	`, r.AuditorID, r.WorkerID, r.Epoch, r.Timestamp, status, r.Confidence)
	if err != nil {
		return fmt.Errorf("failed to insert auditor report for worker %s: %w", r.WorkerID, err)
	}
	return nil
}

func (s *PostgresStore) ListAuditorReportsForWorker(ctx context.Context, workerID string, since time.Time) ([]*types.AuditorReport, error) {
	type reportRow struct {
		AuditorID      string    `db:"auditor_id"`
		WorkerID       string    `db:"worker_id"`
		Epoch          int64     `db:"epoch"`
		Timestamp      time.Time `db:"timestamp"`
		ReportedStatus []byte    `db:"reported_status"`
		Confidence     float64   `db:"confidence"`
	}
	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT auditor_id, worker_id, epoch, timestamp, reported_status, confidence
		FROM auditor_reports WHERE worker_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
	`, workerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list auditor reports for worker %s: %w", workerID, err)
	}
	out := make([]*types.AuditorReport, 0, len(rows))
	for _, row := range rows {
		r := &types.AuditorReport{
			AuditorID:  row.AuditorID,
			WorkerID:   row.WorkerID,
			Epoch:      row.Epoch,
			Timestamp:  row.Timestamp,
			Confidence: row.Confidence,
		}
		if err := json.Unmarshal(row.ReportedStatus, &r.ReportedStatus); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresStore) UpsertConsensusRecord(ctx context.Context, c *types.ConsensusRecord) error {
	status, err := json.Marshal(c.ConsensusStatus)
	if err != nil {
		return err
	}
	conflicts, err := json.Marshal(c.DetectedConflicts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_consensus (worker_id, consensus_status, consensus_confidence,
			contributing_auditors, last_consensus_at, detected_conflicts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (worker_id) DO UPDATE SET
			consensus_status = EXCLUDED.consensus_status,
			consensus_confidence = EXCLUDED.consensus_confidence,
			contributing_auditors = EXCLUDED.contributing_auditors,
			last_consensus_at = EXCLUDED.last_consensus_at,
			detected_conflicts = EXCLUDED.detected_conflicts,
			updated_at = now()
	`, c.WorkerID, status, c.ConsensusConfidence, pq.Array(c.ContributingAuditors), c.LastConsensusAt, conflicts)
	if err != nil {
		return fmt.Errorf("failed to upsert consensus record for worker %s: %w", c.WorkerID, err)
	}
	return nil
}

type consensusRow struct {
	WorkerID             string         `db:"worker_id"`
	ConsensusStatus      []byte         `db:"consensus_status"`
	ConsensusConfidence  float64        `db:"consensus_confidence"`
	ContributingAuditors pq.StringArray `db:"contributing_auditors"`
	LastConsensusAt      time.Time      `db:"last_consensus_at"`
	DetectedConflicts    []byte         `db:"detected_conflicts"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func rowToConsensus(row *consensusRow) (*types.ConsensusRecord, error) {
	c := &types.ConsensusRecord{
		WorkerID:             row.WorkerID,
		ConsensusConfidence:  row.ConsensusConfidence,
		ContributingAuditors: []string(row.ContributingAuditors),
		LastConsensusAt:      row.LastConsensusAt,
	}
	if err := json.Unmarshal(row.ConsensusStatus, &c.ConsensusStatus); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.DetectedConflicts, &c.DetectedConflicts); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) GetConsensusRecord(ctx context.Context, workerID string) (*types.ConsensusRecord, error) {
	var row consensusRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM worker_consensus WHERE worker_id = $1`, workerID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus record for worker %s: %w", workerID, err)
	}
	return rowToConsensus(&row)
}

func (s *PostgresStore) ListConsensusRecords(ctx context.Context) ([]*types.ConsensusRecord, error) {
	var rows []consensusRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM worker_consensus`); err != nil {
		return nil, fmt.Errorf("failed to list consensus records: %w", err)
	}
	out := make([]*types.ConsensusRecord, 0, len(rows))
	for i := range rows {
		c, err := rowToConsensus(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) InsertAuditEvaluation(ctx context.Context, e *types.AuditEvaluation) error {
	perWorker, err := json.Marshal(e.PerWorker)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_evaluations (task_id, auditor_id, evaluated_at, per_worker)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id, auditor_id) DO NOTHING
	`, e.TaskID, e.AuditorID, e.EvaluatedAt, perWorker)
	if err != nil {
		return fmt.Errorf("failed to insert audit evaluation for task %s: %w", e.TaskID, err)
	}
	return nil
}

func (s *PostgresStore) GetAuditEvaluation(ctx context.Context, taskID, auditorID string) (*types.AuditEvaluation, error) {
	type evalRow struct {
		TaskID      string    `db:"task_id"`
		AuditorID   string    `db:"auditor_id"`
		EvaluatedAt time.Time `db:"evaluated_at"`
		PerWorker   []byte    `db:"per_worker"`
	}
	var row evalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT task_id, auditor_id, evaluated_at, per_worker FROM audit_evaluations
		WHERE task_id = $1 AND auditor_id = $2
	`, taskID, auditorID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit evaluation for task %s: %w", taskID, err)
	}
	e := &types.AuditEvaluation{TaskID: row.TaskID, AuditorID: row.AuditorID, EvaluatedAt: row.EvaluatedAt}
	if err := json.Unmarshal(row.PerWorker, &e.PerWorker); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) ListAuditedTaskIDs(ctx context.Context, auditorID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT task_id FROM audit_evaluations WHERE auditor_id = $1`, auditorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audited task ids for auditor %s: %w", auditorID, err)
	}
	return ids, nil
}
