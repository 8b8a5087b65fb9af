// Package postgres provides Postgres-backed persistence for case records
// and their activity rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/engine"
)

// ErrVersionConflict is returned when a save races a concurrent writer.
// Callers rebuild the case from storage and replay the transaction.
var ErrVersionConflict = errors.New("case version conflict")

// ErrNotFound is returned when a case id has no row.
var ErrNotFound = errors.New("case not found")

// Store persists case records as versioned fact snapshots plus one queryable
// row per activity.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LoadCase rebuilds a case record from its stored snapshot.
func (s *Store) LoadCase(ctx context.Context, caseID string) (*casefile.CaseRecord, error) {
	const query = `SELECT case_type, version, snapshot FROM cases WHERE case_id=$1`

	var (
		caseType string
		version  int64
		raw      []byte
	)
	if err := s.pool.QueryRow(ctx, query, caseID).Scan(&caseType, &version, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var snap casefile.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("snapshot for case %s: %w", caseID, err)
	}
	rec := casefile.FromSnapshot(snap)
	rec.SetVersion(version)
	return rec, nil
}

// SaveCase writes the record's snapshot and activity rows in one
// transaction, guarded by optimistic concurrency on the version column.
func (s *Store) SaveCase(ctx context.Context, rec *casefile.CaseRecord, activities []engine.Activity) error {
	raw, err := json.Marshal(rec.Snapshot())
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const update = `UPDATE cases SET snapshot=$1, version=version+1, updated_at=NOW()
        WHERE case_id=$2 AND version=$3`

	tag, err := tx.Exec(ctx, update, raw, rec.CaseID(), rec.Version())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = ErrVersionConflict
		return err
	}

	if err = s.replaceActivityRows(ctx, tx, rec.CaseID(), activities); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	rec.SetVersion(rec.Version() + 1)
	casesSaved.Inc()
	return nil
}

// Submit inserts a brand-new case, satisfying engine.CaseSubmitter for
// referral case creation.
func (s *Store) Submit(ctx context.Context, rec *casefile.CaseRecord) (engine.SubmitResult, error) {
	raw, err := json.Marshal(rec.Snapshot())
	if err != nil {
		return engine.SubmitResult{}, err
	}

	const insert = `INSERT INTO cases (case_id, case_type, version, snapshot, created_at, updated_at)
        VALUES ($1, $2, 1, $3, NOW(), NOW())`

	if _, err := s.pool.Exec(ctx, insert, rec.CaseID(), rec.CaseType(), raw); err != nil {
		return engine.SubmitResult{}, err
	}
	rec.SetVersion(1)
	casesSubmitted.Inc()
	return engine.SubmitResult{CaseID: rec.CaseID()}, nil
}

func (s *Store) replaceActivityRows(ctx context.Context, tx pgx.Tx, caseID string, activities []engine.Activity) error {
	if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE case_id=$1`, caseID); err != nil {
		return err
	}

	const insert = `INSERT INTO activities
        (activity_id, case_id, activity_type, outcome, details, assigned_to, created_by, created_date, updated_date, due_date, completed_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	for _, a := range activities {
		if _, err := tx.Exec(ctx, insert,
			a.ID,
			caseID,
			a.Type,
			nullIfEmpty(a.Outcome),
			nullIfEmpty(a.Details),
			nullIfEmpty(a.AssignedTo),
			nullIfEmpty(a.CreatedBy),
			a.CreatedDate,
			a.UpdatedDate,
			a.DueDate,
			a.CompletedDate,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListOpenActivities returns activity rows with a due date and no outcome,
// ordered by due date. Used by operators to watch approaching deadlines.
func (s *Store) ListOpenActivities(ctx context.Context, limit int) ([]engine.Activity, error) {
	const query = `SELECT activity_id, case_id, activity_type, COALESCE(details,''), COALESCE(assigned_to,''), COALESCE(created_by,''), created_date, updated_date, due_date
        FROM activities
        WHERE outcome IS NULL AND due_date IS NOT NULL
        ORDER BY due_date
        LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Activity
	for rows.Next() {
		var a engine.Activity
		var caseID string
		if err := rows.Scan(&a.ID, &caseID, &a.Type, &a.Details, &a.AssignedTo, &a.CreatedBy, &a.CreatedDate, &a.UpdatedDate, &a.DueDate); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
