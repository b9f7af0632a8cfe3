package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

type SpecialistRepository struct {
	db *sql.DB
}

func NewSpecialistRepository(db *sql.DB) *SpecialistRepository {
	return &SpecialistRepository{db: db}
}

const specialistColumns = `id, domain_id, name, email, specialty, domains, max_assignments, current_assignments`

// Save inserts or replaces a specialist's profile. The workload counter is
// left untouched for existing rows.
func (r *SpecialistRepository) Save(ctx context.Context, s models.Specialist) error {
	domains, err := encodeList(s.Domains)
	if err != nil {
		return fmt.Errorf("encode specialist domains: %w", err)
	}
	const query = `
		INSERT INTO specialists (` + specialistColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			domain_id = excluded.domain_id,
			name = excluded.name,
			email = excluded.email,
			specialty = excluded.specialty,
			domains = excluded.domains,
			max_assignments = excluded.max_assignments
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.DomainID, s.Name, s.Email, s.Specialty, domains, s.MaxAssignments, max(0, s.CurrentAssignments))
	if err != nil {
		return fmt.Errorf("save specialist %s: %w", s.ID, err)
	}
	return nil
}

func (r *SpecialistRepository) ListByDomain(ctx context.Context, domainID string) ([]models.Specialist, error) {
	const query = `SELECT ` + specialistColumns + ` FROM specialists WHERE domain_id = ? ORDER BY id`
	out, err := queryMany(ctx, r.db, query, []any{domainID}, scanSpecialist)
	if err != nil {
		return nil, fmt.Errorf("query specialists: %w", err)
	}
	return out, nil
}

func (r *SpecialistRepository) Get(ctx context.Context, id string) (*models.Specialist, error) {
	const query = `SELECT ` + specialistColumns + ` FROM specialists WHERE id = ?`
	s, err := scanSpecialist(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("query specialist %s: %w", id, mapError(err))
	}
	return &s, nil
}

// Stats derives performance from completed assignments. An assignment that
// ended in a correction proposal counts as approved; response time is the
// span from assignment to completion.
func (r *SpecialistRepository) Stats(ctx context.Context, id string) (*models.SpecialistStats, error) {
	const query = `
		SELECT
			COUNT(*) AS completed,
			CASE
				WHEN COUNT(*) > 0
				THEN CAST(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END) AS REAL) / COUNT(*)
				ELSE 0
			END AS approval_rate,
			COALESCE(AVG((julianday(completed_at) - julianday(assigned_at)) * 24.0), 0) AS avg_hours
		FROM specialist_assignments
		WHERE specialist_id = ? AND completed_at IS NOT NULL
	`
	var st models.SpecialistStats
	err := r.db.QueryRowContext(ctx, query, models.StatusCorrectionProposed, id).
		Scan(&st.CompletedCount, &st.ApprovalRate, &st.AvgResponseTimeHours)
	if err != nil {
		return nil, fmt.Errorf("query specialist stats: %w", err)
	}
	if st.CompletedCount == 0 {
		return nil, ErrNotFound
	}
	return &st, nil
}

// Assign increments the workload counter and opens an assignment row in one
// transaction.
func (r *SpecialistRepository) Assign(ctx context.Context, specialistID, ticketID string, at time.Time) error {
	_, err := withTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE specialists SET current_assignments = current_assignments + 1 WHERE id = ?`, specialistID)
		if err != nil {
			return struct{}{}, fmt.Errorf("increment workload: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return struct{}{}, err
		} else if n == 0 {
			return struct{}{}, fmt.Errorf("specialist %s: %w", specialistID, ErrNotFound)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO specialist_assignments (specialist_id, ticket_id, assigned_at) VALUES (?, ?, ?)`,
			specialistID, ticketID, formatTime(at))
		if err != nil {
			return struct{}{}, fmt.Errorf("insert assignment: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Release closes the open assignment and decrements the counter, never below
// zero.
func (r *SpecialistRepository) Release(ctx context.Context, specialistID, ticketID string, outcome models.ReviewStatus, at time.Time) error {
	_, err := withTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE specialists SET current_assignments = MAX(current_assignments - 1, 0) WHERE id = ?`, specialistID)
		if err != nil {
			return struct{}{}, fmt.Errorf("decrement workload: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return struct{}{}, err
		} else if n == 0 {
			return struct{}{}, fmt.Errorf("specialist %s: %w", specialistID, ErrNotFound)
		}

		const closeOpen = `
			UPDATE specialist_assignments
			SET completed_at = ?, outcome = ?
			WHERE specialist_id = ? AND ticket_id = ? AND completed_at IS NULL
		`
		if _, err := tx.ExecContext(ctx, closeOpen, formatTime(at), outcome, specialistID, ticketID); err != nil {
			return struct{}{}, fmt.Errorf("complete assignment: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func scanSpecialist(s scanner) (models.Specialist, error) {
	var (
		sp      models.Specialist
		domains string
	)
	if err := s.Scan(&sp.ID, &sp.DomainID, &sp.Name, &sp.Email, &sp.Specialty, &domains,
		&sp.MaxAssignments, &sp.CurrentAssignments); err != nil {
		return sp, err
	}
	list, err := decodeList[string](domains)
	if err != nil {
		return sp, fmt.Errorf("decode specialist domains: %w", err)
	}
	sp.Domains = list
	return sp, nil
}
