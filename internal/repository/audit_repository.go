package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

// AuditRepository stores the single global audit chain. Rows are immutable:
// triggers abort any UPDATE or DELETE.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append reads the chain head, seals the entry and inserts it in one
// transaction. With an immediate-mode transaction the write lock is taken at
// BEGIN, so concurrent appends cannot fork the chain.
func (r *AuditRepository) Append(ctx context.Context, e *models.AuditEntry, seal func(*models.AuditEntry) error) error {
	_, err := withTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		var (
			seq  int64
			prev string
		)
		const head = `SELECT seq, hash FROM audit_entries ORDER BY seq DESC LIMIT 1`
		err := tx.QueryRowContext(ctx, head).Scan(&seq, &prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return struct{}{}, fmt.Errorf("read audit chain head: %w", err)
		}

		e.Seq = seq + 1
		e.Integrity.PrevHash = prev
		if err := seal(e); err != nil {
			return struct{}{}, fmt.Errorf("seal audit entry: %w", err)
		}

		body, err := json.Marshal(e)
		if err != nil {
			return struct{}{}, fmt.Errorf("encode audit entry: %w", err)
		}
		const insert = `
			INSERT INTO audit_entries
				(seq, id, recorded_at, subject_type, subject_id, subject_domain, action_type, body, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, insert,
			e.Seq, e.ID, formatTime(e.Timestamp), e.Subject.Type, e.Subject.ID, e.Subject.Domain,
			e.Action.Type, string(body), e.Integrity.PrevHash, e.Integrity.Hash)
		if err != nil {
			return struct{}{}, fmt.Errorf("insert audit entry: %w", mapError(err))
		}
		return struct{}{}, nil
	})
	return err
}

func (r *AuditRepository) Get(ctx context.Context, id string) (*models.AuditEntry, error) {
	const query = `SELECT body FROM audit_entries WHERE id = ?`
	e, err := scanAuditEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("query audit entry %s: %w", id, mapError(err))
	}
	return &e, nil
}

// Trail returns a subject's entries newest first; limit <= 0 means all.
func (r *AuditRepository) Trail(ctx context.Context, subjectType, subjectID string, limit int) ([]models.AuditEntry, error) {
	query := `
		SELECT body FROM audit_entries
		WHERE subject_type = ? AND subject_id = ?
		ORDER BY seq DESC
	`
	args := []any{subjectType, subjectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	entries, err := queryMany(ctx, r.db, query, args, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(s scanner) (models.AuditEntry, error) {
	var (
		e    models.AuditEntry
		body string
	)
	if err := s.Scan(&body); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return e, fmt.Errorf("decode audit entry: %w", err)
	}
	return e, nil
}
