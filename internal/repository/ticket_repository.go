package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

type TicketRepository struct {
	db *sql.DB
}

func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = `id, feedback_id, domain_id, title, category, question, original_response,
	reviewer_notes, priority, status, version, proposal, impact, assignment, approvals,
	implementation, created_at, updated_at`

type ticketPayload struct {
	proposal, impact, assignment, approvals, implementation sql.NullString
}

func encodeTicket(t *models.Ticket) (ticketPayload, error) {
	var (
		p   ticketPayload
		err error
	)
	if p.proposal, err = jsonColumn(t.Proposal, t.Proposal == nil); err != nil {
		return p, fmt.Errorf("encode proposal: %w", err)
	}
	if p.impact, err = jsonColumn(t.Impact, t.Impact == nil); err != nil {
		return p, fmt.Errorf("encode impact: %w", err)
	}
	if p.assignment, err = jsonColumn(t.Assignment, t.Assignment == nil); err != nil {
		return p, fmt.Errorf("encode assignment: %w", err)
	}
	if p.approvals, err = jsonColumn(t.Approvals, len(t.Approvals) == 0); err != nil {
		return p, fmt.Errorf("encode approvals: %w", err)
	}
	if p.implementation, err = jsonColumn(t.Implementation, t.Implementation == nil); err != nil {
		return p, fmt.Errorf("encode implementation: %w", err)
	}
	return p, nil
}

// Create inserts a new ticket at version 1 together with any seed history.
func (r *TicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	p, err := encodeTicket(t)
	if err != nil {
		return err
	}
	t.Version = 1

	_, err = withTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		const query = `
			INSERT INTO tickets (` + ticketColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			t.ID, t.FeedbackID, t.DomainID, t.Title, t.Category, t.Question, t.OriginalResponse,
			t.ReviewerNotes, t.Priority, t.Status, t.Version,
			p.proposal, p.impact, p.assignment, p.approvals, p.implementation,
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return struct{}{}, fmt.Errorf("insert ticket: %w", mapError(err))
		}
		for i := range t.History {
			t.History[i].Seq = int64(i + 1)
			t.History[i].TicketID = t.ID
			if err := insertHistory(ctx, tx, &t.History[i]); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// Get loads a ticket with its full history.
func (r *TicketRepository) Get(ctx context.Context, id string) (*models.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`

	t, err := scanTicket(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("query ticket %s: %w", id, mapError(err))
	}
	history, err := r.history(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	t.History = history
	return &t, nil
}

// List returns tickets newest first without their history.
func (r *TicketRepository) List(ctx context.Context, f TicketFilter) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1 = 1`
	var args []any
	if f.DomainID != "" {
		query += ` AND domain_id = ?`
		args = append(args, f.DomainID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	tickets, err := queryMany(ctx, r.db, query, args, scanTicket)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	return tickets, nil
}

// Transition compare-and-swaps the status from `from` to t.Status, rewrites
// the live fields, bumps the version and appends entry in one transaction.
func (r *TicketRepository) Transition(ctx context.Context, t *models.Ticket, from models.ReviewStatus, entry *models.HistoryEntry) error {
	p, err := encodeTicket(t)
	if err != nil {
		return err
	}

	version, err := withTx(ctx, r.db, func(tx *sql.Tx) (int64, error) {
		const update = `
			UPDATE tickets
			SET status = ?, version = version + 1, priority = ?, reviewer_notes = ?,
				proposal = ?, impact = ?, assignment = ?, approvals = ?, implementation = ?,
				updated_at = ?
			WHERE id = ? AND status = ?
			RETURNING version
		`
		var version int64
		err := tx.QueryRowContext(ctx, update,
			t.Status, t.Priority, t.ReviewerNotes,
			p.proposal, p.impact, p.assignment, p.approvals, p.implementation,
			formatTime(t.UpdatedAt), t.ID, from).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE id = ?`, t.ID).Scan(&exists); err != nil {
				return 0, fmt.Errorf("ticket %s: %w", t.ID, mapError(err))
			}
			return 0, ErrStaleStatus
		}
		if err != nil {
			return 0, fmt.Errorf("update ticket status: %w", err)
		}

		const next = `SELECT COALESCE(MAX(seq), 0) + 1 FROM review_history WHERE ticket_id = ?`
		if err := tx.QueryRowContext(ctx, next, t.ID).Scan(&entry.Seq); err != nil {
			return 0, fmt.Errorf("next history seq: %w", err)
		}
		entry.TicketID = t.ID
		if err := insertHistory(ctx, tx, entry); err != nil {
			return 0, err
		}
		return version, nil
	})
	if err != nil {
		return err
	}
	t.Version = version
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, e *models.HistoryEntry) error {
	const query = `
		INSERT INTO review_history
			(ticket_id, seq, from_status, to_status, changed_by, changed_by_role, changed_at, notes, automated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		e.TicketID, e.Seq, e.FromStatus, e.ToStatus, e.ChangedBy, e.ChangedByRole,
		formatTime(e.ChangedAt), e.Notes, e.Automated)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", mapError(err))
	}
	return nil
}

func (r *TicketRepository) history(ctx context.Context, q querier, ticketID string) ([]models.HistoryEntry, error) {
	const query = `
		SELECT ticket_id, seq, from_status, to_status, changed_by, changed_by_role, changed_at, notes, automated
		FROM review_history
		WHERE ticket_id = ?
		ORDER BY seq
	`
	entries, err := queryMany(ctx, q, query, []any{ticketID}, func(s scanner) (models.HistoryEntry, error) {
		var (
			e         models.HistoryEntry
			changedAt string
		)
		if err := s.Scan(&e.TicketID, &e.Seq, &e.FromStatus, &e.ToStatus, &e.ChangedBy,
			&e.ChangedByRole, &changedAt, &e.Notes, &e.Automated); err != nil {
			return e, err
		}
		at, err := parseTime(changedAt)
		e.ChangedAt = at
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("query history of %s: %w", ticketID, err)
	}
	return entries, nil
}

func scanTicket(s scanner) (models.Ticket, error) {
	var (
		t                    models.Ticket
		p                    ticketPayload
		createdAt, updatedAt string
	)
	err := s.Scan(&t.ID, &t.FeedbackID, &t.DomainID, &t.Title, &t.Category, &t.Question,
		&t.OriginalResponse, &t.ReviewerNotes, &t.Priority, &t.Status, &t.Version,
		&p.proposal, &p.impact, &p.assignment, &p.approvals, &p.implementation,
		&createdAt, &updatedAt)
	if err != nil {
		return t, err
	}

	if t.Proposal, err = decodeColumn[models.CorrectionProposal](p.proposal); err != nil {
		return t, fmt.Errorf("decode proposal: %w", err)
	}
	if t.Impact, err = decodeColumn[models.ImpactAnalysis](p.impact); err != nil {
		return t, fmt.Errorf("decode impact: %w", err)
	}
	if t.Assignment, err = decodeColumn[models.Assignment](p.assignment); err != nil {
		return t, fmt.Errorf("decode assignment: %w", err)
	}
	approvals, err := decodeColumn[[]models.Approval](p.approvals)
	if err != nil {
		return t, fmt.Errorf("decode approvals: %w", err)
	}
	if approvals != nil {
		t.Approvals = *approvals
	}
	if t.Implementation, err = decodeColumn[models.Implementation](p.implementation); err != nil {
		return t, fmt.Errorf("decode implementation: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return t, err
	}
	t.History = []models.HistoryEntry{}
	return t, nil
}
