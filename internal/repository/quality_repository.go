package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

// FeedbackRecord is one row of end-user or expert feedback. Nil fields were
// not collected.
type FeedbackRecord struct {
	ID           string
	DomainID     string
	CSAT         *float64
	NPS          *int
	ExpertRating models.ExpertRating
	Resolved     *bool
	Accurate     *bool
	CreatedAt    time.Time
}

type QualityRepository struct {
	db *sql.DB
}

func NewQualityRepository(db *sql.DB) *QualityRepository {
	return &QualityRepository{db: db}
}

func (r *QualityRepository) RecordFeedback(ctx context.Context, f FeedbackRecord) error {
	var expert sql.NullString
	if f.ExpertRating != "" {
		expert = sql.NullString{String: string(f.ExpertRating), Valid: true}
	}
	const query = `
		INSERT INTO feedback (id, domain_id, csat, nps, expert_rating, resolved, accurate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.DomainID, f.CSAT, f.NPS, expert, f.Resolved, f.Accurate, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert feedback: %w", mapError(err))
	}
	return nil
}

// Inputs aggregates the raw DQS inputs of [start, end) entirely in SQL.
func (r *QualityRepository) Inputs(ctx context.Context, domainID string, start, end time.Time) (models.QualityInputs, error) {
	const query = `
		SELECT
			COALESCE(SUM(csat), 0),
			COUNT(csat),
			COALESCE(SUM(CASE WHEN nps >= 9 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN nps BETWEEN 7 AND 8 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN nps <= 6 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expert_rating = 'unacceptable' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expert_rating = 'acceptable' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expert_rating = 'outstanding' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(resolved), 0),
			COUNT(resolved),
			COALESCE(SUM(accurate), 0),
			COUNT(accurate)
		FROM feedback
		WHERE domain_id = ? AND created_at >= ? AND created_at < ?
	`
	var in models.QualityInputs
	err := r.db.QueryRowContext(ctx, query, domainID, formatTime(start), formatTime(end)).Scan(
		&in.CSATSum, &in.CSATCount,
		&in.NPSPromoters, &in.NPSPassives, &in.NPSDetractors,
		&in.ExpertUnacceptable, &in.ExpertAcceptable, &in.ExpertOutstanding,
		&in.ResolvedCount, &in.ResolutionTotal,
		&in.AccurateCount, &in.AccuracyTotal)
	if err != nil {
		return models.QualityInputs{}, fmt.Errorf("query quality inputs: %w", err)
	}
	return in, nil
}

const snapshotColumns = `id, domain_id, period_start, period_end, csat_score, nps_score, expert_score,
	resolution, accuracy, dqs, trend, previous_dqs, change, band, policy_version, defaulted, computed_at`

func (r *QualityRepository) SaveSnapshot(ctx context.Context, s *models.QualitySnapshot) error {
	defaulted, err := encodeList(s.Defaulted)
	if err != nil {
		return fmt.Errorf("encode defaulted components: %w", err)
	}
	const query = `
		INSERT INTO quality_snapshots (domain_id, period_start, period_end, csat_score, nps_score,
			expert_score, resolution, accuracy, dqs, trend, previous_dqs, change, band, policy_version,
			defaulted, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		s.DomainID, formatTime(s.PeriodStart), formatTime(s.PeriodEnd),
		s.CSATScore, s.NPSScore, s.ExpertRatingScore, s.ResolutionScore, s.AccuracyScore,
		s.DQS, s.Trend, s.PreviousDQS, s.ChangeFromPrevious, s.Band, s.PolicyVersion,
		defaulted, formatTime(s.ComputedAt))
	if err != nil {
		return fmt.Errorf("insert quality snapshot: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("snapshot id: %w", err)
	}
	return nil
}

func (r *QualityRepository) LatestSnapshot(ctx context.Context, domainID string) (*models.QualitySnapshot, error) {
	const query = `
		SELECT ` + snapshotColumns + `
		FROM quality_snapshots
		WHERE domain_id = ?
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`
	var (
		s                                   models.QualitySnapshot
		previous                            sql.NullFloat64
		start, end, computedAt, defaultedJS string
	)
	err := r.db.QueryRowContext(ctx, query, domainID).Scan(
		&s.ID, &s.DomainID, &start, &end, &s.CSATScore, &s.NPSScore, &s.ExpertRatingScore,
		&s.ResolutionScore, &s.AccuracyScore, &s.DQS, &s.Trend, &previous, &s.ChangeFromPrevious,
		&s.Band, &s.PolicyVersion, &defaultedJS, &computedAt)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot of %s: %w", domainID, mapError(err))
	}
	if previous.Valid {
		s.PreviousDQS = &previous.Float64
	}
	if s.Defaulted, err = decodeList[string](defaultedJS); err != nil {
		return nil, fmt.Errorf("decode defaulted components: %w", err)
	}
	if s.PeriodStart, err = parseTime(start); err != nil {
		return nil, err
	}
	if s.PeriodEnd, err = parseTime(end); err != nil {
		return nil, err
	}
	if s.ComputedAt, err = parseTime(computedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
