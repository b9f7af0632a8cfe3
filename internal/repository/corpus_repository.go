package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

const (
	statsWindow      = 30 * 24 * time.Hour
	poorRatingCutoff = 2
	maxSearchTerms   = 5
	minTermLength    = 5
)

// CorpusRepository reads agents, past interactions and organization strategy.
type CorpusRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewCorpusRepository(db *sql.DB) *CorpusRepository {
	return &CorpusRepository{db: db, now: time.Now}
}

func (r *CorpusRepository) SaveAgent(ctx context.Context, a models.Agent) error {
	sources, err := encodeList(a.KnowledgeSources)
	if err != nil {
		return fmt.Errorf("encode knowledge sources: %w", err)
	}
	const query = `
		INSERT INTO agents (id, domain_id, name, knowledge_sources) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			domain_id = excluded.domain_id,
			name = excluded.name,
			knowledge_sources = excluded.knowledge_sources
	`
	if _, err := r.db.ExecContext(ctx, query, a.ID, a.DomainID, a.Name, sources); err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

func (r *CorpusRepository) Agents(ctx context.Context, domainID string) ([]models.Agent, error) {
	const query = `SELECT id, domain_id, name, knowledge_sources FROM agents WHERE domain_id = ? ORDER BY id`
	agents, err := queryMany(ctx, r.db, query, []any{domainID}, func(s scanner) (models.Agent, error) {
		var (
			a       models.Agent
			sources string
		)
		if err := s.Scan(&a.ID, &a.DomainID, &a.Name, &sources); err != nil {
			return a, err
		}
		list, err := decodeList[string](sources)
		a.KnowledgeSources = list
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	return agents, nil
}

func (r *CorpusRepository) RecordInteraction(ctx context.Context, in models.Interaction) error {
	var rating sql.NullFloat64
	if in.Rating > 0 {
		rating = sql.NullFloat64{Float64: in.Rating, Valid: true}
	}
	const query = `
		INSERT INTO interactions (id, domain_id, user_id, agent_id, question, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		in.ID, in.DomainID, in.UserID, in.AgentID, in.Question, rating, formatTime(in.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert interaction: %w", mapError(err))
	}
	return nil
}

// DomainStats counts the interactions of the trailing 30 days and the share
// of rated ones at or below two stars.
func (r *CorpusRepository) DomainStats(ctx context.Context, domainID string) (*models.DomainStats, error) {
	const query = `
		SELECT
			COUNT(*) AS total,
			CASE
				WHEN COUNT(rating) > 0
				THEN CAST(SUM(CASE WHEN rating <= ? THEN 1 ELSE 0 END) AS REAL) / COUNT(rating)
				ELSE 0
			END AS poor_rate
		FROM interactions
		WHERE domain_id = ? AND created_at >= ?
	`
	since := formatTime(r.now().Add(-statsWindow))
	var ds models.DomainStats
	if err := r.db.QueryRowContext(ctx, query, poorRatingCutoff, domainID, since).
		Scan(&ds.MonthlyInteractions, &ds.PoorResponseRate); err != nil {
		return nil, fmt.Errorf("query domain stats: %w", err)
	}
	if ds.MonthlyInteractions == 0 {
		return nil, ErrNotFound
	}
	return &ds, nil
}

// FindSimilar returns recent interactions whose question shares a significant
// word with text.
func (r *CorpusRepository) FindSimilar(ctx context.Context, domainID, text string, limit int) ([]models.Interaction, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return []models.Interaction{}, nil
	}

	clauses := make([]string, len(terms))
	args := []any{domainID}
	for i, t := range terms {
		clauses[i] = `LOWER(question) LIKE ?`
		args = append(args, "%"+t+"%")
	}
	query := `
		SELECT id, domain_id, user_id, agent_id, question, COALESCE(rating, 0), created_at
		FROM interactions
		WHERE domain_id = ? AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY created_at DESC
	`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	out, err := queryMany(ctx, r.db, query, args, func(s scanner) (models.Interaction, error) {
		var (
			in        models.Interaction
			createdAt string
		)
		if err := s.Scan(&in.ID, &in.DomainID, &in.UserID, &in.AgentID, &in.Question, &in.Rating, &createdAt); err != nil {
			return in, err
		}
		at, err := parseTime(createdAt)
		in.CreatedAt = at
		return in, err
	})
	if err != nil {
		return nil, fmt.Errorf("query similar interactions: %w", err)
	}
	return out, nil
}

func searchTerms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{})
	var terms []string
	for _, w := range words {
		if len([]rune(w)) < minTermLength {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}

func (r *CorpusRepository) SaveStrategy(ctx context.Context, s models.OrgStrategy) error {
	objectives, err := encodeList(s.Objectives)
	if err != nil {
		return fmt.Errorf("encode objectives: %w", err)
	}
	kpis, err := encodeList(s.KPIs)
	if err != nil {
		return fmt.Errorf("encode kpis: %w", err)
	}
	const query = `
		INSERT INTO org_strategies (domain_id, mission, objectives, kpis) VALUES (?, ?, ?, ?)
		ON CONFLICT (domain_id) DO UPDATE SET
			mission = excluded.mission,
			objectives = excluded.objectives,
			kpis = excluded.kpis
	`
	if _, err := r.db.ExecContext(ctx, query, s.DomainID, s.Mission, objectives, kpis); err != nil {
		return fmt.Errorf("save strategy of %s: %w", s.DomainID, err)
	}
	return nil
}

func (r *CorpusRepository) OrgStrategy(ctx context.Context, domainID string) (*models.OrgStrategy, error) {
	const query = `SELECT domain_id, mission, objectives, kpis FROM org_strategies WHERE domain_id = ?`
	var (
		s                models.OrgStrategy
		objectives, kpis string
	)
	err := r.db.QueryRowContext(ctx, query, domainID).Scan(&s.DomainID, &s.Mission, &objectives, &kpis)
	if err != nil {
		return nil, fmt.Errorf("query strategy of %s: %w", domainID, mapError(err))
	}
	if s.Objectives, err = decodeList[string](objectives); err != nil {
		return nil, fmt.Errorf("decode objectives: %w", err)
	}
	if s.KPIs, err = decodeList[models.KPI](kpis); err != nil {
		return nil, fmt.Errorf("decode kpis: %w", err)
	}
	return &s, nil
}
