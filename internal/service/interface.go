package service

import (
	"context"
	"time"

	"github.com/godilite/qa-workflow/internal/llm"
	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

// TicketRepository is the datastore contract for review tickets.
type TicketRepository interface {
	Create(ctx context.Context, t *models.Ticket) error
	Get(ctx context.Context, id string) (*models.Ticket, error)
	List(ctx context.Context, filter repository.TicketFilter) ([]models.Ticket, error)
	// Transition writes t's live fields and appends entry only if the stored
	// status still equals from. Returns repository.ErrStaleStatus otherwise.
	Transition(ctx context.Context, t *models.Ticket, from models.ReviewStatus, entry *models.HistoryEntry) error
}

// AuditRepository stores audit entries. There is deliberately no update or delete.
type AuditRepository interface {
	// Append fills entry.Seq and entry.Integrity.PrevHash with the chain head,
	// calls seal to compute the hash, and inserts, all in one transaction.
	Append(ctx context.Context, entry *models.AuditEntry, seal func(*models.AuditEntry) error) error
	Get(ctx context.Context, id string) (*models.AuditEntry, error)
	// Trail returns entries for a subject newest first.
	Trail(ctx context.Context, subjectType, subjectID string, limit int) ([]models.AuditEntry, error)
}

type SpecialistRepository interface {
	ListByDomain(ctx context.Context, domainID string) ([]models.Specialist, error)
	Get(ctx context.Context, id string) (*models.Specialist, error)
	Stats(ctx context.Context, id string) (*models.SpecialistStats, error)
	// Assign records the assignment and increments the workload counter atomically.
	Assign(ctx context.Context, specialistID, ticketID string, at time.Time) error
	// Release completes the open assignment and decrements the counter, never below zero.
	Release(ctx context.Context, specialistID, ticketID string, outcome models.ReviewStatus, at time.Time) error
}

// CorpusRepository reads the feedback corpus around a domain.
type CorpusRepository interface {
	Agents(ctx context.Context, domainID string) ([]models.Agent, error)
	DomainStats(ctx context.Context, domainID string) (*models.DomainStats, error)
	OrgStrategy(ctx context.Context, domainID string) (*models.OrgStrategy, error)
}

// SimilarityFinder retrieves past interactions similar to text. It may return
// an empty set and must honor ctx.
type SimilarityFinder interface {
	FindSimilar(ctx context.Context, domainID, text string, limit int) ([]models.Interaction, error)
}

type QualityRepository interface {
	Inputs(ctx context.Context, domainID string, start, end time.Time) (models.QualityInputs, error)
	LatestSnapshot(ctx context.Context, domainID string) (*models.QualitySnapshot, error)
	SaveSnapshot(ctx context.Context, s *models.QualitySnapshot) error
}

// TextGenerator is the text-generation collaborator.
type TextGenerator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Response, error)
}

// NoSimilarity is the similarity finder used until an index exists.
type NoSimilarity struct{}

func (NoSimilarity) FindSimilar(context.Context, string, string, int) ([]models.Interaction, error) {
	return nil, nil
}
