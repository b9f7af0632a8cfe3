package grpc

import (
	"context"
	"time"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/internal/service"
)

// Cacher defines the interface for cache operations.
type Cacher interface {
	Close() error
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// WorkflowService is the ticket surface exposed over gRPC.
type WorkflowService interface {
	CreateTicket(ctx context.Context, fb models.Feedback, actor models.Actor) (*models.Ticket, error)
	GetTicket(ctx context.Context, id string, actor models.Actor) (*models.Ticket, error)
	ListTickets(ctx context.Context, filter repository.TicketFilter, actor models.Actor) ([]models.Ticket, error)
	TicketActions(ctx context.Context, id string, actor models.Actor) ([]service.Action, error)
	Transition(ctx context.Context, in service.TransitionInput, actor models.Actor) (*models.Ticket, error)
	ProposeCorrection(ctx context.Context, ticketID string, p models.CorrectionProposal, actor models.Actor) (*models.Ticket, error)
	SuggestCorrection(ctx context.Context, ticketID string, changeType models.ChangeType, contextUsed []string, behaviorSpec string, actor models.Actor) (service.Outcome[models.CorrectionProposal], error)
	Escalate(ctx context.Context, ticketID, specialistID string, actor models.Actor) (*models.Ticket, []models.SpecialistMatch, error)
	Approve(ctx context.Context, ticketID, notes string, actor models.Actor) (*models.Ticket, error)
	ApplyCorrection(ctx context.Context, ticketID string, testingCompleted bool, actor models.Actor) (*models.Ticket, error)
	Trail(ctx context.Context, ticketID string, limit int, actor models.Actor) ([]models.AuditEntry, error)
	VerifyTrail(ctx context.Context, ticketID string, actor models.Actor) (*service.TrailVerification, error)
}

// QualityService computes and reads Domain Quality Score snapshots.
type QualityService interface {
	Compute(ctx context.Context, domainID string, period service.Period) (*models.QualitySnapshot, error)
	Latest(ctx context.Context, domainID string) (*models.QualitySnapshot, error)
}
