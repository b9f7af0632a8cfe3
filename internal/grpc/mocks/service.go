package mocks

import (
	"context"
	"errors"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/internal/service"
)

// MockWorkflowService is a mock implementation of the WorkflowService interface
// for testing the handler layer. It uses function-based mocking for flexibility.
type MockWorkflowService struct {
	CreateTicketFunc      func(ctx context.Context, fb models.Feedback, actor models.Actor) (*models.Ticket, error)
	GetTicketFunc         func(ctx context.Context, id string, actor models.Actor) (*models.Ticket, error)
	ListTicketsFunc       func(ctx context.Context, filter repository.TicketFilter, actor models.Actor) ([]models.Ticket, error)
	TicketActionsFunc     func(ctx context.Context, id string, actor models.Actor) ([]service.Action, error)
	TransitionFunc        func(ctx context.Context, in service.TransitionInput, actor models.Actor) (*models.Ticket, error)
	ProposeCorrectionFunc func(ctx context.Context, ticketID string, p models.CorrectionProposal, actor models.Actor) (*models.Ticket, error)
	SuggestCorrectionFunc func(ctx context.Context, ticketID string, changeType models.ChangeType, contextUsed []string, behaviorSpec string, actor models.Actor) (service.Outcome[models.CorrectionProposal], error)
	EscalateFunc          func(ctx context.Context, ticketID, specialistID string, actor models.Actor) (*models.Ticket, []models.SpecialistMatch, error)
	ApproveFunc           func(ctx context.Context, ticketID, notes string, actor models.Actor) (*models.Ticket, error)
	ApplyCorrectionFunc   func(ctx context.Context, ticketID string, testingCompleted bool, actor models.Actor) (*models.Ticket, error)
	TrailFunc             func(ctx context.Context, ticketID string, limit int, actor models.Actor) ([]models.AuditEntry, error)
	VerifyTrailFunc       func(ctx context.Context, ticketID string, actor models.Actor) (*service.TrailVerification, error)
}

func (m *MockWorkflowService) CreateTicket(ctx context.Context, fb models.Feedback, actor models.Actor) (*models.Ticket, error) {
	if m.CreateTicketFunc != nil {
		return m.CreateTicketFunc(ctx, fb, actor)
	}
	return nil, errors.New("CreateTicketFunc not implemented")
}

func (m *MockWorkflowService) GetTicket(ctx context.Context, id string, actor models.Actor) (*models.Ticket, error) {
	if m.GetTicketFunc != nil {
		return m.GetTicketFunc(ctx, id, actor)
	}
	return nil, errors.New("GetTicketFunc not implemented")
}

func (m *MockWorkflowService) ListTickets(ctx context.Context, filter repository.TicketFilter, actor models.Actor) ([]models.Ticket, error) {
	if m.ListTicketsFunc != nil {
		return m.ListTicketsFunc(ctx, filter, actor)
	}
	return nil, errors.New("ListTicketsFunc not implemented")
}

func (m *MockWorkflowService) TicketActions(ctx context.Context, id string, actor models.Actor) ([]service.Action, error) {
	if m.TicketActionsFunc != nil {
		return m.TicketActionsFunc(ctx, id, actor)
	}
	return nil, errors.New("TicketActionsFunc not implemented")
}

func (m *MockWorkflowService) Transition(ctx context.Context, in service.TransitionInput, actor models.Actor) (*models.Ticket, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, in, actor)
	}
	return nil, errors.New("TransitionFunc not implemented")
}

func (m *MockWorkflowService) ProposeCorrection(ctx context.Context, ticketID string, p models.CorrectionProposal, actor models.Actor) (*models.Ticket, error) {
	if m.ProposeCorrectionFunc != nil {
		return m.ProposeCorrectionFunc(ctx, ticketID, p, actor)
	}
	return nil, errors.New("ProposeCorrectionFunc not implemented")
}

func (m *MockWorkflowService) SuggestCorrection(ctx context.Context, ticketID string, changeType models.ChangeType, contextUsed []string, behaviorSpec string, actor models.Actor) (service.Outcome[models.CorrectionProposal], error) {
	if m.SuggestCorrectionFunc != nil {
		return m.SuggestCorrectionFunc(ctx, ticketID, changeType, contextUsed, behaviorSpec, actor)
	}
	return service.Outcome[models.CorrectionProposal]{}, errors.New("SuggestCorrectionFunc not implemented")
}

func (m *MockWorkflowService) Escalate(ctx context.Context, ticketID, specialistID string, actor models.Actor) (*models.Ticket, []models.SpecialistMatch, error) {
	if m.EscalateFunc != nil {
		return m.EscalateFunc(ctx, ticketID, specialistID, actor)
	}
	return nil, nil, errors.New("EscalateFunc not implemented")
}

func (m *MockWorkflowService) Approve(ctx context.Context, ticketID, notes string, actor models.Actor) (*models.Ticket, error) {
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, ticketID, notes, actor)
	}
	return nil, errors.New("ApproveFunc not implemented")
}

func (m *MockWorkflowService) ApplyCorrection(ctx context.Context, ticketID string, testingCompleted bool, actor models.Actor) (*models.Ticket, error) {
	if m.ApplyCorrectionFunc != nil {
		return m.ApplyCorrectionFunc(ctx, ticketID, testingCompleted, actor)
	}
	return nil, errors.New("ApplyCorrectionFunc not implemented")
}

func (m *MockWorkflowService) Trail(ctx context.Context, ticketID string, limit int, actor models.Actor) ([]models.AuditEntry, error) {
	if m.TrailFunc != nil {
		return m.TrailFunc(ctx, ticketID, limit, actor)
	}
	return nil, errors.New("TrailFunc not implemented")
}

func (m *MockWorkflowService) VerifyTrail(ctx context.Context, ticketID string, actor models.Actor) (*service.TrailVerification, error) {
	if m.VerifyTrailFunc != nil {
		return m.VerifyTrailFunc(ctx, ticketID, actor)
	}
	return nil, errors.New("VerifyTrailFunc not implemented")
}

// MockQualityService is a function-field mock of the QualityService interface.
type MockQualityService struct {
	ComputeFunc func(ctx context.Context, domainID string, period service.Period) (*models.QualitySnapshot, error)
	LatestFunc  func(ctx context.Context, domainID string) (*models.QualitySnapshot, error)
}

func (m *MockQualityService) Compute(ctx context.Context, domainID string, period service.Period) (*models.QualitySnapshot, error) {
	if m.ComputeFunc != nil {
		return m.ComputeFunc(ctx, domainID, period)
	}
	return nil, errors.New("ComputeFunc not implemented")
}

func (m *MockQualityService) Latest(ctx context.Context, domainID string) (*models.QualitySnapshot, error) {
	if m.LatestFunc != nil {
		return m.LatestFunc(ctx, domainID)
	}
	return nil, errors.New("LatestFunc not implemented")
}
