package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

const storeTimeout = 5 * time.Second

var transitions = map[models.ReviewStatus][]models.ReviewStatus{
	models.StatusPending: {
		models.StatusInReview,
		models.StatusRejected,
	},
	models.StatusInReview: {
		models.StatusCorrectionProposed,
		models.StatusAssignedToSpecialist,
		models.StatusRejected,
		models.StatusSystemicIssueDetected,
	},
	models.StatusCorrectionProposed: {
		models.StatusApprovedToApply,
		models.StatusInReview,
		models.StatusRejected,
	},
	models.StatusAssignedToSpecialist: {
		models.StatusSpecialistReviewing,
	},
	models.StatusSpecialistReviewing: {
		models.StatusReturnedToSupervisor,
		models.StatusCorrectionProposed,
	},
	models.StatusReturnedToSupervisor: {
		models.StatusInReview,
		models.StatusAssignedToSpecialist,
	},
	models.StatusApprovedToApply: {
		models.StatusApplied,
	},
}

// ValidateTransition reports whether current -> target is in the adjacency table.
func ValidateTransition(current, target models.ReviewStatus) bool {
	return slices.Contains(transitions[current], target)
}

// NextStatuses returns the statuses reachable from current.
func NextStatuses(current models.ReviewStatus) []models.ReviewStatus {
	return slices.Clone(transitions[current])
}

func IsTerminal(s models.ReviewStatus) bool {
	return s.Valid() && len(transitions[s]) == 0
}

func isSpecialistStatus(s models.ReviewStatus) bool {
	return s == models.StatusAssignedToSpecialist || s == models.StatusSpecialistReviewing
}

// TransitionRequest describes one status change.
type TransitionRequest struct {
	TicketID string
	// Expected, when set, is the status the caller observed. The transition
	// fails if the ticket has moved on since.
	Expected  models.ReviewStatus
	Target    models.ReviewStatus
	Actor     models.Actor
	Notes     string
	Automated bool
	// Roles restricts who may perform the transition; superadmin always may.
	Roles []models.Role
	// Mutate edits the ticket's live fields before the write. It runs under the
	// ticket lock against the freshly loaded ticket.
	Mutate func(t *models.Ticket) error
	// AfterCommit runs after the status write and before the audit append.
	AfterCommit func(ctx context.Context, t *models.Ticket) error
	Action      string
	Details     map[string]string
}

// ReviewStateMachine validates and applies ticket status transitions.
type ReviewStateMachine struct {
	tickets     TicketRepository
	specialists SpecialistRepository
	audit       *AuditLog
	locks       *keyedMutex
	logger      *zap.Logger
	now         func() time.Time
}

func NewReviewStateMachine(tickets TicketRepository, specialists SpecialistRepository, audit *AuditLog, logger *zap.Logger) *ReviewStateMachine {
	if tickets == nil || audit == nil {
		panic("ticket store and audit log must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewStateMachine{
		tickets:     tickets,
		specialists: specialists,
		audit:       audit,
		locks:       newKeyedMutex(),
		logger:      logger.Named("workflow"),
		now:         time.Now,
	}
}

// ApplyTransition moves ticket to target, provided its stored status still
// equals the status the caller holds.
func (m *ReviewStateMachine) ApplyTransition(ctx context.Context, ticket *models.Ticket, target models.ReviewStatus, actor models.Actor, notes string) (*models.Ticket, error) {
	if ticket == nil {
		return nil, validationErr("ticket", "is required")
	}
	return m.Apply(ctx, TransitionRequest{
		TicketID: ticket.ID,
		Expected: ticket.Status,
		Target:   target,
		Actor:    actor,
		Notes:    notes,
	})
}

// Apply runs the read-validate-write of one transition under the ticket lock,
// compare-and-swaps the stored status, and appends the audit entry before
// releasing the lock so per-ticket audit order matches transition order.
//
// If the status write succeeds but a follow-up write fails, the updated ticket
// is returned together with the error.
func (m *ReviewStateMachine) Apply(ctx context.Context, req TransitionRequest) (*models.Ticket, error) {
	if req.TicketID == "" {
		return nil, validationErr("ticketId", "is required")
	}
	if !req.Target.Valid() {
		return nil, validationErr("target", fmt.Sprintf("unknown status %q", req.Target))
	}
	if req.Actor.UserID == "" {
		return nil, validationErr("actor.userId", "is required")
	}

	unlock := m.locks.Lock(req.TicketID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	current, err := m.tickets.Get(ctx, req.TicketID)
	if err != nil {
		return nil, storageErr("get ticket", err)
	}

	if err := m.authorize(ctx, req.Actor, current, req.Roles, string(req.Target)); err != nil {
		return nil, err
	}

	from := current.Status
	if req.Expected != "" && from != req.Expected {
		return nil, &InvalidTransitionError{From: from, To: req.Target}
	}
	if !ValidateTransition(from, req.Target) {
		return nil, &InvalidTransitionError{From: from, To: req.Target}
	}

	next := *current
	next.History = slices.Clone(current.History)
	next.Approvals = slices.Clone(current.Approvals)
	if req.Mutate != nil {
		if err := req.Mutate(&next); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	releasing := isSpecialistStatus(from) && !isSpecialistStatus(req.Target) && next.Assignment != nil
	if releasing {
		a := *next.Assignment
		if req.Target == models.StatusReturnedToSupervisor {
			a.ReturnedAt = &now
		} else {
			a.CompletedAt = &now
		}
		next.Assignment = &a
	}

	next.Status = req.Target
	next.UpdatedAt = now
	entry := models.HistoryEntry{
		TicketID:      next.ID,
		FromStatus:    from,
		ToStatus:      req.Target,
		ChangedBy:     req.Actor.UserID,
		ChangedByRole: req.Actor.Role,
		ChangedAt:     now,
		Notes:         req.Notes,
		Automated:     req.Automated,
	}

	if err := m.tickets.Transition(ctx, &next, from, &entry); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			observed := from
			if latest, gerr := m.tickets.Get(ctx, req.TicketID); gerr == nil {
				observed = latest.Status
			}
			m.logger.Info("transition lost race",
				zap.String("ticket_id", req.TicketID),
				zap.String("observed", string(observed)),
				zap.String("target", string(req.Target)))
			return nil, &InvalidTransitionError{From: observed, To: req.Target}
		}
		m.logger.Error("transition write failed", zap.String("ticket_id", req.TicketID), zap.Error(err))
		return nil, storageErr("write transition", err)
	}
	next.History = append(next.History, entry)

	var followUp []error
	if releasing && m.specialists != nil {
		if err := m.specialists.Release(ctx, next.Assignment.SpecialistID, next.ID, req.Target, now); err != nil {
			m.logger.Error("specialist release failed",
				zap.String("ticket_id", next.ID),
				zap.String("specialist_id", next.Assignment.SpecialistID),
				zap.Error(err))
			followUp = append(followUp, storageErr("release specialist", err))
		}
	}
	if req.AfterCommit != nil {
		if err := req.AfterCommit(ctx, &next); err != nil {
			followUp = append(followUp, err)
		}
	}

	action := req.Action
	if action == "" {
		action = actionFor(from, req.Target)
	}
	details := req.Details
	if releasing {
		details = withDetail(details, "specialistId", next.Assignment.SpecialistID)
	}
	if _, err := m.audit.Append(ctx, AuditRecord{
		Actor:       req.Actor,
		Type:        action,
		Description: fmt.Sprintf("Status changed: %s -> %s", from, req.Target),
		Severity:    severityFor(req.Target),
		Subject: models.AuditSubject{
			Type:   subjectTicket,
			ID:     next.ID,
			Domain: next.DomainID,
			Metadata: map[string]string{
				"previousStatus": string(from),
				"newStatus":      string(req.Target),
				"version":        fmt.Sprint(next.Version),
			},
		},
		Context: models.AuditContext{
			PreviousState: string(from),
			NewState:      string(req.Target),
			Reasoning:     req.Notes,
			Details:       details,
		},
		CorrelationID: next.ID,
	}); err != nil {
		followUp = append(followUp, fmt.Errorf("transition committed, audit not recorded: %w", err))
	}

	m.logger.Info("ticket transitioned",
		zap.String("ticket_id", next.ID),
		zap.String("from", string(from)),
		zap.String("to", string(req.Target)),
		zap.String("actor", req.Actor.UserID),
		zap.Int64("version", next.Version))

	return &next, errors.Join(followUp...)
}

// authorize checks domain access and the roles granted at the ticket's
// current status, auditing any refusal.
func (m *ReviewStateMachine) authorize(ctx context.Context, actor models.Actor, t *models.Ticket, roles []models.Role, attempted string) error {
	reason := ""
	switch {
	case !canAccessDomain(actor, t.DomainID):
		reason = "actor outside ticket domain"
	case actor.Role == models.RoleUser:
		reason = "role cannot act on review tickets"
	case actor.Role != models.RoleSuperAdmin && !stageAllows(t.Status, actor.Role):
		reason = fmt.Sprintf("role %s cannot act on %s tickets", actor.Role, t.Status)
	case len(roles) > 0 && actor.Role != models.RoleSuperAdmin && !slices.Contains(roles, actor.Role):
		reason = fmt.Sprintf("role %s not permitted", actor.Role)
	case actor.Role == models.RoleSpecialist && isSpecialistStatus(t.Status) &&
		(t.Assignment == nil || t.Assignment.SpecialistID != actor.UserID):
		reason = "ticket assigned to another specialist"
	default:
		return nil
	}

	m.logger.Warn("unauthorized workflow attempt",
		zap.String("ticket_id", t.ID),
		zap.String("actor", actor.UserID),
		zap.String("attempted", attempted),
		zap.String("reason", reason))
	if _, err := m.audit.Append(ctx, AuditRecord{
		Actor:       actor,
		Type:        ActionUnauthorized,
		Description: reason,
		Severity:    models.SeverityCritical,
		Subject:     models.AuditSubject{Type: subjectTicket, ID: t.ID, Domain: t.DomainID},
		Context: models.AuditContext{
			PreviousState: string(t.Status),
			Details:       map[string]string{"attempted": attempted},
		},
		CorrelationID: t.ID,
	}); err != nil {
		m.logger.Error("unauthorized attempt not audited", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
}

// stageAllows reports whether role holds any action on tickets in status.
// Statuses that offer no actions are left to the transition table.
func stageAllows(status models.ReviewStatus, role models.Role) bool {
	grants := actionCatalogue[status]
	if len(grants) == 0 {
		return true
	}
	for _, g := range grants {
		if slices.Contains(g.roles, role) {
			return true
		}
	}
	return false
}

func canAccessDomain(actor models.Actor, domain string) bool {
	return actor.Role == models.RoleSuperAdmin || (actor.Domain != "" && actor.Domain == domain)
}

func actionFor(from, to models.ReviewStatus) string {
	switch to {
	case models.StatusInReview:
		if from == models.StatusCorrectionProposed {
			return ActionAdminRequestedChange
		}
		return ActionEvaluationCreated
	case models.StatusCorrectionProposed:
		if from == models.StatusSpecialistReviewing {
			return ActionSpecialistCompleted
		}
		return ActionCorrectionProposed
	case models.StatusAssignedToSpecialist:
		return ActionSpecialistAssigned
	case models.StatusSpecialistReviewing:
		return ActionSpecialistReviewing
	case models.StatusReturnedToSupervisor:
		return ActionSpecialistReturned
	case models.StatusApprovedToApply:
		return ActionAdminApproved
	case models.StatusApplied:
		return ActionAppliedSingle
	case models.StatusRejected:
		return ActionAdminRejected
	case models.StatusSystemicIssueDetected:
		return ActionSystemicIssue
	}
	return ActionEvaluationCreated
}

func severityFor(to models.ReviewStatus) models.AuditSeverity {
	switch to {
	case models.StatusRejected, models.StatusSystemicIssueDetected:
		return models.SeverityWarning
	}
	return models.SeverityInfo
}

func withDetail(details map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
