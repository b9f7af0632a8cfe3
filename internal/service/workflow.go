package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

const maxTitleLength = 80

// Workflow is the ticket-facing entry point. It composes the state machine
// with the proposal, impact and matching components.
type Workflow struct {
	machine   *ReviewStateMachine
	proposals *CorrectionProposalService
	impact    *ImpactAnalyzer
	matcher   *SpecialistMatcher
	corpus    CorpusRepository
	policy    Policy
	logger    *zap.Logger
}

func NewWorkflow(machine *ReviewStateMachine, proposals *CorrectionProposalService, impact *ImpactAnalyzer, matcher *SpecialistMatcher, corpus CorpusRepository, policy Policy, logger *zap.Logger) *Workflow {
	if machine == nil || proposals == nil || impact == nil || matcher == nil || corpus == nil {
		panic("workflow components must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		machine:   machine,
		proposals: proposals,
		impact:    impact,
		matcher:   matcher,
		corpus:    corpus,
		policy:    policy,
		logger:    logger.Named("workflow"),
	}
}

// DeterminePriority triages feedback into a ticket priority.
func DeterminePriority(fb models.Feedback, p TriagePolicy) models.Priority {
	unacceptable := fb.ExpertRating == models.ExpertUnacceptable
	rated := fb.UserStars > 0
	switch {
	case unacceptable && fb.SimilarCount >= p.CriticalSimilarCount:
		return models.PriorityCritical
	case unacceptable || (rated && fb.UserStars <= p.HighMaxStars):
		return models.PriorityHigh
	case rated && fb.UserStars <= p.MediumMaxStars:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// CreateTicket triages feedback into a pending ticket.
func (w *Workflow) CreateTicket(ctx context.Context, fb models.Feedback, actor models.Actor) (*models.Ticket, error) {
	switch {
	case strings.TrimSpace(fb.FeedbackID) == "":
		return nil, validationErr("feedbackId", "is required")
	case strings.TrimSpace(fb.DomainID) == "":
		return nil, validationErr("domainId", "is required")
	case strings.TrimSpace(fb.Question) == "":
		return nil, validationErr("question", "is required")
	case fb.UserStars < 0 || fb.UserStars > 5:
		return nil, validationErr("userStars", "must be between 0 and 5")
	case fb.ExpertRating != "" && fb.ExpertRating != models.ExpertUnacceptable &&
		fb.ExpertRating != models.ExpertAcceptable && fb.ExpertRating != models.ExpertOutstanding:
		return nil, validationErr("expertRating", fmt.Sprintf("unknown rating %q", fb.ExpertRating))
	case actor.UserID == "":
		return nil, validationErr("actor.userId", "is required")
	}
	if !canAccessDomain(actor, fb.DomainID) {
		return nil, fmt.Errorf("%w: actor outside feedback domain", ErrPermissionDenied)
	}

	now := w.machine.now().UTC()
	title := strings.TrimSpace(fb.Title)
	if title == "" {
		title = truncate(strings.TrimSpace(fb.Question), maxTitleLength)
	}
	t := &models.Ticket{
		ID:               uuid.NewString(),
		FeedbackID:       fb.FeedbackID,
		DomainID:         fb.DomainID,
		Title:            title,
		Category:         fb.Category,
		Question:         fb.Question,
		OriginalResponse: fb.OriginalResponse,
		ReviewerNotes:    fb.ReviewerNotes,
		Priority:         DeterminePriority(fb, w.policy.Triage),
		Status:           models.StatusPending,
		History:          []models.HistoryEntry{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := w.machine.tickets.Create(ctx, t); err != nil {
		return nil, storageErr("create ticket", err)
	}

	if _, err := w.machine.audit.Append(ctx, AuditRecord{
		Actor:       actor,
		Type:        ActionTicketGenerated,
		Description: "Ticket created from feedback " + fb.FeedbackID,
		Severity:    models.SeverityInfo,
		Subject: models.AuditSubject{
			Type:   subjectTicket,
			ID:     t.ID,
			Domain: t.DomainID,
			Metadata: map[string]string{
				"feedbackId": fb.FeedbackID,
				"priority":   string(t.Priority),
			},
		},
		Context:       models.AuditContext{NewState: string(t.Status)},
		CorrelationID: t.ID,
	}); err != nil {
		return t, fmt.Errorf("ticket created, audit not recorded: %w", err)
	}

	w.logger.Info("ticket created",
		zap.String("ticket_id", t.ID),
		zap.String("domain_id", t.DomainID),
		zap.String("priority", string(t.Priority)))
	return t, nil
}

// GetTicket loads a ticket the actor may see.
func (w *Workflow) GetTicket(ctx context.Context, id string, actor models.Actor) (*models.Ticket, error) {
	if id == "" {
		return nil, validationErr("ticketId", "is required")
	}
	t, err := w.machine.tickets.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get ticket", err)
	}
	if !canAccessDomain(actor, t.DomainID) {
		return nil, fmt.Errorf("%w: actor outside ticket domain", ErrPermissionDenied)
	}
	return t, nil
}

// ListTickets lists tickets; actors without the cross-domain role only see
// their own domain.
func (w *Workflow) ListTickets(ctx context.Context, filter repository.TicketFilter, actor models.Actor) ([]models.Ticket, error) {
	if actor.Role != models.RoleSuperAdmin {
		if filter.DomainID != "" && filter.DomainID != actor.Domain {
			return nil, fmt.Errorf("%w: actor outside requested domain", ErrPermissionDenied)
		}
		filter.DomainID = actor.Domain
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationErr("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	tickets, err := w.machine.tickets.List(ctx, filter)
	if err != nil {
		return nil, storageErr("list tickets", err)
	}
	return tickets, nil
}

// TicketActions returns the actions actor may take on a ticket.
func (w *Workflow) TicketActions(ctx context.Context, id string, actor models.Actor) ([]Action, error) {
	t, err := w.machine.tickets.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get ticket", err)
	}
	return AllowedActions(t.Status, actor, t.DomainID), nil
}

// TransitionInput is a plain status change requested by a reviewer.
type TransitionInput struct {
	TicketID string
	Expected models.ReviewStatus
	Target   models.ReviewStatus
	Notes    string
	// Pattern describes the recurring issue when Target is systemic-issue-detected.
	Pattern string
}

// Transition applies a status change that carries no payload. Targets that
// need one go through ProposeCorrection, Escalate, Approve or ApplyCorrection.
func (w *Workflow) Transition(ctx context.Context, in TransitionInput, actor models.Actor) (*models.Ticket, error) {
	req := TransitionRequest{
		TicketID: in.TicketID,
		Expected: in.Expected,
		Target:   in.Target,
		Actor:    actor,
		Notes:    in.Notes,
	}
	switch in.Target {
	case models.StatusAssignedToSpecialist, models.StatusApprovedToApply, models.StatusApplied:
		return nil, validationErr("target", fmt.Sprintf("%s requires its dedicated operation", in.Target))
	case models.StatusCorrectionProposed:
		req.Mutate = func(t *models.Ticket) error {
			if t.Proposal == nil {
				return validationErr("proposal", "ticket has no correction proposal")
			}
			return nil
		}
	case models.StatusSpecialistReviewing:
		req.Roles = []models.Role{models.RoleSpecialist, models.RoleAdmin}
	case models.StatusSystemicIssueDetected:
		if p := strings.TrimSpace(in.Pattern); p != "" {
			req.Details = map[string]string{"pattern": p}
		}
	}
	return w.machine.Apply(ctx, req)
}

// ProposeCorrection attaches p to the ticket, superseding any previous
// proposal, and moves it to correction-proposed.
func (w *Workflow) ProposeCorrection(ctx context.Context, ticketID string, p models.CorrectionProposal, actor models.Actor) (*models.Ticket, error) {
	if !p.ChangeType.Valid() {
		return nil, validationErr("changeType", fmt.Sprintf("unknown change type %q", p.ChangeType))
	}
	if strings.TrimSpace(p.CorrectedText) == "" {
		return nil, validationErr("correctedText", "is required")
	}
	if p.ChangeType == models.ChangeBehaviorRule && p.PromptChange == nil {
		return nil, validationErr("promptChange", "is required for behavioral-rule changes")
	}
	for i, u := range p.KnowledgeUpdates {
		if u.Edit != models.EditUpdate && u.Edit != models.EditAdd && u.Edit != models.EditRemove {
			return nil, validationErr(fmt.Sprintf("knowledgeUpdates[%d].edit", i), fmt.Sprintf("unknown edit %q", u.Edit))
		}
	}

	p.ID = uuid.NewString()
	p.TicketID = ticketID
	p.ProposedBy = actor.UserID
	p.ProposedByRole = actor.Role
	p.ProposedAt = w.machine.now().UTC()

	details := map[string]string{
		"proposalId": p.ID,
		"changeType": string(p.ChangeType),
	}
	return w.machine.Apply(ctx, TransitionRequest{
		TicketID: ticketID,
		Target:   models.StatusCorrectionProposed,
		Actor:    actor,
		Notes:    "Correction proposed",
		Roles:    []models.Role{models.RoleExpert, models.RoleSpecialist, models.RoleAdmin},
		Action:   ActionCorrectionProposed,
		Details:  details,
		Mutate: func(t *models.Ticket) error {
			if t.Proposal != nil {
				prior, err := json.Marshal(t.Proposal)
				if err != nil {
					return fmt.Errorf("encode superseded proposal: %w", err)
				}
				details["supersededProposal"] = string(prior)
			}
			t.Proposal = &p
			t.Impact = nil
			return nil
		},
	})
}

// SuggestCorrection drafts a proposal for the ticket without attaching it.
func (w *Workflow) SuggestCorrection(ctx context.Context, ticketID string, changeType models.ChangeType, contextUsed []string, behaviorSpec string, actor models.Actor) (Outcome[models.CorrectionProposal], error) {
	t, err := w.GetTicket(ctx, ticketID, actor)
	if err != nil {
		return Outcome[models.CorrectionProposal]{}, err
	}

	strategy, err := w.corpus.OrgStrategy(ctx, t.DomainID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			w.logger.Warn("strategy context unavailable", zap.String("domain_id", t.DomainID), zap.Error(err))
		}
		strategy = nil
	}

	return w.proposals.Generate(ctx, ProposalInput{
		TicketID:         t.ID,
		Question:         t.Question,
		OriginalResponse: t.OriginalResponse,
		ReviewerNotes:    t.ReviewerNotes,
		ContextUsed:      contextUsed,
		BehaviorSpec:     behaviorSpec,
		Strategy:         strategy,
		ChangeType:       changeType,
		Proposer:         actor,
	}), nil
}

// Escalate assigns the ticket to a specialist. With an empty specialistID the
// best available match is chosen. The matches considered are returned.
func (w *Workflow) Escalate(ctx context.Context, ticketID, specialistID string, actor models.Actor) (*models.Ticket, []models.SpecialistMatch, error) {
	t, err := w.GetTicket(ctx, ticketID, actor)
	if err != nil {
		return nil, nil, err
	}
	if !ValidateTransition(t.Status, models.StatusAssignedToSpecialist) {
		return nil, nil, &InvalidTransitionError{From: t.Status, To: models.StatusAssignedToSpecialist}
	}

	var exclude []string
	if t.Assignment != nil {
		exclude = append(exclude, t.Assignment.SpecialistID)
	}

	var (
		matches []models.SpecialistMatch
		chosen  models.SpecialistMatch
	)
	if specialistID == "" {
		matches, err = w.matcher.FindBest(ctx, MatchInput{
			Question:         t.Question,
			OriginalResponse: t.OriginalResponse,
			ReviewerNotes:    t.ReviewerNotes,
			Category:         t.Category,
		}, t.DomainID, exclude)
		if err != nil {
			return nil, nil, err
		}
		if len(matches) == 0 {
			return nil, matches, fmt.Errorf("no specialist in domain %s: %w", t.DomainID, ErrNotFound)
		}
		chosen = matches[0]
		for _, m := range matches {
			if m.IsAvailable {
				chosen = m
				break
			}
		}
	} else {
		s, err := w.machine.specialists.Get(ctx, specialistID)
		if err != nil {
			return nil, nil, storageErr("get specialist", err)
		}
		if s.DomainID != t.DomainID {
			return nil, nil, validationErr("specialistId", "specialist belongs to another domain")
		}
		chosen = models.SpecialistMatch{SpecialistID: s.ID, SpecialistName: s.Name}
	}

	var assignedAt time.Time
	updated, err := w.machine.Apply(ctx, TransitionRequest{
		TicketID: t.ID,
		Expected: t.Status,
		Target:   models.StatusAssignedToSpecialist,
		Actor:    actor,
		Notes:    "Assigned to " + chosen.SpecialistName,
		Roles:    []models.Role{models.RoleExpert, models.RoleAdmin},
		Details: map[string]string{
			"specialistId": chosen.SpecialistID,
			"matchScore":   fmt.Sprint(chosen.MatchScore),
		},
		Mutate: func(t *models.Ticket) error {
			assignedAt = w.machine.now().UTC()
			t.Assignment = &models.Assignment{
				SpecialistID: chosen.SpecialistID,
				AssignedBy:   actor.UserID,
				AssignedAt:   assignedAt,
				MatchScore:   chosen.MatchScore,
			}
			return nil
		},
		AfterCommit: func(ctx context.Context, t *models.Ticket) error {
			if err := w.machine.specialists.Assign(ctx, chosen.SpecialistID, t.ID, assignedAt); err != nil {
				w.logger.Error("specialist workload not incremented",
					zap.String("ticket_id", t.ID),
					zap.String("specialist_id", chosen.SpecialistID),
					zap.Error(err))
				return storageErr("assign specialist", err)
			}
			return nil
		},
	})
	return updated, matches, err
}

// Approve records an admin approval, running impact analysis first when the
// ticket has none.
func (w *Workflow) Approve(ctx context.Context, ticketID, notes string, actor models.Actor) (*models.Ticket, error) {
	t, err := w.GetTicket(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	if !ValidateTransition(t.Status, models.StatusApprovedToApply) {
		return nil, &InvalidTransitionError{From: t.Status, To: models.StatusApprovedToApply}
	}
	if t.Proposal == nil {
		return nil, validationErr("proposal", "ticket has no correction proposal")
	}

	impact := t.Impact
	if impact == nil {
		impact, err = w.impact.Analyze(ctx, t.ID, t.Proposal, t.DomainID)
		if err != nil {
			return nil, err
		}
	}
	proposalID := t.Proposal.ID

	return w.machine.Apply(ctx, TransitionRequest{
		TicketID: t.ID,
		Expected: t.Status,
		Target:   models.StatusApprovedToApply,
		Actor:    actor,
		Notes:    notes,
		Roles:    []models.Role{models.RoleAdmin},
		Mutate: func(t *models.Ticket) error {
			if t.Proposal == nil || t.Proposal.ID != proposalID {
				return validationErr("proposal", "superseded while approving")
			}
			if t.Impact == nil {
				t.Impact = impact
			}
			t.Approvals = append(t.Approvals, models.Approval{
				ApprovedBy:                     actor.UserID,
				Role:                           actor.Role,
				ApprovedAt:                     w.machine.now().UTC(),
				Notes:                          notes,
				RequiresSuperAdminConfirmation: t.Impact.RiskLevel == models.RiskCritical && actor.Role != models.RoleSuperAdmin,
			})
			return nil
		},
		Details: map[string]string{
			"proposalId": proposalID,
			"riskLevel":  string(impact.RiskLevel),
		},
	})
}

// ApplyCorrection records the implementation and closes the ticket as applied.
func (w *Workflow) ApplyCorrection(ctx context.Context, ticketID string, testingCompleted bool, actor models.Actor) (*models.Ticket, error) {
	action := ActionAppliedSingle
	t, err := w.GetTicket(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	if t.Proposal != nil && t.Proposal.ChangesBehaviorRule() {
		action = ActionAppliedDomainWide
	}

	return w.machine.Apply(ctx, TransitionRequest{
		TicketID: ticketID,
		Expected: t.Status,
		Target:   models.StatusApplied,
		Actor:    actor,
		Notes:    "Correction applied",
		Roles:    []models.Role{models.RoleAdmin},
		Action:   action,
		Details:  map[string]string{"testingCompleted": fmt.Sprint(testingCompleted)},
		Mutate: func(t *models.Ticket) error {
			if t.Proposal == nil {
				return validationErr("proposal", "ticket has no correction proposal")
			}
			for _, a := range t.Approvals {
				if a.RequiresSuperAdminConfirmation && actor.Role != models.RoleSuperAdmin {
					return fmt.Errorf("%w: critical-risk correction needs superadmin confirmation", ErrPermissionDenied)
				}
			}
			p := t.Proposal
			impl := &models.Implementation{
				AppliedBy:            actor.UserID,
				AppliedAt:            w.machine.now().UTC(),
				KnowledgeBaseUpdated: len(p.KnowledgeUpdates) > 0 || p.ChangeType == models.ChangeContent,
				BehaviorRuleUpdated:  p.ChangesBehaviorRule(),
				FAQAdded:             len(p.FAQs) > 0 || p.ChangeType == models.ChangeFAQ,
				ToneAdjusted:         p.ChangeType == models.ChangeTone,
				ContextsUpdated:      p.KnowledgeSources(),
				VersionBefore:        fmt.Sprintf("v%d", t.Version),
				VersionAfter:         fmt.Sprintf("v%d", t.Version+1),
				TestingCompleted:     testingCompleted,
				RollbackAvailable:    true,
			}
			if t.Impact != nil {
				impl.AffectedAgentCount = t.Impact.AffectedAgentsCount
			}
			t.Implementation = impl
			return nil
		},
	})
}

// Trail returns a ticket's audit entries, newest first.
func (w *Workflow) Trail(ctx context.Context, ticketID string, limit int, actor models.Actor) ([]models.AuditEntry, error) {
	if _, err := w.GetTicket(ctx, ticketID, actor); err != nil {
		return nil, err
	}
	return w.machine.audit.Trail(ctx, subjectTicket, ticketID, limit)
}

// VerifyTrail recomputes every audit hash of a ticket.
func (w *Workflow) VerifyTrail(ctx context.Context, ticketID string, actor models.Actor) (*TrailVerification, error) {
	if _, err := w.GetTicket(ctx, ticketID, actor); err != nil {
		return nil, err
	}
	return w.machine.audit.VerifyTrail(ctx, subjectTicket, ticketID)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
