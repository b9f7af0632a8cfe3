package service

import (
	"slices"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

// Action is a user-facing operation offered on a ticket.
type Action string

const (
	ActEvaluate                 Action = "evaluate"
	ActAssignSpecialist         Action = "assign-specialist"
	ActReject                   Action = "reject"
	ActProposeCorrection        Action = "propose-correction"
	ActMarkSystemic             Action = "mark-systemic"
	ActApprove                  Action = "approve"
	ActRequestChanges           Action = "request-changes"
	ActReturnToSupervisor       Action = "return-to-supervisor"
	ActMarkNotApplicable        Action = "mark-not-applicable"
	ActView                     Action = "view"
	ActReassign                 Action = "reassign"
	ActReviewSpecialistFeedback Action = "review-specialist-feedback"
	ActApplySingle              Action = "apply-single"
	ActApplyBatch               Action = "apply-batch"
	ActSchedule                 Action = "schedule"
	ActVerifyImpact             Action = "verify-impact"
	ActRollback                 Action = "rollback"
	ActRequestPrioritization    Action = "request-prioritization"
	ActDismiss                  Action = "dismiss"
	ActApplyWorkaround          Action = "apply-workaround"
)

var (
	reviewers = []models.Role{models.RoleExpert, models.RoleAdmin, models.RoleSuperAdmin}
	admins    = []models.Role{models.RoleAdmin, models.RoleSuperAdmin}
)

type actionGrant struct {
	roles   []models.Role
	actions []Action
}

var actionCatalogue = map[models.ReviewStatus][]actionGrant{
	models.StatusPending: {
		{reviewers, []Action{ActEvaluate, ActAssignSpecialist, ActReject}},
	},
	models.StatusInReview: {
		{reviewers, []Action{ActProposeCorrection, ActAssignSpecialist, ActMarkSystemic, ActReject}},
	},
	models.StatusCorrectionProposed: {
		{admins, []Action{ActApprove, ActRequestChanges, ActReject}},
	},
	models.StatusAssignedToSpecialist: {
		{[]models.Role{models.RoleSpecialist}, []Action{ActEvaluate, ActReturnToSupervisor, ActMarkNotApplicable}},
		{admins, []Action{ActView, ActReassign}},
	},
	models.StatusSpecialistReviewing: {
		{[]models.Role{models.RoleSpecialist}, []Action{ActEvaluate, ActReturnToSupervisor, ActMarkNotApplicable}},
		{admins, []Action{ActView, ActReassign}},
	},
	models.StatusReturnedToSupervisor: {
		{reviewers, []Action{ActReviewSpecialistFeedback, ActReassign, ActProposeCorrection}},
	},
	models.StatusApprovedToApply: {
		{admins, []Action{ActApplySingle, ActApplyBatch, ActSchedule, ActReject}},
	},
	models.StatusApplied: {
		{reviewers, []Action{ActView, ActVerifyImpact, ActRollback}},
	},
	models.StatusSystemicIssueDetected: {
		{admins, []Action{ActRequestPrioritization, ActDismiss, ActApplyWorkaround}},
	},
}

// AllowedActions derives the actions offered to actor on a ticket in status.
// Actors outside ticketDomain get none unless they hold the cross-domain role.
func AllowedActions(status models.ReviewStatus, actor models.Actor, ticketDomain string) []Action {
	if !canAccessDomain(actor, ticketDomain) {
		return []Action{}
	}
	out := []Action{}
	for _, g := range actionCatalogue[status] {
		if slices.Contains(g.roles, actor.Role) {
			out = append(out, g.actions...)
		}
	}
	return out
}
