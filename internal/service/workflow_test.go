package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/internal/service/mocks"
)

type workflowFixture struct {
	*fixture
	corpus   *mocks.MockCorpusRepository
	workflow *Workflow
}

func newWorkflowFixture(t *testing.T, gen TextGenerator, specialists ...models.Specialist) *workflowFixture {
	t.Helper()
	f := newFixture(t, specialists...)
	logger := zaptest.NewLogger(t)
	corpus := &mocks.MockCorpusRepository{}

	proposals := NewCorrectionProposalService(gen, DefaultPolicy.Proposal, logger)
	proposals.now = f.machine.now
	impact := NewImpactAnalyzer(NoSimilarity{}, corpus, gen, DefaultPolicy.Impact, logger)
	impact.now = f.machine.now
	matcher := NewSpecialistMatcher(f.specialists, gen, DefaultPolicy.Matching, logger)
	matcher.now = f.machine.now

	return &workflowFixture{
		fixture:  f,
		corpus:   corpus,
		workflow: NewWorkflow(f.machine, proposals, impact, matcher, corpus, DefaultPolicy, logger),
	}
}

func (f *workflowFixture) lastAudit(t *testing.T) models.AuditEntry {
	t.Helper()
	entries := f.audits.Entries()
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

func TestDeterminePriority(t *testing.T) {
	p := DefaultPolicy.Triage
	cases := []struct {
		name string
		fb   models.Feedback
		want models.Priority
	}{
		{"unacceptable and widespread", models.Feedback{ExpertRating: models.ExpertUnacceptable, SimilarCount: 5}, models.PriorityCritical},
		{"unacceptable and isolated", models.Feedback{ExpertRating: models.ExpertUnacceptable, SimilarCount: 4}, models.PriorityHigh},
		{"one star", models.Feedback{UserStars: 1}, models.PriorityHigh},
		{"two stars", models.Feedback{UserStars: 2}, models.PriorityHigh},
		{"three stars", models.Feedback{UserStars: 3}, models.PriorityMedium},
		{"four stars", models.Feedback{UserStars: 4}, models.PriorityLow},
		{"unrated", models.Feedback{}, models.PriorityLow},
		{"widespread but acceptable", models.Feedback{ExpertRating: models.ExpertAcceptable, SimilarCount: 50, UserStars: 5}, models.PriorityLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeterminePriority(tc.fb, p))
		})
	}
}

func TestCreateTicket(t *testing.T) {
	ctx := context.Background()
	feedback := func() models.Feedback {
		return models.Feedback{
			FeedbackID:       "fb-1",
			DomainID:         testDomain,
			Category:         "billing",
			Question:         "How long do I have to request a refund for an annual subscription that renewed automatically?",
			OriginalResponse: "Any time.",
			UserStars:        1,
		}
	}

	t.Run("creates a pending ticket and audits it", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)

		got, err := f.workflow.CreateTicket(ctx, feedback(), expert)

		require.NoError(t, err)
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, models.PriorityHigh, got.Priority)
		assert.Equal(t, int64(1), got.Version)
		assert.Len(t, []rune(got.Title), maxTitleLength)
		assert.True(t, strings.HasSuffix(got.Title, "..."))
		assert.Equal(t, models.StatusPending, f.tickets.Status(got.ID))

		entry := f.lastAudit(t)
		assert.Equal(t, ActionTicketGenerated, entry.Action.Type)
		assert.Equal(t, got.ID, entry.Subject.ID)
		assert.Equal(t, "high", entry.Subject.Metadata["priority"])
	})

	invalid := []struct {
		name  string
		edit  func(fb *models.Feedback)
		field string
	}{
		{"missing feedback id", func(fb *models.Feedback) { fb.FeedbackID = "" }, "feedbackId"},
		{"missing domain", func(fb *models.Feedback) { fb.DomainID = " " }, "domainId"},
		{"missing question", func(fb *models.Feedback) { fb.Question = "" }, "question"},
		{"stars out of range", func(fb *models.Feedback) { fb.UserStars = 6 }, "userStars"},
		{"unknown expert rating", func(fb *models.Feedback) { fb.ExpertRating = "meh" }, "expertRating"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			f := newWorkflowFixture(t, nil)
			fb := feedback()
			tc.edit(&fb)

			_, err := f.workflow.CreateTicket(ctx, fb, expert)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Empty(t, f.audits.Entries())
		})
	}

	t.Run("outsider denied", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)

		_, err := f.workflow.CreateTicket(ctx, feedback(), outsider)

		assert.ErrorIs(t, err, ErrPermissionDenied)
	})
}

func TestListTickets(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, nil)
	f.seed("t-1", models.StatusPending)
	f.seed("t-2", models.StatusInReview)
	other := f.seed("t-3", models.StatusPending)
	other.DomainID = "other.com"
	f.tickets.Put(other)

	got, err := f.workflow.ListTickets(ctx, repository.TicketFilter{}, admin)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.workflow.ListTickets(ctx, repository.TicketFilter{Status: models.StatusPending}, admin)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t-1", got[0].ID)

	got, err = f.workflow.ListTickets(ctx, repository.TicketFilter{DomainID: "other.com"}, superAdmin)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.workflow.ListTickets(ctx, repository.TicketFilter{DomainID: "other.com"}, admin)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.workflow.ListTickets(ctx, repository.TicketFilter{Status: "archived"}, admin)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWorkflowTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("dedicated targets are refused", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		for _, target := range []models.ReviewStatus{models.StatusAssignedToSpecialist, models.StatusApprovedToApply, models.StatusApplied} {
			_, err := f.workflow.Transition(ctx, TransitionInput{TicketID: "t-1", Target: target}, admin)
			assert.ErrorIs(t, err, ErrValidation, target)
		}
		assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"))
	})

	t.Run("correction-proposed needs a proposal", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		_, err := f.workflow.Transition(ctx, TransitionInput{TicketID: "t-1", Target: models.StatusCorrectionProposed}, admin)

		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"))
	})

	t.Run("systemic issue records the pattern", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		got, err := f.workflow.Transition(ctx, TransitionInput{
			TicketID: "t-1",
			Expected: models.StatusInReview,
			Target:   models.StatusSystemicIssueDetected,
			Pattern:  "refund window misquoted",
		}, expert)

		require.NoError(t, err)
		assert.Equal(t, models.StatusSystemicIssueDetected, got.Status)
		assert.Equal(t, "refund window misquoted", f.lastAudit(t).Context.Details["pattern"])
		assert.True(t, IsTerminal(got.Status))
	})
}

func TestProposeCorrection(t *testing.T) {
	ctx := context.Background()

	t.Run("supersedes the previous proposal", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		first, err := f.workflow.ProposeCorrection(ctx, "t-1", contentProposal(), expert)
		require.NoError(t, err)
		firstID := first.Proposal.ID

		_, err = f.workflow.Transition(ctx, TransitionInput{TicketID: "t-1", Target: models.StatusInReview, Notes: "needs detail"}, admin)
		require.NoError(t, err)

		second, err := f.workflow.ProposeCorrection(ctx, "t-1", behaviorProposal(), expert)
		require.NoError(t, err)

		assert.NotEqual(t, firstID, second.Proposal.ID)
		assert.Equal(t, models.ChangeBehaviorRule, second.Proposal.ChangeType)
		assert.Equal(t, expert.UserID, second.Proposal.ProposedBy)
		assert.Nil(t, second.Impact)

		entry := f.lastAudit(t)
		assert.Equal(t, ActionCorrectionProposed, entry.Action.Type)
		var prior models.CorrectionProposal
		require.NoError(t, json.Unmarshal([]byte(entry.Context.Details["supersededProposal"]), &prior))
		assert.Equal(t, firstID, prior.ID)
	})

	t.Run("validation", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		p := contentProposal()
		p.CorrectedText = " "
		_, err := f.workflow.ProposeCorrection(ctx, "t-1", p, expert)
		assert.ErrorIs(t, err, ErrValidation)

		p = behaviorProposal()
		p.PromptChange = nil
		_, err = f.workflow.ProposeCorrection(ctx, "t-1", p, expert)
		assert.ErrorIs(t, err, ErrValidation)

		p = contentProposal()
		p.KnowledgeUpdates[0].Edit = "rewrite"
		_, err = f.workflow.ProposeCorrection(ctx, "t-1", p, expert)
		assert.ErrorIs(t, err, ErrValidation)

		assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"))
	})

	t.Run("end user may not propose", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		_, err := f.workflow.ProposeCorrection(ctx, "t-1", contentProposal(), endUser)

		assert.ErrorIs(t, err, ErrPermissionDenied)
	})
}

func TestSuggestCorrection(t *testing.T) {
	ctx := context.Background()
	gen := mocks.Replying(`{"correctedText": "Refunds within 30 days.", "confidence": 80, "reasoning": "policy"}`)
	f := newWorkflowFixture(t, gen)
	f.seed("t-1", models.StatusInReview)
	f.corpus.OrgStrategyFunc = func(ctx context.Context, domainID string) (*models.OrgStrategy, error) {
		return nil, errors.New("strategy store down")
	}

	out, err := f.workflow.SuggestCorrection(ctx, "t-1", models.ChangeContent, []string{"billing.md"}, "", expert)

	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.Equal(t, "Refunds within 30 days.", out.Value.CorrectedText)
	assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"), "suggestions are not attached")

	_, err = f.workflow.SuggestCorrection(ctx, "missing", models.ChangeContent, nil, "", expert)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEscalate(t *testing.T) {
	ctx := context.Background()
	specialists := []models.Specialist{
		{ID: "sp-1", DomainID: testDomain, Name: "Ana", Domains: []string{"billing"}, MaxAssignments: 1, CurrentAssignments: 1},
		{ID: "sp-2", DomainID: testDomain, Name: "Ben", Domains: []string{"legal"}, MaxAssignments: 3},
	}

	t.Run("picks the best available specialist", func(t *testing.T) {
		f := newWorkflowFixture(t, mocks.Replying(`["billing"]`), specialists...)
		f.seed("t-1", models.StatusInReview)

		got, matches, err := f.workflow.Escalate(ctx, "t-1", "", expert)

		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "sp-1", matches[0].SpecialistID)
		assert.False(t, matches[0].IsAvailable)
		assert.Equal(t, models.StatusAssignedToSpecialist, got.Status)
		require.NotNil(t, got.Assignment)
		assert.Equal(t, "sp-2", got.Assignment.SpecialistID)
		assert.Equal(t, 1, f.specialists.Workload("sp-2"))
		assert.Equal(t, ActionSpecialistAssigned, f.lastAudit(t).Action.Type)
	})

	t.Run("named specialist and release on return", func(t *testing.T) {
		f := newWorkflowFixture(t, nil, specialists...)
		f.seed("t-1", models.StatusInReview)

		_, _, err := f.workflow.Escalate(ctx, "t-1", "sp-2", admin)
		require.NoError(t, err)
		assert.Equal(t, 1, f.specialists.Workload("sp-2"))

		ben := models.Actor{UserID: "sp-2", Email: "ben@acme.com", Role: models.RoleSpecialist, Domain: testDomain}
		_, err = f.workflow.Transition(ctx, TransitionInput{TicketID: "t-1", Target: models.StatusSpecialistReviewing}, specialist)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		_, err = f.workflow.Transition(ctx, TransitionInput{TicketID: "t-1", Target: models.StatusSpecialistReviewing}, ben)
		require.NoError(t, err)
		got, err := f.workflow.Transition(ctx, TransitionInput{TicketID: "t-1", Target: models.StatusReturnedToSupervisor}, ben)
		require.NoError(t, err)

		assert.Equal(t, 0, f.specialists.Workload("sp-2"))
		require.NotNil(t, got.Assignment.ReturnedAt)
		assert.Nil(t, got.Assignment.CompletedAt)
	})

	t.Run("reassignment skips the previous specialist", func(t *testing.T) {
		f := newWorkflowFixture(t, mocks.Replying(`["billing"]`), specialists...)
		tk := f.seed("t-1", models.StatusReturnedToSupervisor)
		tk.Assignment = &models.Assignment{SpecialistID: "sp-2", AssignedAt: testNow}
		f.tickets.Put(tk)

		got, matches, err := f.workflow.Escalate(ctx, "t-1", "", admin)

		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "sp-1", got.Assignment.SpecialistID, "an unavailable match is still chosen when it is the only one")
	})

	t.Run("specialist from another domain", func(t *testing.T) {
		f := newWorkflowFixture(t, nil, models.Specialist{ID: "sp-9", DomainID: "other.com", MaxAssignments: 1})
		f.seed("t-1", models.StatusInReview)

		_, _, err := f.workflow.Escalate(ctx, "t-1", "sp-9", admin)

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("no specialists", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		_, _, err := f.workflow.Escalate(ctx, "t-1", "", admin)

		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, models.StatusInReview, f.tickets.Status("t-1"))
	})

	t.Run("invalid from pending", func(t *testing.T) {
		f := newWorkflowFixture(t, nil, specialists...)
		f.seed("t-1", models.StatusPending)

		_, _, err := f.workflow.Escalate(ctx, "t-1", "sp-2", admin)

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, 0, f.specialists.Workload("sp-2"))
	})
}

func TestApproveAndApply(t *testing.T) {
	ctx := context.Background()

	proposed := func(t *testing.T, f *workflowFixture, p models.CorrectionProposal) {
		t.Helper()
		f.seed("t-1", models.StatusInReview)
		_, err := f.workflow.ProposeCorrection(ctx, "t-1", p, expert)
		require.NoError(t, err)
	}

	t.Run("approve runs impact analysis", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		proposed(t, f, contentProposal())

		got, err := f.workflow.Approve(ctx, "t-1", "looks right", admin)

		require.NoError(t, err)
		assert.Equal(t, models.StatusApprovedToApply, got.Status)
		require.NotNil(t, got.Impact)
		assert.Equal(t, models.RiskLow, got.Impact.RiskLevel)
		require.Len(t, got.Approvals, 1)
		assert.False(t, got.Approvals[0].RequiresSuperAdminConfirmation)
		assert.Equal(t, ActionAdminApproved, f.lastAudit(t).Action.Type)
	})

	t.Run("expert cannot approve", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		proposed(t, f, contentProposal())

		_, err := f.workflow.Approve(ctx, "t-1", "", expert)

		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Equal(t, models.StatusCorrectionProposed, f.tickets.Status("t-1"))
	})

	t.Run("approve from the wrong status", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.seed("t-1", models.StatusInReview)

		_, err := f.workflow.Approve(ctx, "t-1", "", admin)

		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("critical risk needs superadmin to apply", func(t *testing.T) {
		f := newWorkflowFixture(t, nil)
		f.corpus.AgentsFunc = func(ctx context.Context, domainID string) ([]models.Agent, error) {
			agents := make([]models.Agent, 6)
			for i := range agents {
				agents[i] = models.Agent{ID: string(rune('a' + i)), DomainID: domainID}
			}
			return agents, nil
		}
		proposed(t, f, behaviorProposal())

		approved, err := f.workflow.Approve(ctx, "t-1", "", admin)
		require.NoError(t, err)
		assert.Equal(t, models.RiskCritical, approved.Impact.RiskLevel)
		assert.True(t, approved.Approvals[0].RequiresSuperAdminConfirmation)

		_, err = f.workflow.ApplyCorrection(ctx, "t-1", true, admin)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Equal(t, models.StatusApprovedToApply, f.tickets.Status("t-1"))

		applied, err := f.workflow.ApplyCorrection(ctx, "t-1", true, superAdmin)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApplied, applied.Status)
		assert.True(t, applied.Implementation.BehaviorRuleUpdated)
		assert.Equal(t, 6, applied.Implementation.AffectedAgentCount)
		assert.Equal(t, ActionAppliedDomainWide, f.lastAudit(t).Action.Type)
	})
}

func TestWorkflowFullPath(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, mocks.Replying(`["billing"]`),
		models.Specialist{ID: "sp-1", DomainID: testDomain, Name: "Ana", Domains: []string{"billing"}, MaxAssignments: 2})

	created, err := f.workflow.CreateTicket(ctx, models.Feedback{
		FeedbackID:   "fb-1",
		DomainID:     testDomain,
		Question:     "Refund window?",
		ExpertRating: models.ExpertUnacceptable,
		SimilarCount: 7,
	}, expert)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, created.Priority)
	id := created.ID

	step := func(target models.ReviewStatus, actor models.Actor) {
		t.Helper()
		_, err := f.workflow.Transition(ctx, TransitionInput{TicketID: id, Target: target}, actor)
		require.NoError(t, err)
	}

	step(models.StatusInReview, expert)
	_, _, err = f.workflow.Escalate(ctx, id, "", expert)
	require.NoError(t, err)
	step(models.StatusSpecialistReviewing, specialist)
	_, err = f.workflow.ProposeCorrection(ctx, id, contentProposal(), specialist)
	require.NoError(t, err)
	assert.Equal(t, 0, f.specialists.Workload("sp-1"))
	_, err = f.workflow.Approve(ctx, id, "ok", admin)
	require.NoError(t, err)
	applied, err := f.workflow.ApplyCorrection(ctx, id, true, admin)
	require.NoError(t, err)

	assert.Equal(t, models.StatusApplied, applied.Status)
	assert.Len(t, applied.History, 6)
	assert.Equal(t, "v6", applied.Implementation.VersionBefore)
	assert.Equal(t, "v7", applied.Implementation.VersionAfter)
	require.NotNil(t, applied.Assignment.CompletedAt)

	actions, err := f.workflow.TicketActions(ctx, id, superAdmin)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActView, ActVerifyImpact, ActRollback}, actions)

	trail, err := f.workflow.Trail(ctx, id, 0, admin)
	require.NoError(t, err)
	require.Len(t, trail, 7)
	assert.Equal(t, ActionAppliedSingle, trail[0].Action.Type)
	assert.Equal(t, ActionTicketGenerated, trail[len(trail)-1].Action.Type)

	report, err := f.workflow.VerifyTrail(ctx, id, admin)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Checked)
	assert.Empty(t, report.Unverified)

	_, err = f.workflow.Trail(ctx, id, 0, outsider)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
