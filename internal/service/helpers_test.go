package service

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/internal/service/mocks"
)

const testDomain = "acme.com"

var (
	testNow = time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)

	expert     = models.Actor{UserID: "u-expert", Email: "expert@acme.com", Role: models.RoleExpert, Domain: testDomain, IPAddress: "10.1.2.3", SessionID: "sess-1"}
	specialist = models.Actor{UserID: "sp-1", Email: "spec@acme.com", Role: models.RoleSpecialist, Domain: testDomain}
	admin      = models.Actor{UserID: "u-admin", Email: "admin@acme.com", Role: models.RoleAdmin, Domain: testDomain}
	superAdmin = models.Actor{UserID: "u-root", Email: "root@platform.io", Role: models.RoleSuperAdmin, Domain: "platform.io"}
	outsider   = models.Actor{UserID: "u-other", Email: "admin@other.com", Role: models.RoleAdmin, Domain: "other.com"}
	endUser    = models.Actor{UserID: "u-user", Email: "user@acme.com", Role: models.RoleUser, Domain: testDomain}
)

type fixture struct {
	tickets     *mocks.TicketStore
	audits      *mocks.AuditStore
	specialists *mocks.SpecialistStore
	log         *AuditLog
	machine     *ReviewStateMachine
}

func newFixture(t *testing.T, specialists ...models.Specialist) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		tickets:     mocks.NewTicketStore(),
		audits:      mocks.NewAuditStore(),
		specialists: mocks.NewSpecialistStore(specialists...),
	}
	f.log = NewAuditLog(f.audits, logger)
	f.log.now = func() time.Time { return testNow }
	f.machine = NewReviewStateMachine(f.tickets, f.specialists, f.log, logger)
	f.machine.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) seed(id string, status models.ReviewStatus) models.Ticket {
	t := models.Ticket{
		ID:               id,
		FeedbackID:       "fb-" + id,
		DomainID:         testDomain,
		Title:            "Refund window",
		Category:         "billing",
		Question:         "How long do I have to request a refund?",
		OriginalResponse: "You can request a refund at any time.",
		ReviewerNotes:    "Refunds are only accepted within 30 days.",
		Priority:         models.PriorityHigh,
		Status:           status,
		Version:          1,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
	f.tickets.Put(t)
	return t
}

func contentProposal() models.CorrectionProposal {
	return models.CorrectionProposal{
		ChangeType:    models.ChangeContent,
		CorrectedText: "Refunds can be requested within 30 days of purchase.",
		KnowledgeUpdates: []models.KnowledgeUpdate{{
			SourceID:     "kb-billing",
			DocumentName: "billing.md",
			ProposedText: "Refund window: 30 days.",
			Edit:         models.EditUpdate,
		}},
	}
}

func behaviorProposal() models.CorrectionProposal {
	return models.CorrectionProposal{
		ChangeType:    models.ChangeBehaviorRule,
		CorrectedText: "Always cite the refund policy.",
		PromptChange: &models.PromptChange{
			CurrentPrompt:  "Answer billing questions.",
			ProposedPrompt: "Answer billing questions and cite the refund policy.",
			ChangeReason:   "Answers omitted policy limits",
		},
	}
}
