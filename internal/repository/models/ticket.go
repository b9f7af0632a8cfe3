package models

import "time"

// ReviewStatus is the wire-stable workflow status of a ReviewTicket.
type ReviewStatus string

const (
	StatusPending               ReviewStatus = "pending"
	StatusInReview              ReviewStatus = "in-review"
	StatusCorrectionProposed    ReviewStatus = "correction-proposed"
	StatusAssignedToSpecialist  ReviewStatus = "assigned-to-specialist"
	StatusSpecialistReviewing   ReviewStatus = "specialist-reviewing"
	StatusReturnedToSupervisor  ReviewStatus = "returned-to-supervisor"
	StatusApprovedToApply       ReviewStatus = "approved-to-apply"
	StatusApplied               ReviewStatus = "applied"
	StatusRejected              ReviewStatus = "rejected"
	StatusSystemicIssueDetected ReviewStatus = "systemic-issue-detected"
)

// AllStatuses lists every member of the enumeration in workflow order.
var AllStatuses = []ReviewStatus{
	StatusPending,
	StatusInReview,
	StatusCorrectionProposed,
	StatusAssignedToSpecialist,
	StatusSpecialistReviewing,
	StatusReturnedToSupervisor,
	StatusApprovedToApply,
	StatusApplied,
	StatusRejected,
	StatusSystemicIssueDetected,
}

// Valid reports whether s is a member of the enumeration.
func (s ReviewStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ExpertRating is the categorical rating an expert assigns to an AI response.
type ExpertRating string

const (
	ExpertUnacceptable ExpertRating = "unacceptable"
	ExpertAcceptable   ExpertRating = "acceptable"
	ExpertOutstanding  ExpertRating = "outstanding"
)

// Role identifies what an authenticated actor may do.
type Role string

const (
	RoleUser       Role = "user"
	RoleExpert     Role = "expert"
	RoleSpecialist Role = "specialist"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleExpert, RoleSpecialist, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Actor is the already-authenticated identity performing an operation.
type Actor struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role"`
	Domain    string `json:"domain"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Ticket is one quality issue under review.
type Ticket struct {
	ID               string              `json:"id"`
	FeedbackID       string              `json:"feedbackId"`
	DomainID         string              `json:"domainId"`
	Title            string              `json:"title"`
	Category         string              `json:"category"`
	Question         string              `json:"question"`
	OriginalResponse string              `json:"originalResponse"`
	ReviewerNotes    string              `json:"reviewerNotes,omitempty"`
	Priority         Priority            `json:"priority"`
	Status           ReviewStatus        `json:"status"`
	Version          int64               `json:"version"`
	History          []HistoryEntry      `json:"history"`
	Proposal         *CorrectionProposal `json:"proposal,omitempty"`
	Impact           *ImpactAnalysis     `json:"impact,omitempty"`
	Assignment       *Assignment         `json:"assignment,omitempty"`
	Approvals        []Approval          `json:"approvals,omitempty"`
	Implementation   *Implementation     `json:"implementation,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// HistoryEntry records one status change. Entries are append-only.
type HistoryEntry struct {
	Seq           int64        `json:"seq"`
	TicketID      string       `json:"ticketId"`
	FromStatus    ReviewStatus `json:"fromStatus"`
	ToStatus      ReviewStatus `json:"toStatus"`
	ChangedBy     string       `json:"changedBy"`
	ChangedByRole Role         `json:"changedByRole"`
	ChangedAt     time.Time    `json:"changedAt"`
	Notes         string       `json:"notes,omitempty"`
	Automated     bool         `json:"automated"`
}

// Assignment tracks a specialist escalation.
type Assignment struct {
	SpecialistID string     `json:"specialistId"`
	AssignedBy   string     `json:"assignedBy"`
	AssignedAt   time.Time  `json:"assignedAt"`
	MatchScore   int        `json:"matchScore,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ReturnedAt   *time.Time `json:"returnedAt,omitempty"`
}

// Approval is one link of the approval chain.
type Approval struct {
	ApprovedBy                     string    `json:"approvedBy"`
	Role                           Role      `json:"role"`
	ApprovedAt                     time.Time `json:"approvedAt"`
	Notes                          string    `json:"notes,omitempty"`
	RequiresSuperAdminConfirmation bool      `json:"requiresSuperAdminConfirmation"`
}

// Implementation records what was actually applied.
type Implementation struct {
	AppliedBy            string    `json:"appliedBy"`
	AppliedAt            time.Time `json:"appliedAt"`
	KnowledgeBaseUpdated bool      `json:"knowledgeBaseUpdated"`
	BehaviorRuleUpdated  bool      `json:"behaviorRuleUpdated"`
	FAQAdded             bool      `json:"faqAdded"`
	ToneAdjusted         bool      `json:"toneAdjusted"`
	ContextsUpdated      []string  `json:"contextsUpdated,omitempty"`
	AffectedAgentCount   int       `json:"affectedAgentCount"`
	VersionBefore        string    `json:"versionBefore"`
	VersionAfter         string    `json:"versionAfter"`
	TestingCompleted     bool      `json:"testingCompleted"`
	RollbackAvailable    bool      `json:"rollbackAvailable"`
}

// Feedback is the triaged user/expert feedback a ticket is created from.
type Feedback struct {
	FeedbackID       string       `json:"feedbackId"`
	DomainID         string       `json:"domainId"`
	Title            string       `json:"title"`
	Category         string       `json:"category"`
	Question         string       `json:"question"`
	OriginalResponse string       `json:"originalResponse"`
	ReviewerNotes    string       `json:"reviewerNotes,omitempty"`
	UserStars        int          `json:"userStars,omitempty"`
	ExpertRating     ExpertRating `json:"expertRating,omitempty"`
	SimilarCount     int          `json:"similarCount,omitempty"`
}
