package models

import "time"

// ChangeType classifies what a correction proposal changes.
type ChangeType string

const (
	ChangeContent      ChangeType = "content"
	ChangeBehaviorRule ChangeType = "behavioral-rule"
	ChangeFAQ          ChangeType = "faq"
	ChangeTone         ChangeType = "tone"
	ChangeOutOfScope   ChangeType = "out-of-scope"
)

// Valid reports whether c is a known change type.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeContent, ChangeBehaviorRule, ChangeFAQ, ChangeTone, ChangeOutOfScope:
		return true
	}
	return false
}

// KnowledgeEdit is the kind of edit applied to a knowledge source section.
type KnowledgeEdit string

const (
	EditUpdate KnowledgeEdit = "update"
	EditAdd    KnowledgeEdit = "add"
	EditRemove KnowledgeEdit = "remove"
)

// RiskLevel is the categorical disruption estimate shared by proposals and analyses.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Valid reports whether r is a known tier.
func (r RiskLevel) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// Rank orders risk tiers; unknown tiers rank as low.
func (r RiskLevel) Rank() int { return riskRank[r] }

// AtLeast returns the higher of r and floor.
func (r RiskLevel) AtLeast(floor RiskLevel) RiskLevel {
	if floor.Rank() > r.Rank() {
		return floor
	}
	return r
}

// Escalate moves r one tier up, saturating at critical.
func (r RiskLevel) Escalate() RiskLevel {
	switch r {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// CorrectionProposal is immutable once attached to a ticket.
type CorrectionProposal struct {
	ID               string            `json:"id"`
	TicketID         string            `json:"ticketId,omitempty"`
	ProposedBy       string            `json:"proposedBy"`
	ProposedByRole   Role              `json:"proposedByRole"`
	ProposedAt       time.Time         `json:"proposedAt"`
	ChangeType       ChangeType        `json:"changeType"`
	CorrectedText    string            `json:"correctedText"`
	KnowledgeUpdates []KnowledgeUpdate `json:"knowledgeUpdates,omitempty"`
	PromptChange     *PromptChange     `json:"promptChange,omitempty"`
	FAQs             []FAQEntry        `json:"faqs,omitempty"`
	AISuggestion     *AISuggestion     `json:"aiSuggestion,omitempty"`
}

// ChangesBehaviorRule reports whether applying p alters a domain-wide behavioral rule.
func (p CorrectionProposal) ChangesBehaviorRule() bool {
	return p.ChangeType == ChangeBehaviorRule || p.PromptChange != nil
}

// RemovesContent reports whether any knowledge update deletes existing text.
func (p CorrectionProposal) RemovesContent() bool {
	for _, u := range p.KnowledgeUpdates {
		if u.Edit == EditRemove {
			return true
		}
	}
	return false
}

// KnowledgeSources returns the distinct knowledge source ids touched by p.
func (p CorrectionProposal) KnowledgeSources() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range p.KnowledgeUpdates {
		if u.SourceID == "" {
			continue
		}
		if _, ok := seen[u.SourceID]; ok {
			continue
		}
		seen[u.SourceID] = struct{}{}
		out = append(out, u.SourceID)
	}
	return out
}

type KnowledgeUpdate struct {
	SourceID      string        `json:"sourceId,omitempty"`
	DocumentName  string        `json:"documentName"`
	Section       string        `json:"section,omitempty"`
	CurrentText   string        `json:"currentText,omitempty"`
	ProposedText  string        `json:"proposedText"`
	Edit          KnowledgeEdit `json:"edit"`
	Justification string        `json:"justification,omitempty"`
}

type PromptChange struct {
	CurrentPrompt     string   `json:"currentPrompt"`
	ProposedPrompt    string   `json:"proposedPrompt"`
	ChangeReason      string   `json:"changeReason"`
	AffectedBehaviors []string `json:"affectedBehaviors,omitempty"`
}

type FAQEntry struct {
	Category string   `json:"category"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Keywords []string `json:"keywords,omitempty"`
}

// AISuggestion is the model-authored block of a proposal.
type AISuggestion struct {
	SuggestedCorrection         string        `json:"suggestedCorrection"`
	ConfidenceScore             int           `json:"confidenceScore"`
	Reasoning                   string        `json:"reasoning"`
	Alternatives                []Alternative `json:"alternatives,omitempty"`
	AffectedSimilarQuestions    int           `json:"affectedSimilarQuestions"`
	EstimatedQualityImprovement float64       `json:"estimatedQualityImprovement"`
	GeneratedAt                 time.Time     `json:"generatedAt"`
	Model                       string        `json:"model"`
	TokensUsed                  int64         `json:"tokensUsed"`
	Fallback                    bool          `json:"fallback"`
}

type Alternative struct {
	Text      string    `json:"text"`
	Pros      []string  `json:"pros,omitempty"`
	Cons      []string  `json:"cons,omitempty"`
	RiskLevel RiskLevel `json:"riskLevel"`
}
