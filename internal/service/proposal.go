package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/llm"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/pkg/formatting"
)

const proposalSystemPrompt = `You are a quality reviewer for an AI assistant. You correct assistant answers
so they are accurate, complete and actionable. Reply with a single JSON object and nothing else.`

// ProposalInput is the interaction a correction is generated for.
type ProposalInput struct {
	TicketID         string
	Question         string
	OriginalResponse string
	ReviewerNotes    string
	ContextUsed      []string
	BehaviorSpec     string
	Strategy         *models.OrgStrategy
	ChangeType       models.ChangeType
	Proposer         models.Actor
}

type suggestionReply struct {
	CorrectedText         string  `json:"correctedText"`
	Confidence            float64 `json:"confidence"`
	Reasoning             string  `json:"reasoning"`
	SimilarQuestionsCount int     `json:"similarQuestionsCount"`
	EstimatedImprovement  float64 `json:"estimatedImprovement"`
	Alternatives          []struct {
		Text      string   `json:"text"`
		Pros      []string `json:"pros"`
		Cons      []string `json:"cons"`
		RiskLevel string   `json:"riskLevel"`
	} `json:"alternatives"`
}

// CorrectionProposalService drafts correction proposals, with an AI-authored
// suggestion when the text generator answers in time.
type CorrectionProposalService struct {
	generator TextGenerator
	policy    ProposalPolicy
	logger    *zap.Logger
	now       func() time.Time
}

func NewCorrectionProposalService(generator TextGenerator, policy ProposalPolicy, logger *zap.Logger) *CorrectionProposalService {
	if generator == nil {
		generator = llm.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorrectionProposalService{
		generator: generator,
		policy:    policy,
		logger:    logger.Named("proposal"),
		now:       time.Now,
	}
}

// Generate never fails: a collaborator error, timeout or malformed reply
// yields a low-confidence suggestion built from the reviewer notes.
func (s *CorrectionProposalService) Generate(ctx context.Context, in ProposalInput) Outcome[models.CorrectionProposal] {
	now := s.now().UTC()
	changeType := in.ChangeType
	if !changeType.Valid() {
		changeType = models.ChangeContent
	}
	proposal := models.CorrectionProposal{
		ID:             uuid.NewString(),
		TicketID:       in.TicketID,
		ProposedBy:     in.Proposer.UserID,
		ProposedByRole: in.Proposer.Role,
		ProposedAt:     now,
		ChangeType:     changeType,
	}

	suggestion, reason := s.suggest(ctx, in)
	if suggestion == nil {
		s.logger.Warn("proposal generation fell back",
			zap.String("ticket_id", in.TicketID),
			zap.String("reason", reason))
		fb := s.fallbackSuggestion(in, reason, now)
		proposal.AISuggestion = &fb
		proposal.CorrectedText = fb.SuggestedCorrection
		return fellBack(proposal, reason)
	}

	suggestion.GeneratedAt = now
	proposal.AISuggestion = suggestion
	proposal.CorrectedText = suggestion.SuggestedCorrection
	return succeeded(proposal)
}

func (s *CorrectionProposalService) suggest(ctx context.Context, in ProposalInput) (*models.AISuggestion, string) {
	resp, err := s.generator.Generate(ctx, llm.Request{
		Purpose:     "proposal",
		System:      proposalSystemPrompt,
		Prompt:      buildProposalPrompt(in, s.policy.MaxAlternatives),
		MaxTokens:   s.policy.MaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err).Error()
	}

	reply, err := formatting.Parse[suggestionReply](resp.Text)
	if err != nil {
		return nil, "malformed reply: " + err.Error()
	}
	if strings.TrimSpace(reply.CorrectedText) == "" {
		return nil, "malformed reply: empty correctedText"
	}

	sug := &models.AISuggestion{
		SuggestedCorrection:         strings.TrimSpace(reply.CorrectedText),
		ConfidenceScore:             clampPercent(reply.Confidence),
		Reasoning:                   strings.TrimSpace(reply.Reasoning),
		AffectedSimilarQuestions:    max(0, reply.SimilarQuestionsCount),
		EstimatedQualityImprovement: math.Max(0, math.Min(100, reply.EstimatedImprovement)),
		Model:                       resp.Model,
		TokensUsed:                  resp.TotalTokens(),
	}
	if sug.Reasoning == "" {
		sug.Reasoning = "No reasoning provided by the model."
	}
	for _, alt := range reply.Alternatives {
		if len(sug.Alternatives) == s.policy.MaxAlternatives {
			break
		}
		if strings.TrimSpace(alt.Text) == "" {
			continue
		}
		risk := models.RiskLevel(strings.ToLower(alt.RiskLevel))
		if !risk.Valid() {
			risk = models.RiskMedium
		}
		sug.Alternatives = append(sug.Alternatives, models.Alternative{
			Text:      alt.Text,
			Pros:      alt.Pros,
			Cons:      alt.Cons,
			RiskLevel: risk,
		})
	}
	return sug, ""
}

func (s *CorrectionProposalService) fallbackSuggestion(in ProposalInput, reason string, now time.Time) models.AISuggestion {
	notes := strings.TrimSpace(in.ReviewerNotes)
	correction := "Revise the response to address the reviewer's concerns."
	reasoning := "Automatic suggestion unavailable; no reviewer notes were provided, manual correction required."
	if notes != "" {
		correction = "Revise the response to address the reviewer's notes: " + notes
		reasoning = "Automatic suggestion unavailable; this template restates the reviewer's notes: " + notes
	}
	return models.AISuggestion{
		SuggestedCorrection: correction,
		ConfidenceScore:     s.policy.FallbackConfidence,
		Reasoning:           reasoning,
		GeneratedAt:         now,
		Model:               "fallback",
		Fallback:            true,
	}
}

func buildProposalPrompt(in ProposalInput, maxAlternatives int) string {
	var b strings.Builder
	b.WriteString("Correct the assistant answer below.\n\n")
	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", in.Question)
	fmt.Fprintf(&b, "ORIGINAL ANSWER:\n%s\n\n", in.OriginalResponse)
	if notes := strings.TrimSpace(in.ReviewerNotes); notes != "" {
		fmt.Fprintf(&b, "REVIEWER NOTES:\n%s\n\n", notes)
	}
	if len(in.ContextUsed) > 0 {
		b.WriteString("CONTEXT USED BY THE ASSISTANT:\n")
		for _, c := range in.ContextUsed {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	if spec := strings.TrimSpace(in.BehaviorSpec); spec != "" {
		fmt.Fprintf(&b, "EXPECTED BEHAVIOR:\n%s\n\n", spec)
	}
	if st := in.Strategy; st != nil {
		b.WriteString("ORGANIZATIONAL STRATEGY:\n")
		if st.Mission != "" {
			fmt.Fprintf(&b, "Mission: %s\n", st.Mission)
		}
		for _, o := range st.Objectives {
			fmt.Fprintf(&b, "Objective: %s\n", o)
		}
		for _, k := range st.KPIs {
			fmt.Fprintf(&b, "KPI: %s (current %s, target %s)\n", k.Name, orUnknown(k.Current), orUnknown(k.Target))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `Reply with JSON only:
{
  "correctedText": "the corrected answer",
  "confidence": 0-100,
  "reasoning": "why this correction fixes the problem",
  "alternatives": [{"text": "...", "pros": ["..."], "cons": ["..."], "riskLevel": "low|medium|high|critical"}],
  "similarQuestionsCount": estimated number of similar questions that benefit,
  "estimatedImprovement": expected quality improvement percent
}
Give at most %d alternatives.`, maxAlternatives)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func clampPercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}
