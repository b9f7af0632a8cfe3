package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/godilite/qa-workflow/internal/llm"
	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/pkg/formatting"
)

// Fallback markers recorded on an ImpactAnalysis.
const (
	FallbackSimilar    = "similar-interactions"
	FallbackAgents     = "agents"
	FallbackPrediction = "prediction"
	FallbackDomainData = "domain-stats"
	FallbackStrategy   = "strategy"
)

type prediction struct {
	ImprovementPercentage float64 `json:"improvementPercentage"`
	ImprovementRate       float64 `json:"improvementRate"`
	Confidence            float64 `json:"confidence"`
	Reasoning             string  `json:"reasoning"`
	model                 string
	tokens                int64
}

// ImpactAnalyzer estimates scope, ROI and risk of applying a proposal. Every
// step has a conservative default, so Analyze only fails on invalid input.
type ImpactAnalyzer struct {
	similar   SimilarityFinder
	corpus    CorpusRepository
	generator TextGenerator
	policy    ImpactPolicy
	logger    *zap.Logger
	now       func() time.Time
}

func NewImpactAnalyzer(similar SimilarityFinder, corpus CorpusRepository, generator TextGenerator, policy ImpactPolicy, logger *zap.Logger) *ImpactAnalyzer {
	if corpus == nil {
		panic("corpus store must not be nil")
	}
	if similar == nil {
		similar = NoSimilarity{}
	}
	if generator == nil {
		generator = llm.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImpactAnalyzer{
		similar:   similar,
		corpus:    corpus,
		generator: generator,
		policy:    policy,
		logger:    logger.Named("impact"),
		now:       time.Now,
	}
}

// Analyze builds a fresh ImpactAnalysis. Calling it again with the same inputs
// is safe.
func (a *ImpactAnalyzer) Analyze(ctx context.Context, ticketID string, proposal *models.CorrectionProposal, domainID string) (*models.ImpactAnalysis, error) {
	if proposal == nil {
		return nil, validationErr("proposal", "is required")
	}
	if domainID == "" {
		return nil, validationErr("domainId", "is required")
	}

	var (
		mu        sync.Mutex
		fallbacks []string
		similar   []models.Interaction
		agents    agentScope
		stats     models.DomainStats
		strategy  *models.OrgStrategy
	)
	markFallback := func(step string, err error) {
		a.logger.Warn("impact step fell back",
			zap.String("ticket_id", ticketID),
			zap.String("step", step),
			zap.Error(err))
		mu.Lock()
		fallbacks = append(fallbacks, step)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := a.similar.FindSimilar(gctx, domainID, proposal.CorrectedText, a.policy.SimilarLimit)
		if err != nil {
			markFallback(FallbackSimilar, err)
			return nil
		}
		similar = found
		return nil
	})
	g.Go(func() error {
		scope, err := a.affectedAgents(gctx, proposal, domainID)
		if err != nil {
			markFallback(FallbackAgents, err)
		}
		agents = scope
		return nil
	})
	g.Go(func() error {
		ds, err := a.corpus.DomainStats(gctx, domainID)
		if err != nil || ds == nil || ds.MonthlyInteractions <= 0 {
			if err == nil {
				err = errors.New("no interaction volume recorded")
			}
			markFallback(FallbackDomainData, err)
			stats = models.DomainStats{
				MonthlyInteractions: a.policy.DefaultMonthlyInteractions,
				PoorResponseRate:    a.policy.DefaultPoorResponseRate,
			}
			return nil
		}
		stats = *ds
		if stats.PoorResponseRate <= 0 || stats.PoorResponseRate > 1 {
			stats.PoorResponseRate = a.policy.DefaultPoorResponseRate
		}
		return nil
	})
	g.Go(func() error {
		st, err := a.corpus.OrgStrategy(gctx, domainID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			markFallback(FallbackStrategy, err)
			return nil
		}
		strategy = st
		return nil
	})
	_ = g.Wait()

	ratings := make([]float64, 0, len(similar))
	users := make(map[string]struct{})
	for _, in := range similar {
		r := in.Rating
		if r <= 0 {
			r = a.policy.DefaultRating
		}
		ratings = append(ratings, r)
		if in.UserID != "" {
			users[in.UserID] = struct{}{}
		}
	}

	pred := a.predict(ctx, ratings, proposal, len(similar))
	if pred.Fallback {
		fallbacks = append(fallbacks, FallbackPrediction)
	}

	effort := EstimateEffort(proposal)
	risk, sideEffects := AssessRisk(proposal, len(agents.affected), a.policy.AgentEscalationThreshold)
	level := TestingLevelFor(risk)

	analysis := &models.ImpactAnalysis{
		TicketID:                   ticketID,
		DomainID:                   domainID,
		SimilarQuestionsCount:      len(similar),
		AffectedUsersCount:         len(users),
		AffectedAgentsCount:        len(agents.affected),
		TotalDomainAgents:          agents.total,
		AffectedAgents:             agents.affected,
		AverageCurrentRating:       average(ratings),
		ProjectedRatingImprovement: pred.Value.ImprovementPercentage,
		ImplementationEffort:       effort,
		ROI:                        ComputeROI(stats, pred.Value.ImprovementRate, a.policy.EffortHours[effort], a.policy),
		RiskLevel:                  risk,
		SideEffects:                sideEffects,
		TestingRequired:            level,
		TestPlan:                   BuildTestPlan(level),
		GeneratedAt:                a.now().UTC(),
		AnalysisModel:              pred.Value.model,
		AnalysisTokens:             pred.Value.tokens,
		AnalysisConfidence:         pred.Value.Confidence,
		Fallbacks:                  fallbacks,
	}
	if strategy != nil {
		analysis.StrategyAlignment = StrategyAlignmentFor(proposal, strategy, a.policy.MaxImpactedKPIs)
	}

	a.logger.Info("impact analysis complete",
		zap.String("ticket_id", ticketID),
		zap.Int("similar", analysis.SimilarQuestionsCount),
		zap.Float64("improvement", analysis.ProjectedRatingImprovement),
		zap.String("risk", string(risk)),
		zap.Float64p("payback_months", analysis.ROI.PaybackMonths),
		zap.Strings("fallbacks", fallbacks))
	return analysis, nil
}

type agentScope struct {
	total    int
	affected []string
}

// affectedAgents is every agent of the domain for a behavioral-rule change,
// otherwise the agents reading a touched knowledge source.
func (a *ImpactAnalyzer) affectedAgents(ctx context.Context, p *models.CorrectionProposal, domainID string) (agentScope, error) {
	agents, err := a.corpus.Agents(ctx, domainID)
	if err != nil {
		return agentScope{affected: []string{}}, err
	}
	scope := agentScope{total: len(agents), affected: []string{}}
	sources := p.KnowledgeSources()
	for _, ag := range agents {
		if p.ChangesBehaviorRule() || ag.UsesAny(sources) {
			scope.affected = append(scope.affected, ag.ID)
		}
	}
	return scope, nil
}

func (a *ImpactAnalyzer) predict(ctx context.Context, ratings []float64, p *models.CorrectionProposal, similarCount int) Outcome[prediction] {
	conservative := prediction{
		ImprovementPercentage: a.policy.FallbackImprovement,
		ImprovementRate:       a.policy.FallbackImprovement / 100,
		Confidence:            a.policy.FallbackConfidence,
		model:                 "fallback",
	}
	if len(ratings) == 0 {
		return fellBack(conservative, "no historical ratings")
	}

	resp, err := a.generator.Generate(ctx, llm.Request{
		Purpose:     "impact",
		Prompt:      buildPredictionPrompt(ratings, p, similarCount),
		MaxTokens:   500,
		Temperature: 0.2,
	})
	if err != nil {
		a.logger.Warn("improvement prediction failed", zap.Error(err))
		return fellBack(conservative, fmt.Errorf("%w: %v", ErrExternalService, err).Error())
	}
	pred, err := formatting.Parse[prediction](resp.Text)
	if err != nil || pred.ImprovementPercentage <= 0 {
		a.logger.Warn("improvement prediction malformed", zap.Error(err))
		return fellBack(conservative, "malformed reply")
	}

	pred.ImprovementPercentage = math.Min(100, pred.ImprovementPercentage)
	if pred.ImprovementRate <= 0 || pred.ImprovementRate > 1 {
		pred.ImprovementRate = pred.ImprovementPercentage / 100
	}
	if pred.Confidence <= 0 || pred.Confidence > 100 {
		pred.Confidence = a.policy.FallbackConfidence
	}
	pred.model = resp.Model
	pred.tokens = resp.TotalTokens()
	return succeeded(pred)
}

// EstimateEffort sizes the work of applying p.
func EstimateEffort(p *models.CorrectionProposal) models.Effort {
	switch {
	case p.ChangesBehaviorRule():
		return models.EffortL
	case len(p.KnowledgeUpdates) > 3:
		return models.EffortM
	case len(p.KnowledgeUpdates) == 1 || len(p.FAQs) > 0 || p.ChangeType == models.ChangeFAQ:
		return models.EffortS
	default:
		return models.EffortXS
	}
}

// AssessRisk applies the fixed risk rules. A behavioral-rule change is never
// below high.
func AssessRisk(p *models.CorrectionProposal, affectedAgents, escalationThreshold int) (models.RiskLevel, []string) {
	risk := models.RiskLow
	var effects []string

	if p.ChangesBehaviorRule() {
		risk = risk.AtLeast(models.RiskHigh)
		effects = append(effects, "Behavioral rule change alters fundamental agent behavior")
	}
	if p.RemovesContent() {
		risk = risk.AtLeast(models.RiskMedium)
		effects = append(effects, "Removes existing knowledge, other answers may be affected")
	}
	if affectedAgents > escalationThreshold {
		risk = risk.Escalate()
		effects = append(effects, fmt.Sprintf("Affects %d agents simultaneously", affectedAgents))
	}
	if len(effects) == 0 {
		effects = []string{"No side effects identified"}
	}
	return risk, effects
}

func TestingLevelFor(risk models.RiskLevel) models.TestingLevel {
	switch risk {
	case models.RiskHigh, models.RiskCritical:
		return models.TestingExtensive
	case models.RiskMedium:
		return models.TestingStandard
	default:
		return models.TestingMinimal
	}
}

// BuildTestPlan scales samples, steps and hours with the testing level.
func BuildTestPlan(level models.TestingLevel) models.TestPlan {
	switch level {
	case models.TestingExtensive:
		return models.TestPlan{
			SampleQuestions: numbered("Cross-agent test question %d", 30),
			ValidationSteps: []string{
				"Run unit tests over 30 questions",
				"Beta with 3 users of the domain",
				"Apply to 3 representative agents",
				"Monitor for 1 week",
				"Gradual rollout to the remaining agents",
			},
			AcceptanceCriteria: []string{
				"Average rating >= 4.5/5",
				"Zero negative feedback during beta",
				"All references validated",
				"No degradation in other agents",
			},
			EstimatedHours: 12,
		}
	case models.TestingStandard:
		return models.TestPlan{
			SampleQuestions: numbered("Test question %d", 10),
			ValidationSteps: []string{
				"Try on one agent first",
				"Monitor the first 20 uses",
				"Confirm rating improves by at least 0.5",
				"Expand to other agents if successful",
			},
			AcceptanceCriteria: []string{
				"Average rating >= 4/5",
				"No negative feedback",
				"References verified",
			},
			EstimatedHours: 4,
		}
	default:
		return models.TestPlan{
			SampleQuestions: numbered("Similar question %d", 3),
			ValidationSteps: []string{
				"Verify the answer includes the change",
				"Confirm references are correct",
			},
			AcceptanceCriteria: []string{"Rating >= 4/5 on samples"},
			EstimatedHours:     1,
		}
	}
}

// ComputeROI estimates monthly savings against the implementation investment.
func ComputeROI(stats models.DomainStats, improvementRate, investmentHours float64, p ImpactPolicy) models.ROI {
	current := stats.PoorResponseRate
	projected := current * (1 - improvementRate)
	hours := (current - projected) * float64(stats.MonthlyInteractions) * p.MinutesPerPoorResponse / 60
	cost := hours * p.HourlyUserCost
	investment := investmentHours * p.HourlyImplementationCost

	var payback *float64
	if cost > 0 {
		months := math.Max(p.MinPaybackMonths, investment/cost)
		payback = &months
	}
	return models.ROI{
		MonthlyInteractions:       stats.MonthlyInteractions,
		CurrentPoorResponseRate:   current,
		ProjectedPoorResponseRate: projected,
		TimeSavingsHours:          hours,
		CostReduction:             cost,
		InvestmentCost:            investment,
		PaybackMonths:             payback,
	}
}

// StrategyAlignmentFor matches the corrected text against the strategy by
// keyword overlap.
func StrategyAlignmentFor(p *models.CorrectionProposal, st *models.OrgStrategy, maxKPIs int) *models.StrategyAlignment {
	text := strings.ToLower(p.CorrectedText)

	objectives := []string{}
	for _, o := range st.Objectives {
		if mentions(text, strings.ToLower(o)) {
			objectives = append(objectives, o)
		}
	}

	kpis := []models.KPIImpact{}
	for _, k := range st.KPIs {
		if len(kpis) == maxKPIs {
			break
		}
		kpis = append(kpis, models.KPIImpact{
			Name:           k.Name,
			CurrentValue:   orUnknown(k.Current),
			ExpectedImpact: "Positive improvement expected",
		})
	}

	value := models.RiskMedium
	if len(objectives) > 0 {
		value = models.RiskHigh
	}
	return &models.StrategyAlignment{
		AlignsWithMission:  st.Mission != "" && mentions(text, strings.ToLower(st.Mission)),
		RelevantObjectives: objectives,
		ImpactedKPIs:       kpis,
		StrategicValue:     value,
	}
}

// mentions reports whether text contains phrase or any of its words longer
// than four characters.
func mentions(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	if strings.Contains(text, phrase) {
		return true
	}
	for _, w := range strings.Fields(phrase) {
		if len(w) > 4 && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func buildPredictionPrompt(ratings []float64, p *models.CorrectionProposal, similarCount int) string {
	shown := ratings
	if len(shown) > 10 {
		shown = shown[:10]
	}
	parts := make([]string, len(shown))
	for i, r := range shown {
		parts[i] = fmt.Sprintf("%.1f", r)
	}
	text := p.CorrectedText
	if len(text) > 200 {
		text = text[:200] + "..."
	}

	var b strings.Builder
	b.WriteString("Predict the quality improvement from applying this correction.\n\n")
	fmt.Fprintf(&b, "Current ratings: %s\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, "Current average: %.2f/5\n", average(ratings))
	fmt.Fprintf(&b, "Similar interactions: %d\n\n", similarCount)
	fmt.Fprintf(&b, "Change type: %s\nText: %q\n", p.ChangeType, text)
	if n := len(p.KnowledgeUpdates); n > 0 {
		fmt.Fprintf(&b, "Updates %d documents\n", n)
	}
	if p.ChangesBehaviorRule() {
		b.WriteString("Modifies the agent behavior rules\n")
	}
	b.WriteString(`
Reply with JSON only:
{"improvementPercentage": 35, "improvementRate": 0.35, "confidence": 80, "reasoning": "short explanation"}`)
	return b.String()
}

func numbered(format string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(format, i+1)
	}
	return out
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
