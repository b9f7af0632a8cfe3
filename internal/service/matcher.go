package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/godilite/qa-workflow/internal/llm"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/pkg/formatting"
)

// MatchInput is the interaction a specialist is sought for.
type MatchInput struct {
	Question         string
	OriginalResponse string
	ReviewerNotes    string
	Category         string
}

// SpecialistMatcher ranks specialists for a ticket.
type SpecialistMatcher struct {
	specialists SpecialistRepository
	generator   TextGenerator
	policy      MatchingPolicy
	logger      *zap.Logger
	now         func() time.Time
}

func NewSpecialistMatcher(specialists SpecialistRepository, generator TextGenerator, policy MatchingPolicy, logger *zap.Logger) *SpecialistMatcher {
	if specialists == nil {
		panic("specialist store must not be nil")
	}
	if generator == nil {
		generator = llm.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpecialistMatcher{
		specialists: specialists,
		generator:   generator,
		policy:      policy,
		logger:      logger.Named("matcher"),
		now:         time.Now,
	}
}

// FindBest returns at most MaxResults specialists of domainID ranked by match
// score, skipping excludeIDs.
func (m *SpecialistMatcher) FindBest(ctx context.Context, in MatchInput, domainID string, excludeIDs []string) ([]models.SpecialistMatch, error) {
	if domainID == "" {
		return nil, validationErr("domainId", "is required")
	}

	candidates, err := m.specialists.ListByDomain(ctx, domainID)
	if err != nil {
		return nil, storageErr("list specialists", err)
	}
	candidates = slices.DeleteFunc(candidates, func(s models.Specialist) bool {
		return slices.Contains(excludeIDs, s.ID)
	})
	if len(candidates) == 0 {
		return []models.SpecialistMatch{}, nil
	}

	topics := m.ExtractTopics(ctx, in)

	stats := make([]models.SpecialistStats, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, s := range candidates {
		g.Go(func() error {
			stats[i] = m.statsFor(gctx, s.ID)
			return nil
		})
	}
	_ = g.Wait()

	now := m.now().UTC()
	matches := make([]models.SpecialistMatch, 0, len(candidates))
	for i, s := range candidates {
		matches = append(matches, m.score(s, stats[i], topics.Value, now))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	if len(matches) > m.policy.MaxResults {
		matches = matches[:m.policy.MaxResults]
	}

	m.logger.Info("ranked specialists",
		zap.String("domain_id", domainID),
		zap.Int("candidates", len(candidates)),
		zap.Strings("topics", topics.Value),
		zap.Bool("topics_fallback", topics.Fallback))
	return matches, nil
}

func (m *SpecialistMatcher) statsFor(ctx context.Context, id string) models.SpecialistStats {
	st, err := m.specialists.Stats(ctx, id)
	if err != nil || st == nil || st.CompletedCount == 0 {
		if err != nil {
			m.logger.Debug("specialist stats unavailable, using defaults", zap.String("specialist_id", id), zap.Error(err))
		}
		return models.SpecialistStats{
			ApprovalRate:         m.policy.DefaultApprovalRate,
			AvgResponseTimeHours: m.policy.DefaultResponseHours,
		}
	}
	return *st
}

// ExtractTopics asks the text generator for up to MaxTopics topic keywords,
// falling back to the category label.
func (m *SpecialistMatcher) ExtractTopics(ctx context.Context, in MatchInput) Outcome[[]string] {
	fallback := func(reason string) Outcome[[]string] {
		m.logger.Warn("topic extraction fell back", zap.String("reason", reason))
		if in.Category == "" {
			return fellBack([]string{}, reason)
		}
		return fellBack([]string{in.Category}, reason)
	}

	resp, err := m.generator.Generate(ctx, llm.Request{
		Purpose:     "topics",
		Prompt:      buildTopicPrompt(in, m.policy.MaxTopics),
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		return fallback(fmt.Errorf("%w: %v", ErrExternalService, err).Error())
	}
	raw, err := formatting.Parse[[]string](resp.Text)
	if err != nil {
		return fallback("malformed reply: " + err.Error())
	}

	topics := make([]string, 0, m.policy.MaxTopics)
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(topics, t) {
			continue
		}
		topics = append(topics, t)
		if len(topics) == m.policy.MaxTopics {
			break
		}
	}
	if len(topics) == 0 {
		return fallback("no topics in reply")
	}
	return succeeded(topics)
}

func (m *SpecialistMatcher) score(s models.Specialist, st models.SpecialistStats, topics []string, now time.Time) models.SpecialistMatch {
	p := m.policy
	relevance := TopicRelevance(topics, s.Domains)
	workload := WorkloadScore(s.CurrentAssignments, s.MaxAssignments)
	performance := PerformanceScore(st.ApprovalRate, st.AvgResponseTimeHours, p)

	score := int(math.Round((relevance*p.TopicWeight + workload*p.WorkloadWeight + performance*p.PerformanceWeight) * 100))
	score = max(0, min(100, score))

	match := models.SpecialistMatch{
		SpecialistID:           s.ID,
		SpecialistName:         s.Name,
		Specialty:              s.Specialty,
		MatchScore:             score,
		TopicRelevance:         relevance,
		WorkloadScore:          workload,
		PerformanceScore:       performance,
		CurrentWorkload:        s.CurrentAssignments,
		MaxWorkload:            s.MaxAssignments,
		IsAvailable:            s.CurrentAssignments < s.MaxAssignments,
		EstimatedResponseHours: st.AvgResponseTimeHours,
		Reasons: []models.MatchReason{
			{
				Reason:      fmt.Sprintf("%d%% topic relevance", int(math.Round(relevance*100))),
				Weight:      relevance * p.TopicWeight,
				Description: "Expertise in: " + s.Specialty,
			},
			{
				Reason:      fmt.Sprintf("%d/%d current assignments", s.CurrentAssignments, s.MaxAssignments),
				Weight:      workload * p.WorkloadWeight,
				Description: workloadLabel(workload),
			},
			{
				Reason:      fmt.Sprintf("%d%% historical approval rate", int(math.Round(st.ApprovalRate*100))),
				Weight:      performance * p.PerformanceWeight,
				Description: approvalLabel(st.ApprovalRate),
			},
			{
				Reason:      fmt.Sprintf("Responds in %.1fh on average", st.AvgResponseTimeHours),
				Weight:      0,
				Description: speedLabel(st.AvgResponseTimeHours),
			},
		},
	}
	if !match.IsAvailable {
		next := now.Add(p.UnavailableFor)
		match.NextAvailableDate = &next
	}
	return match
}

// TopicRelevance is the fraction of topics that substring-match, in either
// direction and ignoring case, at least one of domains.
func TopicRelevance(topics, domains []string) float64 {
	if len(topics) == 0 || len(domains) == 0 {
		return 0
	}
	matched := 0
	for _, t := range topics {
		t = strings.ToLower(t)
		for _, d := range domains {
			d = strings.ToLower(d)
			if strings.Contains(t, d) || strings.Contains(d, t) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(topics))
}

// WorkloadScore is the free share of capacity in [0,1].
func WorkloadScore(current, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Max(0, 1-float64(current)/float64(capacity))
}

// PerformanceScore blends approval rate with response speed against the
// response-hours ceiling.
func PerformanceScore(approvalRate, avgResponseHours float64, p MatchingPolicy) float64 {
	approval := math.Max(0, math.Min(1, approvalRate))
	speed := math.Max(0, math.Min(1, 1-avgResponseHours/p.ResponseHoursCeiling))
	return approval*p.ApprovalShare + speed*p.SpeedShare
}

func workloadLabel(w float64) string {
	if w > 0.7 {
		return "Low load, available"
	}
	if w > 0 {
		return "Moderate load"
	}
	return "At capacity"
}

func approvalLabel(rate float64) string {
	if rate > 0.85 {
		return "Excellent track record"
	}
	return "Good track record"
}

func speedLabel(hours float64) string {
	switch {
	case hours < 6:
		return "Very fast"
	case hours < 12:
		return "Fast"
	default:
		return "Standard response time"
	}
}

func buildTopicPrompt(in MatchInput, maxTopics int) string {
	answer := in.OriginalResponse
	if len(answer) > 200 {
		answer = answer[:200] + "..."
	}
	return fmt.Sprintf(`Extract the main topics of this interaction (at most %d).

QUESTION: %q
ANSWER: %q
EXPERT NOTES: %q
CATEGORY: %s

Use specific topics such as "sales", "billing", "legal", "technical", "logistics".
Reply with a JSON array of topic strings only, for example ["topic1", "topic2"].`,
		maxTopics, in.Question, answer, in.ReviewerNotes, in.Category)
}
