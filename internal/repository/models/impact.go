package models

import "time"

// TestingLevel is the rigor of the validation required before applying a proposal.
type TestingLevel string

const (
	TestingMinimal   TestingLevel = "minimal"
	TestingStandard  TestingLevel = "standard"
	TestingExtensive TestingLevel = "extensive"
)

// Effort is a t-shirt size estimate of implementation work.
type Effort string

const (
	EffortXS Effort = "xs"
	EffortS  Effort = "s"
	EffortM  Effort = "m"
	EffortL  Effort = "l"
	EffortXL Effort = "xl"
)

// ImpactAnalysis is derived from a proposal and the feedback corpus. It is
// replaced, never mutated.
type ImpactAnalysis struct {
	TicketID                   string             `json:"ticketId"`
	DomainID                   string             `json:"domainId"`
	SimilarQuestionsCount      int                `json:"similarQuestionsCount"`
	AffectedUsersCount         int                `json:"affectedUsersCount"`
	AffectedAgentsCount        int                `json:"affectedAgentsCount"`
	TotalDomainAgents          int                `json:"totalDomainAgents"`
	AffectedAgents             []string           `json:"affectedAgents,omitempty"`
	AverageCurrentRating       float64            `json:"averageCurrentRating"`
	ProjectedRatingImprovement float64            `json:"projectedRatingImprovement"`
	ImplementationEffort       Effort             `json:"implementationEffort"`
	ROI                        ROI                `json:"roi"`
	RiskLevel                  RiskLevel          `json:"riskLevel"`
	SideEffects                []string           `json:"sideEffects"`
	TestingRequired            TestingLevel       `json:"testingRequired"`
	TestPlan                   TestPlan           `json:"testPlan"`
	StrategyAlignment          *StrategyAlignment `json:"strategyAlignment,omitempty"`
	GeneratedAt                time.Time          `json:"generatedAt"`
	AnalysisModel              string             `json:"analysisModel"`
	AnalysisTokens             int64              `json:"analysisTokens"`
	AnalysisConfidence         float64            `json:"analysisConfidence"`
	Fallbacks                  []string           `json:"fallbacks,omitempty"`
}

type ROI struct {
	MonthlyInteractions       int     `json:"monthlyInteractions"`
	CurrentPoorResponseRate   float64 `json:"currentPoorResponseRate"`
	ProjectedPoorResponseRate float64 `json:"projectedPoorResponseRate"`
	TimeSavingsHours          float64 `json:"timeSavingsHours"`
	CostReduction             float64 `json:"costReduction"`
	InvestmentCost            float64 `json:"investmentCost"`
	// PaybackMonths is nil when the correction saves nothing and never pays back.
	PaybackMonths *float64 `json:"paybackMonths"`
}

type TestPlan struct {
	SampleQuestions    []string `json:"sampleQuestions"`
	ValidationSteps    []string `json:"validationSteps"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	EstimatedHours     float64  `json:"estimatedHours"`
}

type StrategyAlignment struct {
	AlignsWithMission  bool        `json:"alignsWithMission"`
	RelevantObjectives []string    `json:"relevantObjectives"`
	ImpactedKPIs       []KPIImpact `json:"impactedKpis,omitempty"`
	StrategicValue     RiskLevel   `json:"strategicValue"`
}

type KPIImpact struct {
	Name           string `json:"name"`
	CurrentValue   string `json:"currentValue"`
	ExpectedImpact string `json:"expectedImpact"`
}
