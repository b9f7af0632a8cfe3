package service

import (
	"time"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

// Policy is the fixed business policy consumed by the scoring components.
// Version is stamped on every stored quality snapshot so a change to any
// weight is traceable.
type Policy struct {
	Version  string
	Quality  QualityPolicy
	Matching MatchingPolicy
	Impact   ImpactPolicy
	Proposal ProposalPolicy
	Triage   TriagePolicy
}

type QualityPolicy struct {
	CSATWeight       float64
	NPSWeight        float64
	ExpertWeight     float64
	ResolutionWeight float64
	AccuracyWeight   float64

	// Neutral values used when a component has no data in the period.
	NeutralCSAT       float64 // on the 0-5 scale
	NeutralNPS        float64
	NeutralExpert     float64
	NeutralResolution float64 // rate 0-1
	NeutralAccuracy   float64 // rate 0-1

	ExcellenceFloor      float64
	WorldClassFloor      float64
	AcceptableFloor      float64
	BelowAcceptableFloor float64

	TrendThreshold float64
}

type MatchingPolicy struct {
	TopicWeight       float64
	WorkloadWeight    float64
	PerformanceWeight float64

	ApprovalShare        float64
	SpeedShare           float64
	ResponseHoursCeiling float64

	MaxTopics  int
	MaxResults int

	DefaultApprovalRate  float64
	DefaultResponseHours float64
	UnavailableFor       time.Duration
}

type ImpactPolicy struct {
	SimilarLimit               int
	DefaultRating              float64
	DefaultMonthlyInteractions int
	DefaultPoorResponseRate    float64
	MinutesPerPoorResponse     float64
	HourlyUserCost             float64
	HourlyImplementationCost   float64
	MinPaybackMonths           float64

	FallbackImprovement float64 // percent
	FallbackConfidence  float64

	AgentEscalationThreshold int
	EffortHours              map[models.Effort]float64
	MaxImpactedKPIs          int
}

type ProposalPolicy struct {
	FallbackConfidence int
	MaxAlternatives    int
	MaxTokens          int64
}

type TriagePolicy struct {
	CriticalSimilarCount int
	HighMaxStars         int
	MediumMaxStars       int
}

// DefaultPolicy is the policy the service ships with.
var DefaultPolicy = Policy{
	Version: "2025.11.1",
	Quality: QualityPolicy{
		CSATWeight:       0.30,
		NPSWeight:        0.25,
		ExpertWeight:     0.25,
		ResolutionWeight: 0.10,
		AccuracyWeight:   0.10,

		NeutralCSAT:       3.0,
		NeutralNPS:        50,
		NeutralExpert:     50,
		NeutralResolution: 0.5,
		NeutralAccuracy:   0.5,

		ExcellenceFloor:      90,
		WorldClassFloor:      85,
		AcceptableFloor:      70,
		BelowAcceptableFloor: 50,

		TrendThreshold: 2,
	},
	Matching: MatchingPolicy{
		TopicWeight:       0.50,
		WorkloadWeight:    0.20,
		PerformanceWeight: 0.30,

		ApprovalShare:        0.7,
		SpeedShare:           0.3,
		ResponseHoursCeiling: 48,

		MaxTopics:  5,
		MaxResults: 3,

		DefaultApprovalRate:  0.80,
		DefaultResponseHours: 12,
		UnavailableFor:       7 * 24 * time.Hour,
	},
	Impact: ImpactPolicy{
		SimilarLimit:               100,
		DefaultRating:              3,
		DefaultMonthlyInteractions: 1000,
		DefaultPoorResponseRate:    0.25,
		MinutesPerPoorResponse:     5,
		HourlyUserCost:             50,
		HourlyImplementationCost:   150,
		MinPaybackMonths:           0.1,

		FallbackImprovement: 25,
		FallbackConfidence:  60,

		AgentEscalationThreshold: 5,
		EffortHours: map[models.Effort]float64{
			models.EffortXS: 1,
			models.EffortS:  2,
			models.EffortM:  3,
			models.EffortL:  4,
			models.EffortXL: 8,
		},
		MaxImpactedKPIs: 3,
	},
	Proposal: ProposalPolicy{
		FallbackConfidence: 50,
		MaxAlternatives:    2,
		MaxTokens:          2048,
	},
	Triage: TriagePolicy{
		CriticalSimilarCount: 5,
		HighMaxStars:         2,
		MediumMaxStars:       3,
	},
}
