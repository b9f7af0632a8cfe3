package models

import "time"

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// QualityBand is the wire-stable DQS status band.
type QualityBand string

const (
	BandExcellence      QualityBand = "excellence"
	BandWorldClass      QualityBand = "world-class"
	BandAcceptable      QualityBand = "acceptable"
	BandBelowAcceptable QualityBand = "below-acceptable"
	BandFailing         QualityBand = "failing"
)

// QualityInputs is the raw feedback aggregate for a domain over a period.
// Count fields of zero mean the corresponding component has no data.
type QualityInputs struct {
	CSATSum            float64 `json:"csatSum"`
	CSATCount          int     `json:"csatCount"`
	NPSPromoters       int     `json:"npsPromoters"`
	NPSPassives        int     `json:"npsPassives"`
	NPSDetractors      int     `json:"npsDetractors"`
	ExpertUnacceptable int     `json:"expertUnacceptable"`
	ExpertAcceptable   int     `json:"expertAcceptable"`
	ExpertOutstanding  int     `json:"expertOutstanding"`
	ResolvedCount      int     `json:"resolvedCount"`
	ResolutionTotal    int     `json:"resolutionTotal"`
	AccurateCount      int     `json:"accurateCount"`
	AccuracyTotal      int     `json:"accuracyTotal"`
}

// QualitySnapshot is one computed DomainQualityMetrics per domain per period.
type QualitySnapshot struct {
	ID                 int64       `json:"id"`
	DomainID           string      `json:"domainId"`
	PeriodStart        time.Time   `json:"periodStart"`
	PeriodEnd          time.Time   `json:"periodEnd"`
	CSATScore          float64     `json:"csatScore"`
	NPSScore           float64     `json:"npsScore"`
	ExpertRatingScore  float64     `json:"expertRatingScore"`
	ResolutionScore    float64     `json:"resolutionScore"`
	AccuracyScore      float64     `json:"accuracyScore"`
	DQS                float64     `json:"dqs"`
	Trend              Trend       `json:"trend"`
	PreviousDQS        *float64    `json:"previousDqs,omitempty"`
	ChangeFromPrevious float64     `json:"changeFromPrevious"`
	Band               QualityBand `json:"band"`
	PolicyVersion      string      `json:"policyVersion"`
	Defaulted          []string    `json:"defaulted,omitempty"`
	ComputedAt         time.Time   `json:"computedAt"`
}
