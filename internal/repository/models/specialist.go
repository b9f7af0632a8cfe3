package models

import "time"

// Specialist is a human reviewer eligible for escalated review.
type Specialist struct {
	ID                 string   `json:"id"`
	DomainID           string   `json:"domainId"`
	Name               string   `json:"name"`
	Email              string   `json:"email,omitempty"`
	Specialty          string   `json:"specialty"`
	Domains            []string `json:"domains"`
	MaxAssignments     int      `json:"maxAssignments"`
	CurrentAssignments int      `json:"currentAssignments"`
}

// SpecialistStats is the historical performance of a specialist.
type SpecialistStats struct {
	CompletedCount       int     `json:"completedCount"`
	ApprovalRate         float64 `json:"approvalRate"`
	AvgResponseTimeHours float64 `json:"avgResponseTimeHours"`
}

// SpecialistMatch is an ephemeral ranking result.
type SpecialistMatch struct {
	SpecialistID           string        `json:"specialistId"`
	SpecialistName         string        `json:"specialistName"`
	Specialty              string        `json:"specialty"`
	MatchScore             int           `json:"matchScore"`
	TopicRelevance         float64       `json:"topicRelevance"`
	WorkloadScore          float64       `json:"workloadScore"`
	PerformanceScore       float64       `json:"performanceScore"`
	Reasons                []MatchReason `json:"reasons"`
	CurrentWorkload        int           `json:"currentWorkload"`
	MaxWorkload            int           `json:"maxWorkload"`
	IsAvailable            bool          `json:"isAvailable"`
	NextAvailableDate      *time.Time    `json:"nextAvailableDate,omitempty"`
	EstimatedResponseHours float64       `json:"estimatedResponseHours"`
}

type MatchReason struct {
	Reason      string  `json:"reason"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}
