package models

import "time"

// Interaction is one past question/answer exchange from the feedback corpus.
type Interaction struct {
	ID        string    `json:"id"`
	DomainID  string    `json:"domainId"`
	UserID    string    `json:"userId"`
	AgentID   string    `json:"agentId"`
	Question  string    `json:"question"`
	Rating    float64   `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}

// Agent is an assistant configuration deployed in a domain.
type Agent struct {
	ID               string   `json:"id"`
	DomainID         string   `json:"domainId"`
	Name             string   `json:"name"`
	KnowledgeSources []string `json:"knowledgeSources,omitempty"`
}

// UsesAny reports whether the agent reads any of the given knowledge sources.
func (a Agent) UsesAny(sources []string) bool {
	for _, s := range sources {
		for _, k := range a.KnowledgeSources {
			if s == k {
				return true
			}
		}
	}
	return false
}

// DomainStats are volume figures used for ROI estimates.
type DomainStats struct {
	MonthlyInteractions int     `json:"monthlyInteractions"`
	PoorResponseRate    float64 `json:"poorResponseRate"`
}

// OrgStrategy is the organizational strategy context of a domain.
type OrgStrategy struct {
	DomainID   string   `json:"domainId"`
	Mission    string   `json:"mission"`
	Objectives []string `json:"objectives,omitempty"`
	KPIs       []KPI    `json:"kpis,omitempty"`
}

type KPI struct {
	Name    string `json:"name"`
	Current string `json:"current,omitempty"`
	Target  string `json:"target,omitempty"`
}
