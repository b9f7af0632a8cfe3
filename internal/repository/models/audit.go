package models

import "time"

type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry is an append-only record. Every field in the nested structs takes
// part in the canonical hash except Integrity itself.
type AuditEntry struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         AuditActor      `json:"actor"`
	Action        AuditAction     `json:"action"`
	Subject       AuditSubject    `json:"subject"`
	Context       AuditContext    `json:"context"`
	Compliance    AuditCompliance `json:"compliance"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ParentAuditID string          `json:"parentAuditId,omitempty"`
	Integrity     AuditIntegrity  `json:"integrity"`
}

// AuditActor never holds the clear-text IP address or session id.
type AuditActor struct {
	UserID        string `json:"userId"`
	Email         string `json:"email,omitempty"`
	Role          Role   `json:"role"`
	Domain        string `json:"domain"`
	IPAddressHash string `json:"ipAddressHash,omitempty"`
	SessionHash   string `json:"sessionHash,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
}

type AuditAction struct {
	Type        string        `json:"type"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Severity    AuditSeverity `json:"severity"`
}

type AuditSubject struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	Domain   string            `json:"domain"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type AuditContext struct {
	PreviousState string            `json:"previousState,omitempty"`
	NewState      string            `json:"newState,omitempty"`
	Reasoning     string            `json:"reasoning,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	Related       []string          `json:"related,omitempty"`
}

type AuditCompliance struct {
	DataClassification   string   `json:"dataClassification"`
	RetentionDays        int      `json:"retentionDays"`
	HashedFields         []string `json:"hashedFields,omitempty"`
	RegulatoryFrameworks []string `json:"regulatoryFrameworks,omitempty"`
}

type AuditIntegrity struct {
	Algorithm string `json:"algorithm"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
}
