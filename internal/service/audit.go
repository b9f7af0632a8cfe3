package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

const (
	hashAlgorithm        = "sha256"
	defaultTrailLimit    = 50
	defaultRetentionDays = 2555
	classificationIntern = "internal"
)

// Audit action types.
const (
	ActionTicketGenerated      = "ticket_auto_generated"
	ActionEvaluationCreated    = "expert_evaluation_created"
	ActionCorrectionProposed   = "correction_proposed"
	ActionSpecialistAssigned   = "specialist_assigned"
	ActionSpecialistReviewing  = "specialist_review_started"
	ActionSpecialistCompleted  = "specialist_evaluation_completed"
	ActionSpecialistReturned   = "specialist_returned_to_supervisor"
	ActionAdminApproved        = "admin_approved_correction"
	ActionAdminRejected        = "admin_rejected_correction"
	ActionAdminRequestedChange = "admin_requested_changes"
	ActionAppliedSingle        = "correction_applied_single"
	ActionAppliedDomainWide    = "correction_applied_domain_wide"
	ActionSystemicIssue        = "systemic_issue_identified"
	ActionUnauthorized         = "unauthorized_access_attempted"
)

const (
	categoryQualityReview = "quality-review"
	subjectTicket         = "ticket"
)

// AuditRecord is what a caller supplies; AuditLog fills identity, timestamp,
// compliance and integrity.
type AuditRecord struct {
	Actor         models.Actor
	Type          string
	Category      string
	Description   string
	Severity      models.AuditSeverity
	Subject       models.AuditSubject
	Context       models.AuditContext
	CorrelationID string
	ParentAuditID string
}

// TrailVerification summarizes a VerifyTrail run.
type TrailVerification struct {
	Checked    int
	Unverified []string
}

// AuditLog is the append-only, hash-chained record of workflow actions.
type AuditLog struct {
	store  AuditRepository
	logger *zap.Logger
	pepper []byte
	now    func() time.Time
}

type AuditOption func(*AuditLog)

// WithPepper sets the key used to hash IP addresses and session ids. Hashes
// only correlate across restarts when the same pepper is configured.
func WithPepper(pepper []byte) AuditOption {
	return func(l *AuditLog) {
		if len(pepper) > 0 {
			l.pepper = pepper
		}
	}
}

func NewAuditLog(store AuditRepository, logger *zap.Logger, opts ...AuditOption) *AuditLog {
	if store == nil {
		panic("audit store must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &AuditLog{store: store, logger: logger.Named("audit"), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.pepper == nil {
		l.pepper = make([]byte, 32)
		if _, err := rand.Read(l.pepper); err != nil {
			panic(fmt.Sprintf("generate audit pepper: %v", err))
		}
		l.logger.Warn("no audit pepper configured, using a per-process key")
	}
	return l
}

// Append stores a new entry and returns its id. Each call produces a distinct
// entry, so callers must not retry blindly after an ambiguous failure.
func (l *AuditLog) Append(ctx context.Context, rec AuditRecord) (string, error) {
	if rec.Type == "" {
		return "", validationErr("action.type", "is required")
	}
	if rec.Subject.Type == "" || rec.Subject.ID == "" {
		return "", validationErr("subject", "type and id are required")
	}
	if rec.Severity == "" {
		rec.Severity = models.SeverityInfo
	}
	if rec.Category == "" {
		rec.Category = categoryQualityReview
	}

	actor, hashed := l.redactActor(rec.Actor)
	entry := &models.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Actor:     actor,
		Action: models.AuditAction{
			Type:        rec.Type,
			Category:    rec.Category,
			Description: rec.Description,
			Severity:    rec.Severity,
		},
		Subject: rec.Subject,
		Context: rec.Context,
		Compliance: models.AuditCompliance{
			DataClassification:   classificationIntern,
			RetentionDays:        defaultRetentionDays,
			HashedFields:         hashed,
			RegulatoryFrameworks: []string{"GDPR", "SOC2"},
		},
		CorrelationID: rec.CorrelationID,
		ParentAuditID: rec.ParentAuditID,
	}

	err := l.store.Append(ctx, entry, func(e *models.AuditEntry) error {
		h, err := ComputeHash(e)
		if err != nil {
			return err
		}
		e.Integrity.Algorithm = hashAlgorithm
		e.Integrity.Hash = h
		return nil
	})
	if err != nil {
		l.logger.Error("audit append failed",
			zap.String("action", rec.Type),
			zap.String("subject_id", rec.Subject.ID),
			zap.Error(err))
		return "", storageErr("append audit entry", err)
	}

	l.logger.Debug("audit entry appended",
		zap.String("id", entry.ID),
		zap.Int64("seq", entry.Seq),
		zap.String("action", rec.Type))
	return entry.ID, nil
}

// Verify recomputes the hash of a stored entry. A mismatch yields false and is
// never repaired.
func (l *AuditLog) Verify(ctx context.Context, id string) (bool, error) {
	entry, err := l.store.Get(ctx, id)
	if err != nil {
		return false, storageErr("get audit entry", err)
	}
	return l.verifyEntry(entry), nil
}

func (l *AuditLog) verifyEntry(e *models.AuditEntry) bool {
	h, err := ComputeHash(e)
	if err != nil {
		l.logger.Warn("audit entry not hashable", zap.String("id", e.ID), zap.Error(err))
		return false
	}
	if subtle.ConstantTimeCompare([]byte(h), []byte(e.Integrity.Hash)) != 1 {
		l.logger.Warn("audit entry failed verification",
			zap.String("id", e.ID),
			zap.Int64("seq", e.Seq),
			zap.String("subject_id", e.Subject.ID))
		return false
	}
	return true
}

// Trail returns a subject's entries newest first.
func (l *AuditLog) Trail(ctx context.Context, subjectType, subjectID string, limit int) ([]models.AuditEntry, error) {
	if subjectType == "" || subjectID == "" {
		return nil, validationErr("subject", "type and id are required")
	}
	if limit <= 0 {
		limit = defaultTrailLimit
	}
	entries, err := l.store.Trail(ctx, subjectType, subjectID, limit)
	if err != nil {
		return nil, storageErr("load audit trail", err)
	}
	return entries, nil
}

// VerifyTrail checks every entry of a subject. Unverified entries are reported
// through an *IntegrityError alongside the summary.
func (l *AuditLog) VerifyTrail(ctx context.Context, subjectType, subjectID string) (*TrailVerification, error) {
	if subjectType == "" || subjectID == "" {
		return nil, validationErr("subject", "type and id are required")
	}
	entries, err := l.store.Trail(ctx, subjectType, subjectID, 0)
	if err != nil {
		return nil, storageErr("load audit trail", err)
	}

	report := &TrailVerification{Checked: len(entries)}
	for i := range entries {
		if !l.verifyEntry(&entries[i]) {
			report.Unverified = append(report.Unverified, entries[i].ID)
		}
	}
	if len(report.Unverified) > 0 {
		return report, &IntegrityError{EntryIDs: report.Unverified}
	}
	return report, nil
}

type canonicalEntry struct {
	ID            string                 `json:"id"`
	Timestamp     string                 `json:"timestamp"`
	Actor         models.AuditActor      `json:"actor"`
	Action        models.AuditAction     `json:"action"`
	Subject       models.AuditSubject    `json:"subject"`
	Context       models.AuditContext    `json:"context"`
	Compliance    models.AuditCompliance `json:"compliance"`
	CorrelationID string                 `json:"correlationId"`
	ParentAuditID string                 `json:"parentAuditId"`
	PrevHash      string                 `json:"prevHash"`
}

// ComputeHash digests the canonical form of e: fixed field order, map keys
// sorted, timestamp in UTC RFC 3339 with nanoseconds, chained to PrevHash.
func ComputeHash(e *models.AuditEntry) (string, error) {
	b, err := json.Marshal(canonicalEntry{
		ID:            e.ID,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:         e.Actor,
		Action:        e.Action,
		Subject:       e.Subject,
		Context:       e.Context,
		Compliance:    e.Compliance,
		CorrelationID: e.CorrelationID,
		ParentAuditID: e.ParentAuditID,
		PrevHash:      e.Integrity.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (l *AuditLog) redactActor(a models.Actor) (models.AuditActor, []string) {
	out := models.AuditActor{
		UserID:    a.UserID,
		Email:     a.Email,
		Role:      a.Role,
		Domain:    a.Domain,
		UserAgent: a.UserAgent,
	}
	var hashed []string
	if a.IPAddress != "" {
		out.IPAddressHash = l.keyedHash(a.IPAddress)
		hashed = append(hashed, "actor.ipAddress")
	}
	if a.SessionID != "" {
		out.SessionHash = l.keyedHash(a.SessionID)
		hashed = append(hashed, "actor.sessionId")
	}
	return out, hashed
}

// keyedHash is HMAC-SHA256 of v under the audit pepper.
func (l *AuditLog) keyedHash(v string) string {
	mac := hmac.New(sha256.New, l.pepper)
	mac.Write([]byte(v))
	return hex.EncodeToString(mac.Sum(nil))
}
