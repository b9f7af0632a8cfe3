package grpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/internal/service"
)

const (
	defaultGRPCTimeout = 30 * time.Second
	defaultPeriodDays  = 30
	maxPeriodDays      = 366
)

type Handlers struct {
	workflow  WorkflowService
	quality   QualityService
	snapshots *QualityCache
	logger    *zap.Logger
	now       func() time.Time
}

var _ WorkflowServer = (*Handlers)(nil)

// NewHandlers initializes the gRPC handlers.
func NewHandlers(workflow WorkflowService, quality QualityService, snapshots *QualityCache, logger *zap.Logger) *Handlers {
	if workflow == nil || quality == nil {
		panic("nil service provided to NewHandlers")
	}
	if snapshots == nil {
		panic("nil QualityCache provided to NewHandlers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		workflow:  workflow,
		quality:   quality,
		snapshots: snapshots,
		logger:    logger.Named("grpc-handler"),
		now:       time.Now,
	}
}

func (h *Handlers) handleError(ctx context.Context, op string, err error) error {
	switch ctx.Err() {
	case context.Canceled:
		h.logger.Warn("request canceled", zap.String("op", op))
		return status.Error(codes.Canceled, "request canceled")
	case context.DeadlineExceeded:
		h.logger.Warn("request timeout", zap.String("op", op))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrIntegrity):
		h.logger.Error("audit integrity failure", zap.String("op", op), zap.Error(err))
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, service.ErrStorageFailure):
		h.logger.Error("storage failure", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Internal, "database error")
	default:
		h.logger.Error("unexpected error", zap.String("op", op), zap.Error(err))
		return status.Errorf(codes.Internal, "%s failed: %v", op, err)
	}
}

// begin resolves the caller, decodes the request and bounds the call.
func begin(ctx context.Context, in *structpb.Struct, req any) (context.Context, context.CancelFunc, models.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, nil, models.Actor{}, status.Error(codes.Unauthenticated, "caller identity missing")
	}
	if err := decode(in, req); err != nil {
		return nil, nil, models.Actor{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultGRPCTimeout)
	return ctx, cancel, actor, nil
}

type ticketRequest struct {
	TicketID string `json:"ticketId"`
}

type ticketResponse struct {
	Ticket *models.Ticket `json:"ticket"`
}

func (h *Handlers) ticketReply(ctx context.Context, op string, t *models.Ticket, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, h.committedError(ctx, op, t, ticketResponse{Ticket: t}, err)
	}
	return encode(ticketResponse{Ticket: t})
}

// committedError maps err and, when the status change was already written
// (t is non-nil), says so and attaches committed as a Struct status detail.
func (h *Handlers) committedError(ctx context.Context, op string, t *models.Ticket, committed any, err error) error {
	mapped := h.handleError(ctx, op, err)
	if t == nil {
		return mapped
	}
	st := status.Convert(mapped)
	h.logger.Warn("transition committed with follow-up failure",
		zap.String("op", op),
		zap.String("ticket_id", t.ID),
		zap.String("status", string(t.Status)),
		zap.Error(err))
	st = status.Newf(st.Code(), "ticket %s committed as %s; %s", t.ID, t.Status, st.Message())
	return withDetail(st, committed)
}

// withDetail attaches v, encoded as a Struct, to st.
func withDetail(st *status.Status, v any) error {
	detail, err := encode(v)
	if err != nil {
		return st.Err()
	}
	withDetails, err := st.WithDetails(detail)
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}

type createTicketRequest struct {
	Feedback models.Feedback `json:"feedback"`
}

func (h *Handlers) CreateTicket(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createTicketRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	t, err := h.workflow.CreateTicket(ctx, req.Feedback, actor)
	return h.ticketReply(ctx, "CreateTicket", t, err)
}

func (h *Handlers) GetTicket(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ticketRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	t, err := h.workflow.GetTicket(ctx, req.TicketID, actor)
	return h.ticketReply(ctx, "GetTicket", t, err)
}

type listTicketsRequest struct {
	DomainID string              `json:"domainId"`
	Status   models.ReviewStatus `json:"status"`
	Limit    int                 `json:"limit"`
}

type listTicketsResponse struct {
	Tickets []models.Ticket `json:"tickets"`
}

func (h *Handlers) ListTickets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listTicketsRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	tickets, err := h.workflow.ListTickets(ctx, repository.TicketFilter{
		DomainID: req.DomainID,
		Status:   req.Status,
		Limit:    req.Limit,
	}, actor)
	if err != nil {
		return nil, h.handleError(ctx, "ListTickets", err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return encode(listTicketsResponse{Tickets: tickets})
}

type actionsResponse struct {
	Actions []service.Action `json:"actions"`
}

func (h *Handlers) TicketActions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ticketRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	actions, err := h.workflow.TicketActions(ctx, req.TicketID, actor)
	if err != nil {
		return nil, h.handleError(ctx, "TicketActions", err)
	}
	if actions == nil {
		actions = []service.Action{}
	}
	return encode(actionsResponse{Actions: actions})
}

type transitionRequest struct {
	TicketID string              `json:"ticketId"`
	Expected models.ReviewStatus `json:"expected"`
	Target   models.ReviewStatus `json:"target"`
	Notes    string              `json:"notes"`
	Pattern  string              `json:"pattern"`
}

func (h *Handlers) Transition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req transitionRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	t, err := h.workflow.Transition(ctx, service.TransitionInput{
		TicketID: req.TicketID,
		Expected: req.Expected,
		Target:   req.Target,
		Notes:    req.Notes,
		Pattern:  req.Pattern,
	}, actor)
	return h.ticketReply(ctx, "Transition", t, err)
}

type proposeRequest struct {
	TicketID string                    `json:"ticketId"`
	Proposal models.CorrectionProposal `json:"proposal"`
}

func (h *Handlers) ProposeCorrection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req proposeRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	t, err := h.workflow.ProposeCorrection(ctx, req.TicketID, req.Proposal, actor)
	return h.ticketReply(ctx, "ProposeCorrection", t, err)
}

type suggestRequest struct {
	TicketID     string            `json:"ticketId"`
	ChangeType   models.ChangeType `json:"changeType"`
	ContextUsed  []string          `json:"contextUsed"`
	BehaviorSpec string            `json:"behaviorSpec"`
}

type suggestResponse struct {
	Proposal       models.CorrectionProposal `json:"proposal"`
	Fallback       bool                      `json:"fallback"`
	FallbackReason string                    `json:"fallbackReason,omitempty"`
}

func (h *Handlers) SuggestCorrection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req suggestRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	out, err := h.workflow.SuggestCorrection(ctx, req.TicketID, req.ChangeType, req.ContextUsed, req.BehaviorSpec, actor)
	if err != nil {
		return nil, h.handleError(ctx, "SuggestCorrection", err)
	}
	return encode(suggestResponse{Proposal: out.Value, Fallback: out.Fallback, FallbackReason: out.Reason})
}

type escalateRequest struct {
	TicketID     string `json:"ticketId"`
	SpecialistID string `json:"specialistId"`
}

type escalateResponse struct {
	Ticket     *models.Ticket           `json:"ticket"`
	Candidates []models.SpecialistMatch `json:"candidates"`
}

func (h *Handlers) Escalate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req escalateRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	t, candidates, err := h.workflow.Escalate(ctx, req.TicketID, req.SpecialistID, actor)
	if candidates == nil {
		candidates = []models.SpecialistMatch{}
	}
	if err != nil {
		return nil, h.committedError(ctx, "Escalate", t, escalateResponse{Ticket: t, Candidates: candidates}, err)
	}
	return encode(escalateResponse{Ticket: t, Candidates: candidates})
}

type approveRequest struct {
	TicketID string `json:"ticketId"`
	Notes    string `json:"notes"`
}

func (h *Handlers) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req approveRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	t, err := h.workflow.Approve(ctx, req.TicketID, req.Notes, actor)
	return h.ticketReply(ctx, "Approve", t, err)
}

type applyRequest struct {
	TicketID         string `json:"ticketId"`
	TestingCompleted bool   `json:"testingCompleted"`
}

func (h *Handlers) ApplyCorrection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req applyRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	t, err := h.workflow.ApplyCorrection(ctx, req.TicketID, req.TestingCompleted, actor)
	return h.ticketReply(ctx, "ApplyCorrection", t, err)
}

type trailRequest struct {
	TicketID string `json:"ticketId"`
	Limit    int    `json:"limit"`
}

type trailResponse struct {
	Entries []models.AuditEntry `json:"entries"`
}

func (h *Handlers) AuditTrail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req trailRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	entries, err := h.workflow.Trail(ctx, req.TicketID, req.Limit, actor)
	if err != nil {
		return nil, h.handleError(ctx, "AuditTrail", err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return encode(trailResponse{Entries: entries})
}

type verifyResponse struct {
	Checked    int      `json:"checked"`
	Unverified []string `json:"unverified"`
	Intact     bool     `json:"intact"`
}

// VerifyTrail answers DataLoss when any entry fails to verify. The status
// message lists the offending entry ids and the full report rides along as a
// status detail.
func (h *Handlers) VerifyTrail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ticketRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	report, err := h.workflow.VerifyTrail(ctx, req.TicketID, actor)
	if err != nil {
		mapped := h.handleError(ctx, "VerifyTrail", err)
		if report == nil {
			return nil, mapped
		}
		return nil, withDetail(status.Convert(mapped), verifyResponse{
			Checked:    report.Checked,
			Unverified: report.Unverified,
			Intact:     len(report.Unverified) == 0,
		})
	}
	return encode(verifyResponse{Checked: report.Checked, Unverified: []string{}, Intact: true})
}

type computeQualityRequest struct {
	DomainID string `json:"domainId"`
	Days     int    `json:"days"`
}

type snapshotResponse struct {
	Snapshot *models.QualitySnapshot `json:"snapshot"`
}

func (h *Handlers) ComputeQuality(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req computeQualityRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := authorizeDomain(actor, req.DomainID, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	days := req.Days
	if days == 0 {
		days = defaultPeriodDays
	}
	if days < 0 || days > maxPeriodDays {
		return nil, status.Errorf(codes.InvalidArgument, "days must be between 1 and %d", maxPeriodDays)
	}

	snap, err := h.quality.Compute(ctx, req.DomainID, service.LastDays(h.now().UTC(), days))
	if err != nil {
		return nil, h.handleError(ctx, "ComputeQuality", err)
	}
	return encode(snapshotResponse{Snapshot: snap})
}

type domainRequest struct {
	DomainID string `json:"domainId"`
}

func (h *Handlers) LatestQuality(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req domainRequest
	ctx, cancel, actor, err := begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if req.DomainID == "" {
		return nil, status.Error(codes.InvalidArgument, "domainId is required")
	}
	if err := authorizeDomain(actor, req.DomainID); err != nil {
		return nil, err
	}

	snap, err := h.snapshots.Latest(ctx, req.DomainID, h.quality.Latest)
	if err != nil {
		return nil, h.handleError(ctx, "LatestQuality", err)
	}
	return encode(snapshotResponse{Snapshot: &snap})
}

// authorizeDomain requires the actor to belong to domainID, or be a
// superadmin, and to hold one of roles when any are given.
func authorizeDomain(actor models.Actor, domainID string, roles ...models.Role) error {
	if len(roles) > 0 {
		allowed := false
		for _, r := range roles {
			if actor.Role == r {
				allowed = true
				break
			}
		}
		if !allowed {
			return status.Errorf(codes.PermissionDenied, "role %s may not perform this operation", actor.Role)
		}
	}
	if actor.Role != models.RoleSuperAdmin && actor.Domain != domainID {
		return status.Error(codes.PermissionDenied, "actor is outside the requested domain")
	}
	return nil
}
