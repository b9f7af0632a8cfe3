package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/godilite/qa-workflow/internal/grpc/mocks"
	"github.com/godilite/qa-workflow/internal/repository/models"
	grpcsrv "github.com/godilite/qa-workflow/pkg/grpc/server"
)

func startServer(t *testing.T, wf *mocks.MockWorkflowService) *grpc.ClientConn {
	t.Helper()
	logger := zaptest.NewLogger(t)

	srv, err := grpcsrv.New(
		grpcsrv.WithHost("127.0.0.1"),
		grpcsrv.WithPort(0),
		grpcsrv.WithLogger(logger),
		grpcsrv.WithUnaryInterceptors(ActorInterceptor(logger)),
	)
	require.NoError(t, err)

	h := newTestHandlers(t, wf, nil, nil)
	srv.RegisterServiceWithHealth(&ServiceDesc, h)
	srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func withIdentity(ctx context.Context, pairs ...string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func TestWorkflowServiceOverTheWire(t *testing.T) {
	seenCh := make(chan models.Actor, 1)
	wf := &mocks.MockWorkflowService{
		GetTicketFunc: func(ctx context.Context, id string, actor models.Actor) (*models.Ticket, error) {
			seenCh <- actor
			return &models.Ticket{ID: id, DomainID: actor.Domain, Status: models.StatusInReview, Version: 2}, nil
		},
	}
	conn := startServer(t, wf)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("identity from metadata reaches the service", func(t *testing.T) {
		in, err := structpb.NewStruct(map[string]any{"ticketId": "t-9"})
		require.NoError(t, err)
		out := &structpb.Struct{}

		callCtx := withIdentity(ctx,
			MetadataActorID, "expert-1",
			MetadataActorRole, "expert",
			MetadataActorDomain, "dom-1",
			MetadataActorEmail, "expert@example.com",
		)
		require.NoError(t, conn.Invoke(callCtx, FullMethod("GetTicket"), in, out))

		ticket := out.Fields["ticket"].GetStructValue()
		require.NotNil(t, ticket)
		assert.Equal(t, "t-9", ticket.Fields["id"].GetStringValue())
		assert.Equal(t, "in-review", ticket.Fields["status"].GetStringValue())
		assert.Equal(t, 2.0, ticket.Fields["version"].GetNumberValue())

		seen := <-seenCh
		assert.Equal(t, "expert-1", seen.UserID)
		assert.Equal(t, models.RoleExpert, seen.Role)
		assert.Equal(t, "dom-1", seen.Domain)
		assert.Equal(t, "expert@example.com", seen.Email)
		assert.Equal(t, "127.0.0.1", seen.IPAddress)
		assert.NotEmpty(t, seen.UserAgent)
	})

	t.Run("missing identity is rejected", func(t *testing.T) {
		err := conn.Invoke(ctx, FullMethod("GetTicket"), &structpb.Struct{}, &structpb.Struct{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		callCtx := withIdentity(ctx, MetadataActorID, "u-1", MetadataActorRole, "root")
		err := conn.Invoke(callCtx, FullMethod("GetTicket"), &structpb.Struct{}, &structpb.Struct{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("health checks need no identity", func(t *testing.T) {
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	})

	t.Run("service errors keep their code", func(t *testing.T) {
		callCtx := withIdentity(ctx, MetadataActorID, "u-1", MetadataActorRole, "user", MetadataActorDomain, "dom-1")
		err := conn.Invoke(callCtx, FullMethod("Approve"), &structpb.Struct{}, &structpb.Struct{})
		assert.Equal(t, codes.Internal, status.Code(err))
		assert.Contains(t, err.Error(), "ApproveFunc not implemented")
	})
}
