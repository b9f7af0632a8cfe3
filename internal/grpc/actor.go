package grpc

import (
	"context"
	"net"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

// Metadata keys carrying the identity established by the upstream gateway.
const (
	MetadataActorID     = "x-actor-id"
	MetadataActorRole   = "x-actor-role"
	MetadataActorDomain = "x-actor-domain"
	MetadataActorEmail  = "x-actor-email"
	MetadataSessionID   = "x-session-id"
)

type actorKey struct{}

// ActorFromContext returns the actor attached by ActorInterceptor.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(models.Actor)
	return a, ok
}

// ContextWithActor attaches an actor to ctx.
func ContextWithActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorInterceptor reads the caller identity from metadata for calls into the
// workflow service. Other services (health, reflection) pass through.
func ActorInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		actor, err := actorFromMetadata(ctx)
		if err != nil {
			logger.Warn("rejected call without identity", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, err
		}
		return handler(ContextWithActor(ctx, actor), req)
	}
}

func actorFromMetadata(ctx context.Context) (models.Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return models.Actor{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	actor := models.Actor{
		UserID:    first(md, MetadataActorID),
		Role:      models.Role(first(md, MetadataActorRole)),
		Domain:    first(md, MetadataActorDomain),
		Email:     first(md, MetadataActorEmail),
		SessionID: first(md, MetadataSessionID),
		UserAgent: first(md, "user-agent"),
	}
	if actor.UserID == "" {
		return models.Actor{}, status.Error(codes.Unauthenticated, MetadataActorID+" is required")
	}
	if !actor.Role.Valid() {
		return models.Actor{}, status.Errorf(codes.Unauthenticated, "unknown role %q", actor.Role)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host, _, err := net.SplitHostPort(p.Addr.String())
		if err != nil {
			host = p.Addr.String()
		}
		actor.IPAddress = host
	}
	return actor, nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
