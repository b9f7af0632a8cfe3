package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "qaworkflow.v1.Workflow"

// WorkflowServer is the server side of the workflow service. Every method
// exchanges google.protobuf.Struct messages whose fields mirror the JSON form
// of the domain models.
type WorkflowServer interface {
	CreateTicket(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTicket(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTickets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TicketActions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProposeCorrection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SuggestCorrection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Escalate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyCorrection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AuditTrail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyTrail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ComputeQuality(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LatestQuality(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(WorkflowServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkflowServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(WorkflowServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// FullMethod is the invocation path of a workflow method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc registers a WorkflowServer with a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateTicket", WorkflowServer.CreateTicket),
		unaryMethod("GetTicket", WorkflowServer.GetTicket),
		unaryMethod("ListTickets", WorkflowServer.ListTickets),
		unaryMethod("TicketActions", WorkflowServer.TicketActions),
		unaryMethod("Transition", WorkflowServer.Transition),
		unaryMethod("ProposeCorrection", WorkflowServer.ProposeCorrection),
		unaryMethod("SuggestCorrection", WorkflowServer.SuggestCorrection),
		unaryMethod("Escalate", WorkflowServer.Escalate),
		unaryMethod("Approve", WorkflowServer.Approve),
		unaryMethod("ApplyCorrection", WorkflowServer.ApplyCorrection),
		unaryMethod("AuditTrail", WorkflowServer.AuditTrail),
		unaryMethod("VerifyTrail", WorkflowServer.VerifyTrail),
		unaryMethod("ComputeQuality", WorkflowServer.ComputeQuality),
		unaryMethod("LatestQuality", WorkflowServer.LatestQuality),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qaworkflow/v1/workflow",
}
