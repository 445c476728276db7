package grpcbridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/solpivot/pkg/query"
)

// Backend serves bridge calls. Rows are returned as plain records
// (category_name, child_name, _date, value).
type Backend interface {
	OpenSession(ctx context.Context, archive string) (string, error)
	Query(ctx context.Context, sessionID string, req query.Request) ([]map[string]any, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// RegisterServer registers b as the QueryBridge service on s.
func RegisterServer(s grpc.ServiceRegistrar, b Backend) {
	s.RegisterService(&serviceDesc, b)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Backend)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: unary(methodOpen, openHandler)},
		{MethodName: "Query", Handler: unary(methodQuery, queryHandler)},
		{MethodName: "CloseSession", Handler: unary(methodClose, closeHandler)},
	},
	Streams: []grpc.StreamDesc{},
}

type structHandler func(ctx context.Context, b Backend, in *structpb.Struct) (*structpb.Struct, error)

func unary(method string, h structHandler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		b := srv.(Backend)
		if interceptor == nil {
			return h(ctx, b, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, b, req.(*structpb.Struct))
		})
	}
}

func openHandler(ctx context.Context, b Backend, in *structpb.Struct) (*structpb.Struct, error) {
	archive := in.GetFields()["archive"].GetStringValue()
	if archive == "" {
		return nil, status.Error(codes.InvalidArgument, "archive is required")
	}
	id, err := b.OpenSession(ctx, archive)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"session_id": id})
}

func queryHandler(ctx context.Context, b Backend, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id := in.GetFields()["session_id"].GetStringValue()
	rows, err := b.Query(ctx, id, req)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, len(rows))
	for i, r := range rows {
		list[i] = r
	}
	out, err := structpb.NewStruct(map[string]any{"rows": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func closeHandler(ctx context.Context, b Backend, in *structpb.Struct) (*structpb.Struct, error) {
	if err := b.CloseSession(ctx, in.GetFields()["session_id"].GetStringValue()); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Unknown, err.Error())
}
