package sdk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/resilience"
)

// CallerMetadataKey carries the calling package on remote provider calls
const CallerMetadataKey = "x-calling-package"

const (
	providerServiceName = "smartspacer.provider.v1.Provider"
	providerCallMethod  = "/" + providerServiceName + "/Call"

	fieldMethod = "method"
	fieldArg    = "arg"
	fieldExtras = "extras"
)

// providerServer is the handler type registered for the provider service
type providerServer interface {
	call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var providerServiceDesc = grpc.ServiceDesc{
	ServiceName: providerServiceName,
	HandlerType: (*providerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    providerCallHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smartspacer/provider/v1/provider.proto",
}

func providerCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(providerServer).call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: providerCallMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(providerServer).call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type callerKey struct{}

// CallerFromContext returns the caller identity attached by CallerInterceptor
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok
}

// CallerInterceptor reads the calling package from metadata and rejects
// calls that carry none.
func CallerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		callers := md.Get(CallerMetadataKey)
		if len(callers) != 1 || callers[0] == "" {
			return nil, status.Error(codes.Unauthenticated, "missing calling package")
		}
		return handler(context.WithValue(ctx, callerKey{}, callers[0]), req)
	}
}

// dispatcherServer adapts a Dispatcher to the provider service
type dispatcherServer struct {
	dispatcher *Dispatcher
}

// RegisterProviderServer exposes d over gRPC. The server must be created with
// CallerInterceptor so the caller identity reaches the dispatcher.
func RegisterProviderServer(s grpc.ServiceRegistrar, d *Dispatcher) {
	s.RegisterService(&providerServiceDesc, &dispatcherServer{dispatcher: d})
}

func (s *dispatcherServer) call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, _ := CallerFromContext(ctx)
	fields := FromStruct(req)

	result, err := s.dispatcher.Dispatch(ctx, caller, fields.String(fieldMethod), fields.String(fieldArg), fields.Bundle(fieldExtras))
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := result.ToStruct()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrSecurity):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrUnknownMethod):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

func fromStatus(err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrSecurity, status.Convert(err).Message())
	case codes.Unimplemented:
		return fmt.Errorf("%w: %s", ErrUnknownMethod, status.Convert(err).Message())
	default:
		return err
	}
}

// RemoteEndpoint calls a provider served by another process
type RemoteEndpoint struct {
	conn    *grpc.ClientConn
	addr    string
	caller  string
	breaker *resilience.Breaker
}

// DialRemote creates a lazy connection to the provider at addr. Calls carry
// caller as their identity.
func DialRemote(addr, caller string, extra ...grpc.DialOption) (*RemoteEndpoint, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(10*1024*1024),
			grpc.MaxCallSendMsgSize(10*1024*1024),
		),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial provider %s: %w", addr, err)
	}

	settings := resilience.RemoteSettings(nil)
	// A provider that answers with a rejection is alive.
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrSecurity) || errors.Is(err, ErrUnknownMethod)
	}

	return &RemoteEndpoint{
		conn:    conn,
		addr:    addr,
		caller:  caller,
		breaker: resilience.New("provider:"+addr, settings),
	}, nil
}

// Call invokes method on the remote provider
func (r *RemoteEndpoint) Call(ctx context.Context, method, arg string, extras Bundle) (Bundle, error) {
	if extras == nil {
		extras = Bundle{}
	}
	req, err := Bundle{fieldMethod: method, fieldArg: arg, fieldExtras: extras}.ToStruct()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, CallerMetadataKey, r.caller)
	out, err := resilience.Do(ctx, r.breaker, func(ctx context.Context) (*structpb.Struct, error) {
		resp := new(structpb.Struct)
		if err := r.conn.Invoke(ctx, providerCallMethod, req, resp); err != nil {
			return nil, fromStatus(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return FromStruct(out), nil
}

// Addr returns the address the endpoint dials
func (r *RemoteEndpoint) Addr() string {
	return r.addr
}

// Close closes the connection
func (r *RemoteEndpoint) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
