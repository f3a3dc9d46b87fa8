package bridge

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const bridgeServiceName = "smartspacer.bridge.v1.Bridge"

// Payload keys
const (
	keyPackage     = "package"
	keyID          = "id"
	keyURI         = "uri"
	keyMode        = "mode"
	keyFilter      = "filter"
	keyShortcuts   = "shortcuts"
	keyPredictions = "predictions"
	keyPackages    = "packages"
	keyExtras      = "extras"
	keyNetworks    = "networks"
)

// bridgeServer is the handler type of the bridge service
type bridgeServer interface {
	bridge() *Service
}

func (s *Service) bridge() *Service { return s }

// RegisterBridgeServer exposes svc over gRPC
func RegisterBridgeServer(r grpc.ServiceRegistrar, svc *Service) {
	r.RegisterService(&bridgeServiceDesc, svc)
}

func fullMethod(name string) string {
	return "/" + bridgeServiceName + "/" + name
}

func unary[In, Out proto.Message](name string, newIn func() In, call func(*Service, context.Context, In) (Out, error)) grpc.MethodDesc {
	full := fullMethod(name)
	invoke := func(svc *Service, ctx context.Context, in In) (any, error) {
		out, err := call(svc, ctx, in)
		if err != nil {
			return nil, toBridgeStatus(err)
		}
		return out, nil
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newIn()
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(bridgeServer).bridge()
			if interceptor == nil {
				return invoke(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return invoke(svc, ctx, req.(In))
			})
		},
	}
}

func serverStream[In, Out proto.Message](name string, newIn func() In, call func(*Service, context.Context, In, func(Out) error) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := newIn()
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			err := call(srv.(bridgeServer).bridge(), stream.Context(), in, func(out Out) error {
				return stream.SendMsg(out)
			})
			if err != nil {
				return toBridgeStatus(err)
			}
			return nil
		},
	}
}

func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }
func newStruct() *structpb.Struct        { return new(structpb.Struct) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newInt32() *wrapperspb.Int32Value   { return new(wrapperspb.Int32Value) }
func empty() (*emptypb.Empty, error)     { return &emptypb.Empty{}, nil }
func emptyOr(err error) (*emptypb.Empty, error) {
	if err != nil {
		return nil, err
	}
	return empty()
}

var (
	appPredictorStream = serverStream("CreateAppPredictorSession", newEmpty,
		func(s *Service, ctx context.Context, _ *emptypb.Empty, send func(*structpb.Struct) error) error {
			return s.RunAppPredictions(ctx, predictionSender(send))
		})
	widgetPredictorStream = serverStream("CreateWidgetPredictorSession", newStruct,
		func(s *Service, ctx context.Context, in *structpb.Struct, send func(*structpb.Struct) error) error {
			return s.RunWidgetPredictions(ctx, sdk.FromStruct(in).Bundle(keyExtras), predictionSender(send))
		})
	processObserverStream = serverStream("SetProcessObserver", newEmpty,
		func(s *Service, ctx context.Context, _ *emptypb.Empty, send func(*wrapperspb.StringValue) error) error {
			s.ObserveProcesses(ctx, func(pkg string) error { return send(wrapperspb.String(pkg)) })
			return nil
		})
	taskObserverStream = serverStream("SetTaskObserver", newEmpty,
		func(s *Service, ctx context.Context, _ *emptypb.Empty, send func(*structpb.Struct) error) error {
			s.ObserveTasks(ctx, func(packages []string) error {
				out, err := sdk.Bundle{keyPackages: packages}.ToStruct()
				if err != nil {
					return err
				}
				return send(out)
			})
			return nil
		})
	crashListenerStream = serverStream("SetCrashListener", newEmpty,
		func(s *Service, ctx context.Context, _ *emptypb.Empty, send func(*structpb.Struct) error) error {
			s.ObserveCrashes(ctx, func(ev CrashEvent) error {
				out, err := encodeObject(ev)
				if err != nil {
					return err
				}
				return send(out)
			})
			return nil
		})
)

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: bridgeServiceName,
	HandlerType: (*bridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", newEmpty, func(s *Service, _ context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
			return wrapperspb.Bool(s.Ping()), nil
		}),
		unary("IsRoot", newEmpty, func(s *Service, _ context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
			return wrapperspb.Bool(s.IsRoot()), nil
		}),
		unary("SetSmartspaceService", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
			req, err := decodeObject[ServiceRequest](in)
			if err != nil {
				return nil, err
			}
			return emptyOr(s.SetSmartspaceService(ctx, req))
		}),
		unary("ClearSmartspaceService", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
			req, err := decodeObject[ServiceRequest](in)
			if err != nil {
				return nil, err
			}
			return emptyOr(s.ClearSmartspaceService(ctx, req))
		}),
		unary("CreateSmartspaceSession", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
			cfg, err := decodeObject[types.SessionConfig](in)
			if err != nil {
				return nil, err
			}
			return emptyOr(s.CreateSmartspaceSession(ctx, cfg))
		}),
		unary("DestroySmartspaceSession", newString, func(s *Service, ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
			return emptyOr(s.DestroySmartspaceSession(ctx, in.GetValue()))
		}),
		unary("DestroyAppPredictorSession", newEmpty, func(s *Service, _ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			s.DestroyAppPredictorSession()
			return empty()
		}),
		unary("DestroyWidgetPredictorSession", newEmpty, func(s *Service, _ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			s.DestroyWidgetPredictorSession()
			return empty()
		}),
		unary("ToggleTorch", newEmpty, func(s *Service, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			return emptyOr(s.ToggleTorch(ctx))
		}),
		unary("GetShortcuts", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			query, err := decodeObject[ShortcutQuery](in)
			if err != nil {
				return nil, err
			}
			shortcuts, err := s.GetShortcuts(ctx, query)
			if err != nil {
				return nil, err
			}
			list, err := sdk.EncodeList(shortcuts)
			if err != nil {
				return nil, err
			}
			return sdk.Bundle{keyShortcuts: list}.ToStruct()
		}),
		unary("GetAppShortcutIcon", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
			b := sdk.FromStruct(in)
			return wrapperspb.Bytes(s.GetAppShortcutIcon(ctx, b.String(keyPackage), b.String(keyID))), nil
		}),
		unary("StartShortcut", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
			b := sdk.FromStruct(in)
			return emptyOr(s.StartShortcut(ctx, b.String(keyPackage), b.String(keyID)))
		}),
		unary("ProxyContentProviderGetType", newString, func(s *Service, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
			mime, err := s.ProxyContentProviderGetType(ctx, in.GetValue())
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(mime), nil
		}),
		unary("ProxyContentProviderOpenFile", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
			b := sdk.FromStruct(in)
			data, err := s.ProxyContentProviderOpenFile(ctx, b.String(keyURI), b.String(keyMode))
			if err != nil {
				return nil, err
			}
			return wrapperspb.Bytes(data), nil
		}),
		unary("ProxyContentProviderGetStreamTypes", newStruct, func(s *Service, ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
			b := sdk.FromStruct(in)
			mimes, err := s.ProxyContentProviderGetStreamTypes(ctx, b.String(keyURI), b.String(keyFilter))
			if err != nil {
				return nil, err
			}
			values := make([]any, len(mimes))
			for i, m := range mimes {
				values[i] = m
			}
			return structpb.NewList(values)
		}),
		unary("GrantRestrictedSettings", newString, func(s *Service, ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
			return emptyOr(s.GrantRestrictedSettings(ctx, in.GetValue()))
		}),
		unary("SetPowerExemption", newString, func(s *Service, ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
			return emptyOr(s.SetPowerExemption(ctx, in.GetValue()))
		}),
		unary("EnableBluetooth", newEmpty, func(s *Service, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			return emptyOr(s.EnableBluetooth(ctx))
		}),
		unary("GetSavedWiFiNetworks", newEmpty, func(s *Service, ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
			networks, err := s.GetSavedWiFiNetworks(ctx)
			if err != nil {
				return nil, err
			}
			list, err := sdk.EncodeList(networks)
			if err != nil {
				return nil, err
			}
			return sdk.Bundle{keyNetworks: list}.ToStruct()
		}),
		unary("GetUserName", newInt32, func(s *Service, ctx context.Context, in *wrapperspb.Int32Value) (*wrapperspb.StringValue, error) {
			name, err := s.GetUserName(ctx, int(in.GetValue()))
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(name), nil
		}),
		unary("Destroy", newEmpty, func(s *Service, _ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
			// Reply first; Destroy ends the process.
			go s.Destroy()
			return empty()
		}),
	},
	Streams: []grpc.StreamDesc{
		appPredictorStream,
		widgetPredictorStream,
		processObserverStream,
		taskObserverStream,
		crashListenerStream,
	},
	Metadata: "smartspacer/bridge/v1/bridge.proto",
}

func predictionSender(send func(*structpb.Struct) error) func([]Prediction) error {
	return func(predictions []Prediction) error {
		list, err := sdk.EncodeList(predictions)
		if err != nil {
			return err
		}
		out, err := sdk.Bundle{keyPredictions: list}.ToStruct()
		if err != nil {
			return err
		}
		return send(out)
	}
}

func encodeObject[T any](v T) (*structpb.Struct, error) {
	list, err := sdk.EncodeList([]T{v})
	if err != nil {
		return nil, err
	}
	m, ok := list[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("encode %T: not an object", v)
	}
	return structpb.NewStruct(m)
}

func decodeObject[T any](s *structpb.Struct) (T, error) {
	var zero T
	items, err := sdk.DecodeList[T]([]any{s.AsMap()})
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, nil
	}
	return items[0], nil
}

func toBridgeStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, ErrAlreadyDestroyed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

func fromBridgeStatus(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unimplemented:
		return fmt.Errorf("%w: %s", ErrUnsupported, status.Convert(err).Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrAlreadyDestroyed, status.Convert(err).Message())
	default:
		return err
	}
}
