package bridge

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/resilience"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/tracing"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// DefaultCallTimeout bounds a single unary bridge call
const DefaultCallTimeout = 5 * time.Second

// Client talks to a running bridge
type Client struct {
	conn    *grpc.ClientConn
	target  string
	timeout time.Duration
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithCallTimeout overrides DefaultCallTimeout
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records every call on m
func WithMetrics(m *monitoring.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l.Component("bridge.client") }
}

// Dial creates a lazy connection to the bridge at target
func Dial(target string, dialOpts []grpc.DialOption, opts ...ClientOption) (*Client, error) {
	grpcOpts := []grpc.DialOption{
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
		grpc.WithUnaryInterceptor(tracing.UnaryClientInterceptor()),
	}
	grpcOpts = append(grpcOpts, dialOpts...)

	conn, err := grpc.NewClient(target, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge %s: %w", target, err)
	}

	c := &Client{
		conn:    conn,
		target:  target,
		timeout: DefaultCallTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = resilience.New("bridge", resilience.RemoteSettings(func(name string, from, to resilience.State) {
		c.logger.Warn("Bridge breaker changed state",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}))
	return c, nil
}

// DialSocket connects to a bridge listening on a unix socket
func DialSocket(path string, opts ...ClientOption) (*Client, error) {
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}
	return Dial("passthrough:///bridge", []grpc.DialOption{grpc.WithContextDialer(dialer)}, opts...)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Out proto.Message](ctx context.Context, c *Client, method string, in proto.Message, out Out) (Out, error) {
	timer := monitoring.NewBridgeTimer(c.metrics, method)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (Out, error) {
		if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
			return out, fromBridgeStatus(err)
		}
		return out, nil
	})
	timer.Stop(monitoring.StatusOf(err))
	if err != nil {
		c.metrics.RecordBridgeError(method, errorReason(err))
	}
	return res, err
}

func (c *Client) call(ctx context.Context, method string, in proto.Message) error {
	_, err := invoke(ctx, c, method, in, new(emptypb.Empty))
	return err
}

// Ping checks the bridge is alive
func (c *Client) Ping(ctx context.Context) (bool, error) {
	out, err := invoke(ctx, c, "Ping", &emptypb.Empty{}, new(wrapperspb.BoolValue))
	return out.GetValue(), err
}

// IsRoot reports whether the bridge runs as root
func (c *Client) IsRoot(ctx context.Context) (bool, error) {
	out, err := invoke(ctx, c, "IsRoot", &emptypb.Empty{}, new(wrapperspb.BoolValue))
	return out.GetValue(), err
}

// SetSmartspaceService binds the smartspace service
func (c *Client) SetSmartspaceService(ctx context.Context, req ServiceRequest) error {
	in, err := encodeObject(req)
	if err != nil {
		return err
	}
	return c.call(ctx, "SetSmartspaceService", in)
}

// ClearSmartspaceService unbinds the smartspace service
func (c *Client) ClearSmartspaceService(ctx context.Context, req ServiceRequest) error {
	in, err := encodeObject(req)
	if err != nil {
		return err
	}
	return c.call(ctx, "ClearSmartspaceService", in)
}

// CreateSmartspaceSession creates a system smartspace session
func (c *Client) CreateSmartspaceSession(ctx context.Context, cfg types.SessionConfig) error {
	in, err := encodeObject(cfg)
	if err != nil {
		return err
	}
	return c.call(ctx, "CreateSmartspaceSession", in)
}

// DestroySmartspaceSession destroys a system smartspace session
func (c *Client) DestroySmartspaceSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, "DestroySmartspaceSession", wrapperspb.String(sessionID))
}

// DestroyAppPredictorSession ends the app prediction session
func (c *Client) DestroyAppPredictorSession(ctx context.Context) error {
	return c.call(ctx, "DestroyAppPredictorSession", &emptypb.Empty{})
}

// DestroyWidgetPredictorSession ends the widget prediction session
func (c *Client) DestroyWidgetPredictorSession(ctx context.Context) error {
	return c.call(ctx, "DestroyWidgetPredictorSession", &emptypb.Empty{})
}

// ToggleTorch flips the flashlight
func (c *Client) ToggleTorch(ctx context.Context) error {
	return c.call(ctx, "ToggleTorch", &emptypb.Empty{})
}

// GetShortcuts lists launcher shortcuts
func (c *Client) GetShortcuts(ctx context.Context, query ShortcutQuery) ([]Shortcut, error) {
	in, err := encodeObject(query)
	if err != nil {
		return nil, err
	}
	out, err := invoke(ctx, c, "GetShortcuts", in, new(structpb.Struct))
	if err != nil {
		return nil, err
	}
	return sdk.DecodeList[Shortcut](sdk.FromStruct(out).List(keyShortcuts))
}

// GetAppShortcutIcon returns a shortcut icon, nil when unavailable
func (c *Client) GetAppShortcutIcon(ctx context.Context, pkg, id string) ([]byte, error) {
	in, err := sdk.Bundle{keyPackage: pkg, keyID: id}.ToStruct()
	if err != nil {
		return nil, err
	}
	out, err := invoke(ctx, c, "GetAppShortcutIcon", in, new(wrapperspb.BytesValue))
	if err != nil {
		return nil, err
	}
	if len(out.GetValue()) == 0 {
		return nil, nil
	}
	return out.GetValue(), nil
}

// StartShortcut launches a shortcut
func (c *Client) StartShortcut(ctx context.Context, pkg, id string) error {
	in, err := sdk.Bundle{keyPackage: pkg, keyID: id}.ToStruct()
	if err != nil {
		return err
	}
	return c.call(ctx, "StartShortcut", in)
}

// ProxyContentProviderGetType resolves the mime type of a content uri
func (c *Client) ProxyContentProviderGetType(ctx context.Context, uri string) (string, error) {
	out, err := invoke(ctx, c, "ProxyContentProviderGetType", wrapperspb.String(uri), new(wrapperspb.StringValue))
	return out.GetValue(), err
}

// ProxyContentProviderOpenFile reads a content uri
func (c *Client) ProxyContentProviderOpenFile(ctx context.Context, uri, mode string) ([]byte, error) {
	in, err := sdk.Bundle{keyURI: uri, keyMode: mode}.ToStruct()
	if err != nil {
		return nil, err
	}
	out, err := invoke(ctx, c, "ProxyContentProviderOpenFile", in, new(wrapperspb.BytesValue))
	return out.GetValue(), err
}

// ProxyContentProviderGetStreamTypes lists the mime types of a content uri matching filter
func (c *Client) ProxyContentProviderGetStreamTypes(ctx context.Context, uri, filter string) ([]string, error) {
	in, err := sdk.Bundle{keyURI: uri, keyFilter: filter}.ToStruct()
	if err != nil {
		return nil, err
	}
	out, err := invoke(ctx, c, "ProxyContentProviderGetStreamTypes", in, new(structpb.ListValue))
	if err != nil {
		return nil, err
	}
	var mimes []string
	for _, v := range out.GetValues() {
		mimes = append(mimes, v.GetStringValue())
	}
	return mimes, nil
}

// GrantRestrictedSettings grants restricted settings access to pkg
func (c *Client) GrantRestrictedSettings(ctx context.Context, pkg string) error {
	return c.call(ctx, "GrantRestrictedSettings", wrapperspb.String(pkg))
}

// SetPowerExemption exempts pkg from power restrictions
func (c *Client) SetPowerExemption(ctx context.Context, pkg string) error {
	return c.call(ctx, "SetPowerExemption", wrapperspb.String(pkg))
}

// EnableBluetooth turns bluetooth on
func (c *Client) EnableBluetooth(ctx context.Context) error {
	return c.call(ctx, "EnableBluetooth", &emptypb.Empty{})
}

// GetSavedWiFiNetworks lists the networks saved on the device
func (c *Client) GetSavedWiFiNetworks(ctx context.Context) ([]WiFiNetwork, error) {
	out, err := invoke(ctx, c, "GetSavedWiFiNetworks", &emptypb.Empty{}, new(structpb.Struct))
	if err != nil {
		return nil, err
	}
	return sdk.DecodeList[WiFiNetwork](sdk.FromStruct(out).List(keyNetworks))
}

// GetUserName returns the display name of a user
func (c *Client) GetUserName(ctx context.Context, userID int) (string, error) {
	out, err := invoke(ctx, c, "GetUserName", wrapperspb.Int32(int32(userID)), new(wrapperspb.StringValue))
	return out.GetValue(), err
}

// Destroy asks the bridge process to exit
func (c *Client) Destroy(ctx context.Context) error {
	return c.call(ctx, "Destroy", &emptypb.Empty{})
}

// openStream starts a server stream and forwards converted messages to the
// returned channel. The channel closes when the stream ends for any reason.
func openStream[Out proto.Message, T any](ctx context.Context, c *Client, desc *grpc.StreamDesc, in proto.Message, newOut func() Out, convert func(Out) (T, error)) (<-chan T, error) {
	stream, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (grpc.ClientStream, error) {
		s, err := c.conn.NewStream(ctx, desc, fullMethod(desc.StreamName))
		if err != nil {
			return nil, fromBridgeStatus(err)
		}
		if err := s.SendMsg(in); err != nil {
			return nil, fromBridgeStatus(err)
		}
		if err := s.CloseSend(); err != nil {
			return nil, fromBridgeStatus(err)
		}
		return s, nil
	})
	if err != nil {
		c.metrics.RecordBridgeError(desc.StreamName, errorReason(err))
		return nil, err
	}

	out := make(chan T, 1)
	go func() {
		defer close(out)
		for {
			msg := newOut()
			if err := stream.RecvMsg(msg); err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("Bridge stream ended", zap.String("stream", desc.StreamName), zap.Error(err))
				}
				return
			}
			v, err := convert(msg)
			if err != nil {
				c.logger.Warn("Dropping malformed bridge message", zap.String("stream", desc.StreamName), zap.Error(err))
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodePredictions(s *structpb.Struct) ([]Prediction, error) {
	return sdk.DecodeList[Prediction](sdk.FromStruct(s).List(keyPredictions))
}

// AppPredictions replaces the app prediction session and streams its results
func (c *Client) AppPredictions(ctx context.Context) (<-chan []Prediction, error) {
	return openStream(ctx, c, &appPredictorStream, &emptypb.Empty{}, newStruct, decodePredictions)
}

// WidgetPredictions replaces the widget prediction session and streams its results
func (c *Client) WidgetPredictions(ctx context.Context, extras map[string]any) (<-chan []Prediction, error) {
	in, err := sdk.Bundle{keyExtras: sdk.Bundle(extras)}.ToStruct()
	if err != nil {
		return nil, err
	}
	return openStream(ctx, c, &widgetPredictorStream, in, newStruct, decodePredictions)
}

// ProcessEvents streams the package of each new foreground process
func (c *Client) ProcessEvents(ctx context.Context) (<-chan string, error) {
	return openStream(ctx, c, &processObserverStream, &emptypb.Empty{}, newString,
		func(v *wrapperspb.StringValue) (string, error) { return v.GetValue(), nil })
}

// TaskEvents streams the recent task packages; the current list arrives first
func (c *Client) TaskEvents(ctx context.Context) (<-chan []string, error) {
	return openStream(ctx, c, &taskObserverStream, &emptypb.Empty{}, newStruct,
		func(s *structpb.Struct) ([]string, error) { return sdk.FromStruct(s).Strings(keyPackages), nil })
}

// CrashEvents streams crash storms detected by the bridge
func (c *Client) CrashEvents(ctx context.Context) (<-chan CrashEvent, error) {
	return openStream(ctx, c, &crashListenerStream, &emptypb.Empty{}, newStruct, decodeObject[CrashEvent])
}

func errorReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case isRemoteDead(err):
		return "unavailable"
	case isPermissionDenied(err):
		return "permission"
	default:
		return "error"
	}
}
