package notifications

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/builtin"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
)

const testHost = "com.kieronquinn.app.smartspacer"

type fakeGrants map[string]store.Grant

func (g fakeGrants) Grant(ctx context.Context, pkg string) (store.Grant, error) {
	grant, ok := g[pkg]
	if !ok {
		return store.Grant{}, store.ErrNotFound
	}
	return grant, nil
}

type memData struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memData) TargetData(ctx context.Context, smartspacerID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[smartspacerID], nil
}

func (m *memData) SetTargetData(ctx context.Context, smartspacerID, kind string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[smartspacerID] = data
	return nil
}

func (m *memData) DeleteTargetData(ctx context.Context, smartspacerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, smartspacerID)
	return nil
}

// listener is a plugin target that records the notifications it receives
type listener struct {
	mu       sync.Mutex
	received map[string][]sdk.Notification
}

func newListener() *listener {
	return &listener{received: make(map[string][]sdk.Notification)}
}

func (l *listener) GetTargets(ctx context.Context, smartspacerID string) ([]types.Target, error) {
	return nil, nil
}

func (l *listener) GetConfig(ctx context.Context, smartspacerID string) (sdk.Config, error) {
	return sdk.Config{Label: "Listener", NotificationProvider: "com.example.chat.notifications"}, nil
}

func (l *listener) OnDismiss(ctx context.Context, smartspacerID, targetID string) (bool, error) {
	return false, nil
}

func (l *listener) OnNotificationsChanged(ctx context.Context, smartspacerID string, notifications []sdk.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received[smartspacerID] = notifications
	return nil
}

func (l *listener) got(smartspacerID string) ([]sdk.Notification, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.received[smartspacerID]
	return n, ok
}

func (l *listener) endpoint() sdk.Endpoint {
	d := sdk.NewDispatcher(testHost)
	sdk.ServeTargets(d, l)
	sdk.ServeNotifications(d, l)
	return d.Endpoint(testHost)
}

func register(t *testing.T, r *pipeline.Registry, id, authority, pkg string, e sdk.Endpoint) {
	t.Helper()
	require.NoError(t, r.Register(&pipeline.Instance{
		ID:        id,
		Role:      pipeline.RoleTarget,
		Authority: authority,
		Package:   pkg,
		Config:    types.DefaultInstanceConfig(),
		Endpoint:  e,
	}))
}

var active = []sdk.Notification{
	{ID: 1, Key: "k1", PackageName: "com.example.chat", Title: "Alex", Text: "Lunch?"},
	{ID: 2, Key: "k2", PackageName: "com.example.mail", Title: "Invoice"},
}

func TestDispatchRespectsGrants(t *testing.T) {
	ctx := context.Background()
	registry := pipeline.NewRegistry()

	granted, denied := newListener(), newListener()
	register(t, registry, "granted", "com.example.chat.target", "com.example.chat", granted.endpoint())
	register(t, registry, "denied", "com.example.other.target", "com.example.other", denied.endpoint())

	d := New(registry, fakeGrants{
		"com.example.chat":  {Package: "com.example.chat", Notifications: true},
		"com.example.other": {Package: "com.example.other", Smartspace: true},
	}, testHost, logging.NewNop(), nil)

	results := d.Dispatch(ctx, active)
	require.Len(t, results, 1)
	assert.Equal(t, "granted", results[0].InstanceID)
	assert.Equal(t, 2, results[0].Delivered)
	assert.Empty(t, results[0].Error)

	got, ok := granted.got("granted")
	require.True(t, ok)
	assert.Equal(t, active, got)

	_, ok = denied.got("denied")
	assert.False(t, ok, "package without the notification grant")
}

func TestDispatchSkipsNonListeners(t *testing.T) {
	registry := pipeline.NewRegistry()
	blank := builtin.NewBlankTarget(testHost, &memData{data: map[string][]byte{}}, nil)
	register(t, registry, "blank", builtin.AuthorityBlank, testHost, blank.Endpoint())

	d := New(registry, fakeGrants{}, testHost, logging.NewNop(), nil)
	assert.Empty(t, d.Dispatch(context.Background(), active))
}

func TestDispatchReachesBuiltinNotificationTarget(t *testing.T) {
	ctx := context.Background()
	registry := pipeline.NewRegistry()
	target := builtin.NewNotificationTarget(testHost, &memData{data: map[string][]byte{}}, sdk.NewChangeBus(), nil)
	require.NoError(t, target.Update(ctx, "mirror", builtin.NotificationData{PackageName: "com.example.chat"}))
	register(t, registry, "mirror", builtin.AuthorityNotification, testHost, target.Endpoint())

	d := New(registry, fakeGrants{}, testHost, logging.NewNop(), nil)
	results := d.Dispatch(ctx, active)
	require.Len(t, results, 1)

	targets, err := sdk.NewTargetClient(target.Endpoint()).GetTargets(ctx, "mirror")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "notification_1", targets[0].ID)
	assert.Equal(t, "Lunch?", targets[0].Header.Subtitle)
}

func TestReplayResendsLastList(t *testing.T) {
	ctx := context.Background()
	registry := pipeline.NewRegistry()
	d := New(registry, fakeGrants{"com.example.chat": {Package: "com.example.chat", Notifications: true}}, testHost, logging.NewNop(), nil)
	d.Dispatch(ctx, active)

	late := newListener()
	register(t, registry, "late", "com.example.chat.target", "com.example.chat", late.endpoint())
	results := d.Replay(ctx)
	require.Len(t, results, 1)

	got, ok := late.got("late")
	require.True(t, ok)
	assert.Len(t, got, 2)
	assert.Equal(t, active, d.Active())
}

func TestDismissDropsNotificationAndRedispatches(t *testing.T) {
	ctx := context.Background()
	registry := pipeline.NewRegistry()
	l := newListener()
	register(t, registry, "chat", "com.example.chat.target", "com.example.chat", l.endpoint())
	d := New(registry, fakeGrants{"com.example.chat": {Package: "com.example.chat", Notifications: true}}, testHost, logging.NewNop(), nil)
	d.Dispatch(ctx, active)

	require.NoError(t, d.Dismiss(ctx, active[0]))
	assert.Equal(t, active[1:], d.Active())
	got, ok := l.got("chat")
	require.True(t, ok)
	assert.Equal(t, active[1:], got)

	assert.ErrorIs(t, d.Dismiss(ctx, active[0]), ErrUnknownNotification)
}
