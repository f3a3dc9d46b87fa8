package builtin

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
)

// Authorities of the builtin providers
const (
	AuthorityBlank        = "com.kieronquinn.app.smartspacer.target.blank"
	AuthorityCalendar     = "com.kieronquinn.app.smartspacer.target.calendar"
	AuthorityNotification = "com.kieronquinn.app.smartspacer.target.notification"
)

// Data kinds stored with each instance's settings
const (
	KindBlank        = "blank"
	KindCalendar     = "calendar"
	KindNotification = "notification"
)

// DataStore persists the settings of builtin instances. TargetData returns
// nil data without error when nothing was stored yet.
type DataStore interface {
	TargetData(ctx context.Context, smartspacerID string) ([]byte, error)
	SetTargetData(ctx context.Context, smartspacerID, kind string, data []byte) error
	DeleteTargetData(ctx context.Context, smartspacerID string) error
}

// base carries what every builtin provider needs
type base struct {
	authority   string
	kind        string
	hostPackage string
	store       DataStore
	bus         *sdk.ChangeBus
}

func (b base) component(class string) string {
	return b.hostPackage + "/" + class
}

func (b base) notifyChange(smartspacerID string) {
	if b.bus != nil {
		b.bus.NotifyChange(sdk.ChangeURI(b.authority, smartspacerID))
	}
}

// load decodes the stored settings of an instance into out. ok is false when
// nothing was stored.
func (b base) load(ctx context.Context, smartspacerID string, out any) (bool, error) {
	raw, err := b.store.TargetData(ctx, smartspacerID)
	if err != nil {
		return false, fmt.Errorf("failed to load %s data: %w", b.kind, err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %s data: %w", b.kind, err)
	}
	return true, nil
}

// save stores the settings of an instance and tells the host it changed
func (b base) save(ctx context.Context, smartspacerID string, data any) error {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s data: %w", b.kind, err)
	}
	if err := b.store.SetTargetData(ctx, smartspacerID, b.kind, raw); err != nil {
		return fmt.Errorf("failed to store %s data: %w", b.kind, err)
	}
	b.notifyChange(smartspacerID)
	return nil
}

func (b base) encodeBackup(data any, name string) (sdk.Backup, error) {
	raw, err := sonic.MarshalString(data)
	if err != nil {
		return sdk.Backup{}, err
	}
	return sdk.Backup{Data: raw, Name: name}, nil
}

// decodeBackup reports false for empty or malformed payloads
func decodeBackup(backup sdk.Backup, out any) bool {
	if backup.Data == "" {
		return false
	}
	return sonic.UnmarshalString(backup.Data, out) == nil
}
