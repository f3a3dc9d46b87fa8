package sdk

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// Notification is the subset of a posted notification forwarded to
// notification providers
type Notification struct {
	ID          int    `json:"id"`
	Key         string `json:"key"`
	PackageName string `json:"package_name"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	PostedAt    int64  `json:"posted_at"`
}

// Backup is an opaque per-instance payload. The host transports it without
// looking inside.
type Backup struct {
	Data string `json:"data"`
	Name string `json:"name,omitempty"`
}

const (
	backupData = "data"
	backupName = "name"
)

// ToBundle encodes the backup for the wire
func (b Backup) ToBundle() Bundle {
	out := Bundle{backupData: b.Data}
	if b.Name != "" {
		out[backupName] = b.Name
	}
	return out
}

// BackupFromBundle decodes a backup
func BackupFromBundle(b Bundle) Backup {
	return Backup{Data: b.String(backupData), Name: b.String(backupName)}
}

// EncodeTargets turns targets into bundle list entries
func EncodeTargets(targets []types.Target) ([]any, error) {
	return EncodeList(targets)
}

// DecodeTargets reads targets from a bundle list
func DecodeTargets(list []any) ([]types.Target, error) {
	return DecodeList[types.Target](list)
}

// EncodeActions turns complications into bundle list entries
func EncodeActions(actions []types.Action) ([]any, error) {
	return EncodeList(actions)
}

// DecodeActions reads complications from a bundle list
func DecodeActions(list []any) ([]types.Action, error) {
	return DecodeList[types.Action](list)
}

// EncodeNotifications turns notifications into bundle list entries
func EncodeNotifications(notifications []Notification) ([]any, error) {
	return EncodeList(notifications)
}

// DecodeNotifications reads notifications from a bundle list
func DecodeNotifications(list []any) ([]Notification, error) {
	return DecodeList[Notification](list)
}

// EncodeList converts items into generic bundle list entries
func EncodeList[T any](items []T) ([]any, error) {
	raw, err := sonic.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", items, err)
	}
	var out []any
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", items, err)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// DecodeList converts generic bundle list entries back into items
func DecodeList[T any](list []any) ([]T, error) {
	if len(list) == 0 {
		return nil, nil
	}
	raw, err := sonic.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	var out []T
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}
