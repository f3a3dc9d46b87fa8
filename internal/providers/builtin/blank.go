package builtin

import (
	"context"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const blankIDPrefix = "blank_"

// BlankData is the per-instance setting of a blank target
type BlankData struct {
	ShowComplications     bool `json:"show_complications"`
	HideIfNoComplications bool `json:"hide_if_no_complications"`
}

// BlankTarget shows an empty card, optionally as a carrier for complications
type BlankTarget struct {
	base
}

// NewBlankTarget creates the blank target provider
func NewBlankTarget(hostPackage string, store DataStore, bus *sdk.ChangeBus) *BlankTarget {
	return &BlankTarget{base{
		authority:   AuthorityBlank,
		kind:        KindBlank,
		hostPackage: hostPackage,
		store:       store,
		bus:         bus,
	}}
}

// Endpoint serves the provider to the host
func (p *BlankTarget) Endpoint() sdk.Endpoint {
	d := sdk.NewDispatcher(p.hostPackage)
	sdk.ServeTargets(d, p)
	return d.Endpoint(p.hostPackage)
}

func (p *BlankTarget) data(ctx context.Context, smartspacerID string) (BlankData, error) {
	var data BlankData
	_, err := p.load(ctx, smartspacerID, &data)
	return data, err
}

func (p *BlankTarget) GetTargets(ctx context.Context, smartspacerID string) ([]types.Target, error) {
	data, err := p.data(ctx, smartspacerID)
	if err != nil {
		return nil, err
	}
	id := blankIDPrefix + smartspacerID
	target := types.Target{
		ID:                      id,
		FeatureType:             types.FeatureUndefined,
		Component:               p.component(".BlankTarget"),
		Header:                  &types.Action{ID: id, Icon: &types.Icon{}},
		CanBeDismissed:          false,
		CanTakeTwoComplications: data.ShowComplications,
		HideIfNoComplications:   data.ShowComplications && data.HideIfNoComplications,
	}
	// an empty placeholder keeps complications out of the base slot
	if !data.ShowComplications {
		target.Base = &types.Action{ID: id, Icon: &types.Icon{}}
	}
	return []types.Target{target}, nil
}

func (p *BlankTarget) GetConfig(ctx context.Context, smartspacerID string) (sdk.Config, error) {
	return sdk.Config{
		Label:                   "Blank",
		Description:             "An empty target, useful to show complications on their own",
		Compatibility:           sdk.Compatible,
		ConfigActivity:          p.component(".ui.activities.configuration.ConfigurationActivity"),
		AllowAddingMoreThanOnce: true,
	}, nil
}

func (p *BlankTarget) OnDismiss(ctx context.Context, smartspacerID, targetID string) (bool, error) {
	return false, nil
}

// Update replaces the settings of an instance
func (p *BlankTarget) Update(ctx context.Context, smartspacerID string, data BlankData) error {
	return p.save(ctx, smartspacerID, data)
}

func (p *BlankTarget) CreateBackup(ctx context.Context, smartspacerID string) (sdk.Backup, error) {
	data, err := p.data(ctx, smartspacerID)
	if err != nil {
		return sdk.Backup{}, err
	}
	return p.encodeBackup(data, "Blank target")
}

func (p *BlankTarget) RestoreBackup(ctx context.Context, smartspacerID string, backup sdk.Backup) (bool, error) {
	var data BlankData
	if !decodeBackup(backup, &data) {
		return false, nil
	}
	if err := p.save(ctx, smartspacerID, data); err != nil {
		return false, err
	}
	return true, nil
}

func (p *BlankTarget) OnRemoved(ctx context.Context, smartspacerID string) error {
	return p.store.DeleteTargetData(ctx, smartspacerID)
}
