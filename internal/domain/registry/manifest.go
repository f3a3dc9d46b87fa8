package registry

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/utils"
)

// Manifest describes one plugin package and the providers it serves
type Manifest struct {
	Package     string         `yaml:"package" json:"package"`
	Label       string         `yaml:"label" json:"label,omitempty"`
	Address     string         `yaml:"address" json:"address"`
	Permissions Permissions    `yaml:"permissions" json:"permissions"`
	Providers   []ProviderSpec `yaml:"providers" json:"providers"`
}

// Permissions are the grants a plugin asks for when first added
type Permissions struct {
	Widget        bool `yaml:"widget" json:"widget"`
	Notifications bool `yaml:"notifications" json:"notifications"`
	OEMSmartspace bool `yaml:"oem_smartspace" json:"oem_smartspace"`
}

// ProviderSpec is one target or complication provider of a plugin
type ProviderSpec struct {
	ID           string          `yaml:"id" json:"id,omitempty"`
	Role         pipeline.Role   `yaml:"role" json:"role"`
	Authority    string          `yaml:"authority" json:"authority"`
	Priority     int             `yaml:"priority" json:"priority"`
	Config       *ConfigSpec     `yaml:"config" json:"config,omitempty"`
	Requirements RequirementsSet `yaml:"requirements" json:"requirements"`
}

// ConfigSpec overrides the default settings of a newly added instance
type ConfigSpec struct {
	ShowOnHomeScreen        *bool `yaml:"show_on_home" json:"show_on_home,omitempty"`
	ShowOnLockScreen        *bool `yaml:"show_on_lock" json:"show_on_lock,omitempty"`
	ShowOnExpanded          *bool `yaml:"show_on_expanded" json:"show_on_expanded,omitempty"`
	ShowOverMusic           *bool `yaml:"show_over_music" json:"show_over_music,omitempty"`
	ExpandedShowWhenLocked  *bool `yaml:"expanded_show_when_locked" json:"expanded_show_when_locked,omitempty"`
	DisableSubComplications *bool `yaml:"disable_sub_complications" json:"disable_sub_complications,omitempty"`
}

// RequirementsSet gates a provider on requirement providers of the same plugin
type RequirementsSet struct {
	Any []RequirementSpec `yaml:"any" json:"any,omitempty"`
	All []RequirementSpec `yaml:"all" json:"all,omitempty"`
}

// RequirementSpec names one requirement provider
type RequirementSpec struct {
	ID        string `yaml:"id" json:"id,omitempty"`
	Authority string `yaml:"authority" json:"authority"`
	Invert    bool   `yaml:"invert" json:"invert"`
}

// ParseManifest decodes and validates a YAML manifest. Unknown keys are errors.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalWithOptions(data, &m, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest and fills in derived ids
func (m *Manifest) Validate() error {
	if m.Package == "" {
		return fmt.Errorf("manifest has no package")
	}
	if err := utils.ValidatePackageName(m.Package); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if m.Address == "" {
		return fmt.Errorf("manifest %s has no address", m.Package)
	}
	if len(m.Providers) == 0 {
		return fmt.Errorf("manifest %s declares no providers", m.Package)
	}

	seen := make(map[string]struct{})
	for i := range m.Providers {
		p := &m.Providers[i]
		switch p.Role {
		case pipeline.RoleTarget, pipeline.RoleComplication:
		case "":
			p.Role = pipeline.RoleTarget
		default:
			return fmt.Errorf("provider %s of %s has unknown role %q", p.Authority, m.Package, p.Role)
		}
		if p.Authority == "" {
			return fmt.Errorf("provider %d of %s has no authority", i, m.Package)
		}
		if err := utils.ValidateAuthority(p.Authority); err != nil {
			return fmt.Errorf("provider %d of %s: %w", i, m.Package, err)
		}
		if p.ID == "" {
			p.ID = derivedID(m.Package, p.Authority)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("manifest %s declares provider %s twice", m.Package, p.ID)
		}
		seen[p.ID] = struct{}{}

		for _, reqs := range [][]RequirementSpec{p.Requirements.Any, p.Requirements.All} {
			for j := range reqs {
				if reqs[j].Authority == "" {
					return fmt.Errorf("requirement %d of %s has no authority", j, p.ID)
				}
				if reqs[j].ID == "" {
					reqs[j].ID = derivedID(m.Package, reqs[j].Authority)
				}
			}
		}
	}
	return nil
}

// derivedID gives a provider declared without an id a stable smartspacer id
func derivedID(pkg, authority string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("smartspacer://"+pkg+"/"+authority)).String()
}

// InstanceConfig applies the overrides to the default instance settings
func (p ProviderSpec) InstanceConfig() types.InstanceConfig {
	return p.Config.Apply(types.DefaultInstanceConfig())
}

// Apply overrides the fields of cfg that c sets
func (c *ConfigSpec) Apply(cfg types.InstanceConfig) types.InstanceConfig {
	if c == nil {
		return cfg
	}
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&cfg.ShowOnHomeScreen, c.ShowOnHomeScreen)
	set(&cfg.ShowOnLockScreen, c.ShowOnLockScreen)
	set(&cfg.ShowOnExpanded, c.ShowOnExpanded)
	set(&cfg.ShowOverMusic, c.ShowOverMusic)
	set(&cfg.ExpandedShowWhenLocked, c.ExpandedShowWhenLocked)
	set(&cfg.DisableSubComplications, c.DisableSubComplications)
	return cfg
}
