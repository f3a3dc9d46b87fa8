package pipeline

import (
	"maps"
	"strings"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/id"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// UniquenessPrefix marks target and action ids rewritten with their source package
const UniquenessPrefix = "smartspacer_"

// blankComponent is the component of filler targets
const blankComponent = "package_name/class_name"

// Extras the native surface honours on the base action. Complications may not
// inject them; they only survive when copied from the target's own base action.
var undocumentedExtras = []string{
	"show_on_lockscreen",
	"hide_title_on_aod",
	"hide_subtitle_on_aod",
	"explanation_intent",
	"feedback_intent",
}

// Page is one merged target and the instances that filled it
type Page struct {
	Target  types.Target
	Source  *Instance
	Actions []*Instance
}

// Blank reports whether the page is a filler target
func (p Page) Blank() bool {
	return p.Source == nil
}

// Packages returns the distinct packages that contributed to the page
func (p Page) Packages() []string {
	var packages []string
	seen := make(map[string]struct{})
	add := func(instance *Instance) {
		if instance == nil {
			return
		}
		if _, ok := seen[instance.Package]; ok {
			return
		}
		seen[instance.Package] = struct{}{}
		packages = append(packages, instance.Package)
	}
	add(p.Source)
	for _, instance := range p.Actions {
		add(instance)
	}
	return packages
}

type sourcedTarget struct {
	target types.Target
	source *Instance
}

type sourcedAction struct {
	action *types.Action
	source *Instance
}

// merger attaches queued complications to free target slots and pads the
// remainder into blank targets
type merger struct {
	hostPackage string
	split       bool
	// maxPrimary caps the emitted provider targets; zero is unlimited
	maxPrimary  int
	newBlankID  func() string
}

func newMerger(hostPackage string, split bool, maxPrimary int) merger {
	return merger{hostPackage: hostPackage, split: split, maxPrimary: maxPrimary, newBlankID: id.NewBlankTargetID}
}

// UniqueID prefixes an id with its source package. Ids from the host package
// and from unknown sources are left alone.
func UniqueID(pkg, hostPackage, raw string) string {
	if pkg == "" || pkg == hostPackage {
		return raw
	}
	return UniquenessPrefix + pkg + "_" + raw
}

// StripUniqueness reverses UniqueID
func StripUniqueness(unique string) string {
	rest, ok := strings.CutPrefix(unique, UniquenessPrefix)
	if !ok {
		return unique
	}
	if _, raw, found := strings.Cut(rest, "_"); found {
		return raw
	}
	return rest
}

func (m merger) merge(targets []sourcedTarget, actions []sourcedAction) []Page {
	queue := make([]sourcedAction, 0, len(actions))
	for _, a := range actions {
		action := a.action.Clone()
		action.ID = UniqueID(a.source.Package, m.hostPackage, action.ID)
		queue = append(queue, sourcedAction{action: action, source: a.source})
	}
	pop := func() (sourcedAction, bool) {
		if len(queue) == 0 {
			return sourcedAction{}, false
		}
		next := queue[0]
		queue = queue[1:]
		return next, true
	}
	peek := func() *types.Action {
		if len(queue) == 0 {
			return nil
		}
		return queue[0].action
	}

	var pages []Page
	if m.split {
		pages = append(pages, m.splitPages(pop)...)
	}

	primary := 0
	for _, st := range targets {
		if m.maxPrimary > 0 && primary >= m.maxPrimary {
			break
		}
		target := st.target.Clone()
		target.ID = UniqueID(st.source.Package, m.hostPackage, target.ID)
		page := Page{Source: st.source}
		takes := !st.source.Config.DisableSubComplications

		if takes && canTakeHeaderAction(target, peek()) {
			next, _ := pop()
			var action *types.Action
			target, action = convertIfNeeded(target, next.action)
			title := ""
			if target.Header != nil {
				title = target.Header.Title
			}
			action.Title = title
			target.Header = action
			if target.Template != nil {
				target.Template.SubtitleItem = action.SubItem.Clone()
			}
			page.Actions = append(page.Actions, next.source)
		}
		if takes && canTakeBaseAction(target, peek()) {
			next, _ := pop()
			var action *types.Action
			target, action = convertIfNeeded(target, next.action)
			target.Base = withTargetExtras(action, target)
			if target.Template != nil {
				target.Template.SubtitleSupplementalItem = action.SubItem.Clone()
			}
			page.Actions = append(page.Actions, next.source)
		}

		if target.HideIfNoComplications && target.HasNoActions() {
			continue
		}
		page.Target = target
		pages = append(pages, page)
		primary++
	}

	for {
		first, ok := pop()
		if !ok {
			break
		}
		page := Page{Actions: []*Instance{first.source}}
		var base *types.Action
		if second, ok := pop(); ok {
			base = second.action
			page.Actions = append(page.Actions, second.source)
		}
		page.Target = m.blankTarget(first.action, base)
		pages = append(pages, page)
	}
	return pages
}

// splitPages leads a split surface with a blank page holding up to two
// complications
func (m merger) splitPages(pop func() (sourcedAction, bool)) []Page {
	first, ok := pop()
	if !ok {
		return nil
	}
	page := Page{Actions: []*Instance{first.source}}
	var base *types.Action
	if second, ok := pop(); ok {
		base = second.action
		page.Actions = append(page.Actions, second.source)
	}
	page.Target = m.blankTarget(first.action, base)
	return []Page{page}
}

// blankTarget wraps one or two complications into a filler target. A missing
// base becomes an empty action.
func (m merger) blankTarget(header, base *types.Action) types.Target {
	header = header.Clone()
	var supplemental *types.SubItem
	if base != nil {
		base = base.Clone()
		stripUndocumentedExtras(base)
		supplemental = base.SubItem.Clone()
		if supplemental == nil {
			supplemental = generateSubItem(base)
		}
	} else {
		base = &types.Action{}
	}

	subtitle := header.SubItem.Clone()
	if subtitle == nil {
		subtitle = generateSubItem(header)
	}
	return types.Target{
		ID:          m.newBlankID(),
		FeatureType: types.FeatureWeather,
		Component:   blankComponent,
		Header:      header,
		Base:        base,
		Template: &types.Template{
			SubtitleItem:             subtitle,
			SubtitleSupplementalItem: supplemental,
		},
		CanBeDismissed: false,
	}
}

func canTakeHeaderAction(target types.Target, action *types.Action) bool {
	if action == nil {
		return false
	}
	if target.CanTakeTwoComplications && target.FeatureType == types.FeatureUndefined {
		return true
	}
	if target.FeatureType == types.FeatureWeather {
		headerSubtitle := target.Header != nil && target.Header.Subtitle != ""
		return !headerSubtitle && (target.Template == nil || target.Template.SubtitleItem == nil)
	}
	return false
}

func canTakeBaseAction(target types.Target, action *types.Action) bool {
	if action == nil {
		return false
	}
	if target.CanTakeTwoComplications && target.FeatureType == types.FeatureUndefined {
		return true
	}
	if action.SubItem != nil && action.Subtitle == "" && target.Template == nil {
		// template-only complications can only convert a weather target
		return target.FeatureType == types.FeatureWeather
	}
	baseEmpty := target.Base == nil || target.Base.ID == ""
	supplementalEmpty := target.Template == nil || target.Template.SubtitleSupplementalItem.Empty()
	return baseEmpty && supplementalEmpty
}

// convertIfNeeded strips injected extras from the action, carries the
// target's base extras over, and gives a template-less weather target a
// generated template when the action only speaks templates
func convertIfNeeded(target types.Target, action *types.Action) (types.Target, *types.Action) {
	action = action.Clone()
	stripUndocumentedExtras(action)
	if target.Base != nil && len(target.Base.Extras) > 0 {
		if action.Extras == nil {
			action.Extras = make(map[string]any, len(target.Base.Extras))
		}
		maps.Copy(action.Extras, target.Base.Extras)
	}

	if action.SubItem != nil && action.Subtitle == "" && target.Template == nil && target.FeatureType == types.FeatureWeather {
		target.Template = &types.Template{
			SubtitleItem:             generateSubItem(target.Header),
			SubtitleSupplementalItem: generateSubItem(target.Base),
		}
	}
	return target, action
}

func withTargetExtras(action *types.Action, target types.Target) *types.Action {
	action = action.Clone()
	if target.Base == nil || len(target.Base.Extras) == 0 {
		return action
	}
	if action.Extras == nil {
		action.Extras = make(map[string]any, len(target.Base.Extras))
	}
	maps.Copy(action.Extras, target.Base.Extras)
	return action
}

func stripUndocumentedExtras(action *types.Action) {
	for _, key := range undocumentedExtras {
		delete(action.Extras, key)
	}
}

func generateSubItem(action *types.Action) *types.SubItem {
	if action == nil {
		return nil
	}
	item := &types.SubItem{Text: action.Subtitle, TapAction: action.Intent}
	if action.Icon != nil {
		icon := *action.Icon
		item.Icon = &icon
	}
	return item
}
