package builtin

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const (
	calendarIDPrefix = "calendar_"
	shortTitleLength = 30
	defaultEventName = "Calendar event"
)

// Event is one calendar entry
type Event struct {
	ID       string    `json:"id"`
	Calendar string    `json:"calendar"`
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day,omitempty"`
}

// AlternativeID identifies an event by its content. Calendars that rewrite
// their event ids on sync keep the same alternative id.
func (e Event) AlternativeID() string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s%d%d", e.Title, e.Start.UnixMilli(), e.End.UnixMilli())
	return strconv.FormatUint(uint64(h.Sum32()), 10)
}

// EventSource returns the upcoming events of the calendars an instance follows
type EventSource interface {
	Events(ctx context.Context, calendars []string) ([]Event, error)
}

// MemoryEvents is an EventSource fed by the host
type MemoryEvents struct {
	mu       sync.RWMutex
	events   []Event
	onChange func()
}

// NewMemoryEvents creates an empty event source. onChange runs after every Set.
func NewMemoryEvents(onChange func()) *MemoryEvents {
	return &MemoryEvents{onChange: onChange}
}

// Set replaces every known event
func (m *MemoryEvents) Set(events []Event) {
	m.mu.Lock()
	m.events = slices.Clone(events)
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange()
	}
}

// Events returns the events of the given calendars ordered by start, or of
// every calendar when none are given
func (m *MemoryEvents) Events(ctx context.Context, calendars []string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0, len(m.events))
	for _, event := range m.events {
		if len(calendars) == 0 || slices.Contains(calendars, event.Calendar) {
			out = append(out, event)
		}
	}
	slices.SortStableFunc(out, func(a, b Event) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// CalendarData is the per-instance setting of a calendar target
type CalendarData struct {
	ShowLocation           bool     `json:"show_location"`
	UseAlternativeEventIDs bool     `json:"use_alternative_event_ids"`
	Calendars              []string `json:"calendars"`
	DismissedEvents        []string `json:"dismissed_events"`
}

func defaultCalendarData() CalendarData {
	return CalendarData{ShowLocation: true}
}

func (d CalendarData) dismissed(e Event) bool {
	return slices.Contains(d.DismissedEvents, e.ID) || slices.Contains(d.DismissedEvents, e.AlternativeID())
}

// CalendarTarget shows upcoming calendar events
type CalendarTarget struct {
	base
	events   EventSource
	now      func() time.Time
	location *time.Location
}

// NewCalendarTarget creates the calendar target provider
func NewCalendarTarget(hostPackage string, store DataStore, bus *sdk.ChangeBus, events EventSource) *CalendarTarget {
	return &CalendarTarget{
		base: base{
			authority:   AuthorityCalendar,
			kind:        KindCalendar,
			hostPackage: hostPackage,
			store:       store,
			bus:         bus,
		},
		events:   events,
		now:      time.Now,
		location: time.Local,
	}
}

// Endpoint serves the provider to the host
func (p *CalendarTarget) Endpoint() sdk.Endpoint {
	d := sdk.NewDispatcher(p.hostPackage)
	sdk.ServeTargets(d, p)
	return d.Endpoint(p.hostPackage)
}

func (p *CalendarTarget) data(ctx context.Context, smartspacerID string) (CalendarData, error) {
	data := defaultCalendarData()
	_, err := p.load(ctx, smartspacerID, &data)
	return data, err
}

func (p *CalendarTarget) GetTargets(ctx context.Context, smartspacerID string) ([]types.Target, error) {
	data, err := p.data(ctx, smartspacerID)
	if err != nil {
		return nil, err
	}
	events, err := p.events.Events(ctx, data.Calendars)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar events: %w", err)
	}

	now := p.now().In(p.location)
	targets := make([]types.Target, 0, len(events))
	for _, event := range events {
		if data.dismissed(event) {
			continue
		}
		targets = append(targets, p.toTarget(event, data, now))
	}
	return targets, nil
}

func (p *CalendarTarget) toTarget(e Event, data CalendarData, now time.Time) types.Target {
	eventID := e.ID
	if data.UseAlternativeEventIDs {
		eventID = e.AlternativeID()
	}
	id := calendarIDPrefix + eventID
	intent := "content://com.android.calendar/events/" + e.ID

	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = defaultEventName
	}

	target := types.Target{
		ID:          id,
		FeatureType: types.FeatureCalendar,
		Component:   p.component(".CalendarTarget"),
		Header: &types.Action{
			ID:       id,
			Title:    formatTitle(title, e.Start, now),
			Subtitle: p.subtitle(e, now),
			Icon:     &types.Icon{URI: "android.resource://" + p.hostPackage + "/drawable/ic_target_calendar", ShouldTint: true},
			Intent:   intent,
		},
		CanBeDismissed: true,
		AlternativeID:  e.AlternativeID(),
	}
	if location := strings.TrimSpace(e.Location); data.ShowLocation && location != "" {
		target.Base = &types.Action{
			ID:       id,
			Subtitle: location,
			Icon:     &types.Icon{URI: "android.resource://" + p.hostPackage + "/drawable/ic_target_calendar_location", ShouldTint: true},
			Intent:   intent,
		}
	}
	return target
}

// formatTitle adds the minutes left to events starting within the hour
func formatTitle(title string, start, now time.Time) string {
	now = now.Truncate(time.Minute)
	minutes := 0
	if !start.Before(now) {
		minutes = int(start.Sub(now) / time.Minute)
	}
	if minutes < 1 || minutes > 60 {
		return title
	}
	return fmt.Sprintf("%s in %d min", ellipsise(title, shortTitleLength), minutes)
}

func ellipsise(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func (p *CalendarTarget) subtitle(e Event, now time.Time) string {
	if e.AllDay {
		return "All day"
	}
	start, end := e.Start.In(p.location), e.End.In(p.location)
	startClock, endClock := start.Format("15:04"), end.Format("15:04")

	switch {
	case sameDay(start, now) && sameDay(end, now):
		return startClock + " - " + endClock
	case sameDay(start, now.AddDate(0, 0, -1)):
		return fmt.Sprintf("Yesterday %s - %s", startClock, endClock)
	case sameDay(end, now.AddDate(0, 0, 1)):
		return fmt.Sprintf("%s - tomorrow %s", startClock, endClock)
	case sameDay(start, now):
		return fmt.Sprintf("%s - %s %s", startClock, end.Format("Jan 2"), endClock)
	case sameDay(end, now):
		return fmt.Sprintf("%s %s - %s", start.Format("Jan 2"), startClock, endClock)
	default:
		return startClock + " - " + endClock
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func (p *CalendarTarget) GetConfig(ctx context.Context, smartspacerID string) (sdk.Config, error) {
	return sdk.Config{
		Label:                   "Calendar",
		Description:             "Shows upcoming events from your calendars",
		Compatibility:           sdk.Compatible,
		ConfigActivity:          p.component(".ui.activities.configuration.ConfigurationActivity"),
		SetupActivity:           p.component(".ui.activities.configuration.ConfigurationActivity"),
		AllowAddingMoreThanOnce: true,
	}, nil
}

// OnDismiss hides an event from this instance for good
func (p *CalendarTarget) OnDismiss(ctx context.Context, smartspacerID, targetID string) (bool, error) {
	data, err := p.data(ctx, smartspacerID)
	if err != nil {
		return false, err
	}
	eventID := strings.TrimPrefix(targetID, calendarIDPrefix)
	if !slices.Contains(data.DismissedEvents, eventID) {
		data.DismissedEvents = append(data.DismissedEvents, eventID)
	}
	if err := p.save(ctx, smartspacerID, data); err != nil {
		return false, err
	}
	return true, nil
}

// Update replaces the settings of an instance
func (p *CalendarTarget) Update(ctx context.Context, smartspacerID string, data CalendarData) error {
	return p.save(ctx, smartspacerID, data)
}

func (p *CalendarTarget) CreateBackup(ctx context.Context, smartspacerID string) (sdk.Backup, error) {
	data, err := p.data(ctx, smartspacerID)
	if err != nil {
		return sdk.Backup{}, err
	}
	return p.encodeBackup(data, "Calendar events")
}

// RestoreBackup stores the settings but reports false: calendar access has
// to be granted again through the setup activity.
func (p *CalendarTarget) RestoreBackup(ctx context.Context, smartspacerID string, backup sdk.Backup) (bool, error) {
	data := defaultCalendarData()
	if !decodeBackup(backup, &data) {
		return false, nil
	}
	return false, p.save(ctx, smartspacerID, data)
}

func (p *CalendarTarget) OnRemoved(ctx context.Context, smartspacerID string) error {
	return p.store.DeleteTargetData(ctx, smartspacerID)
}

// EventsChanged tells the host that the events behind the given instances changed
func (p *CalendarTarget) EventsChanged(smartspacerIDs ...string) {
	for _, id := range smartspacerIDs {
		p.notifyChange(id)
	}
}
