package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dailybrief/internal/briefing"
)

// Calendar is one selectable calendar.
type Calendar struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary,omitempty"`
}

// Calendars offered to accounts without a connected calendar provider.
var Calendars = []Calendar{
	{ID: "primary", Summary: "Personal", Primary: true},
	{ID: "work", Summary: "Work"},
	{ID: "family", Summary: "Family"},
}

type slot struct {
	id       string
	title    string
	calendar string
	start    [2]int
	end      [2]int
}

// day offset -> weekday slots, weekend slots
var weekPlan = map[int][2][]slot{
	0: {
		{
			{"standup", "Daily Standup", "work", [2]int{9, 15}, [2]int{9, 45}},
			{"beehive", "Alex: check beehive", "family", [2]int{17, 0}, [2]int{18, 0}},
			{"fermentation", "Fermentation Club Meeting", "primary", [2]int{19, 30}, [2]int{21, 0}},
		},
		nil,
	},
	1: {
		{
			{"prod-issue", "Production Issue Investigation", "work", [2]int{10, 30}, [2]int{11, 30}},
			{"dentist", "Dental Appointment", "primary", [2]int{14, 30}, [2]int{15, 15}},
			{"robotics", "Rio's robotics comp", "family", [2]int{18, 0}, [2]int{20, 0}},
		},
		nil,
	},
	2: {
		{
			{"code-review", "Code Review Session", "work", [2]int{14, 0}, [2]int{15, 30}},
			{"geocache", "geocaching w/ kids", "family", [2]int{16, 30}, [2]int{18, 0}},
		},
		{
			{"repair-cafe", "Repair Cafe Volunteering", "primary", [2]int{10, 0}, [2]int{13, 0}},
			{"dinner-party", "Alex: prep for dinner party", "family", [2]int{15, 0}, [2]int{17, 0}},
		},
	},
	3: {
		{
			{"oncall", "On-call Rotation Begins", "work", [2]int{9, 0}, [2]int{9, 15}},
			{"book-club", "Book Club", "primary", [2]int{19, 0}, [2]int{20, 30}},
		},
		{
			{"astronomy", "Astronomy Club Meeting", "primary", [2]int{20, 0}, [2]int{22, 30}},
			{"jazz-night", "Maya & Alex: jazz night", "family", [2]int{21, 0}, [2]int{23, 0}},
		},
	},
	4: {
		{
			{"sprint-planning", "Sprint Planning Meeting", "work", [2]int{13, 0}, [2]int{14, 30}},
			{"therapy", "Therapy Session", "primary", [2]int{17, 0}, [2]int{17, 50}},
		},
		{
			{"chickens", "Alex: chicken coop maintenance", "family", [2]int{8, 30}, [2]int{9, 30}},
			{"yoga", "Hot Yoga Class", "primary", [2]int{10, 0}, [2]int{11, 15}},
		},
	},
	5: {
		{
			{"deploy", "Staging Deployment", "work", [2]int{11, 0}, [2]int{11, 30}},
			{"car-service", "Alex: car service", "family", [2]int{12, 15}, [2]int{13, 0}},
			{"wine-tasting", "Wine Tasting w/ Jess", "primary", [2]int{19, 0}, [2]int{21, 0}},
		},
		{
			{"farmers-market", "Maya: farmers market run", "family", [2]int{9, 0}, [2]int{10, 30}},
		},
	},
	6: {
		{
			{"retro", "Sprint Retrospective", "work", [2]int{15, 0}, [2]int{16, 0}},
			{"pickup", "pickup Zara", "family", [2]int{17, 15}, [2]int{17, 45}},
		},
		{
			{"pottery", "Pottery Class", "primary", [2]int{11, 0}, [2]int{13, 0}},
			{"sourdough", "remember: sourdough starter", "family", [2]int{16, 0}, [2]int{16, 15}},
		},
	},
}

// MockSource is a deterministic EventSource for demo accounts.
type MockSource struct{}

// NewMockSource creates a new MockSource.
func NewMockSource() *MockSource {
	return &MockSource{}
}

// Events implements briefing.EventSource.
func (MockSource) Events(_ context.Context, _ string, sel briefing.Selection) ([]briefing.Event, error) {
	if len(sel.Calendars) == 0 {
		return nil, nil
	}
	loc, err := time.LoadLocation(sel.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone %q: %w", sel.Timezone, err)
	}
	days := sel.Days
	if days <= 0 {
		days = briefing.DefaultDaysInAdvance
	}

	selected := make(map[string]bool, len(sel.Calendars))
	for _, id := range sel.Calendars {
		selected[id] = true
	}

	local := sel.Now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var events []briefing.Event
	add := func(e briefing.Event) {
		if selected[e.Calendar] {
			events = append(events, e)
		}
	}

	for offset := 0; offset < days && offset < len(weekPlan); offset++ {
		date := midnight.AddDate(0, 0, offset)
		variant := 0
		if isWeekend(date) {
			variant = 1
		}
		slots := weekPlan[offset][variant]
		if slots == nil {
			slots = weekPlan[offset][0]
		}
		for _, s := range slots {
			add(briefing.Event{
				ID:       fmt.Sprintf("day%d-%s", offset, s.id),
				Title:    s.title,
				Calendar: s.calendar,
				Start:    at(date, s.start),
				End:      at(date, s.end),
			})
		}
	}

	if days >= 3 {
		if date := midnight.AddDate(0, 0, 2); !isWeekend(date) {
			add(allDay("allday-focus", "Focus Day - Database Migration", "work", date))
		}
	}
	if days >= 5 {
		add(allDay("allday-climate-action", "Climate Action Day", "family", midnight.AddDate(0, 0, 4)))
	}

	sort.SliceStable(events, func(i, j int) bool {
		return startOf(events[i], loc).Before(startOf(events[j], loc))
	})
	return events, nil
}

func at(date time.Time, hm [2]int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hm[0], hm[1], 0, 0, date.Location())
}

func allDay(id, title, cal string, date time.Time) briefing.Event {
	return briefing.Event{
		ID:        id,
		Title:     title,
		Calendar:  cal,
		StartDate: date.Format("2006-01-02"),
		EndDate:   date.AddDate(0, 0, 1).Format("2006-01-02"),
	}
}

func startOf(e briefing.Event, loc *time.Location) time.Time {
	if e.AllDay() {
		t, _ := time.ParseInLocation("2006-01-02", e.StartDate, loc)
		return t
	}
	return e.Start
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
