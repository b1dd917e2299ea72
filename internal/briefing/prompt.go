package briefing

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	maxPromptEmails     = 10
	maxEmailContentRune = 1000
)

// SystemPrompt instructs the model how to lay out the briefing.
const SystemPrompt = `You are a friendly, well-organized assistant writing a daily briefing.
The reader should know at a glance what matters today and which later events need attention today.

You receive calendar entries (title, start, end; some all-day), personal notes and forwarded emails.
Notes and emails are context only: mention them only when directly relevant.

Rules:
* Never invent or assume details. Never add route planning or logistics that were not given.
* Ignore events that already ended.
* "Today" lists only events that start today in the reader's local time.
* Events tomorrow go under "Prep for tomorrow"; later events go under "Relevant this week"
  only if they need preparation, decisions or coordination today.
* Group today's events by person; events without a person go under "Everybody".
* Label all-day events. Mention conflicts only when they matter.
* If there are no events at all, say so and suggest checking the calendar connection.

Output Markdown without code blocks:

# Daily Briefing
_One short line fitting the day: a fun fact, a quote or a comment._
## <Person>
## Everybody
## Prep for tomorrow
## Relevant this week

Tone: professional, friendly, concise. English unless the notes ask for another language.`

// BuildPrompt renders in as the user message sent to the generator.
func BuildPrompt(in Input) string {
	loc := loadLocation(in.Timezone)
	now := in.Now.In(loc)
	days := in.LookaheadDays
	if days <= 0 {
		days = DefaultDaysInAdvance
	}

	var b strings.Builder
	fmt.Fprintf(&b, "It is %s.\n", now.Format("Monday, 1/2/06, 3:04 PM"))
	fmt.Fprintf(&b, "Calendar entries for the next %d days:\n", days)
	b.WriteString(eventsSection(in.Events, loc))
	b.WriteString(notesSection(in.Notes))
	b.WriteString(emailsSection(in.Emails, loc, in.Now))
	return b.String()
}

func eventsSection(events []Event, loc *time.Location) string {
	if len(events) == 0 {
		return "No upcoming events.\n"
	}
	var b strings.Builder
	for i, e := range ExpandMultiDay(events) {
		title := e.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, title, FormatEventTime(e, loc))
	}
	return b.String()
}

func notesSection(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nPersonal context and notes:\n")
	for i, n := range notes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, n)
	}
	return b.String()
}

func emailsSection(emails []Email, loc *time.Location, now time.Time) string {
	if len(emails) == 0 {
		return ""
	}
	latest := append([]Email(nil), emails...)
	sort.SliceStable(latest, func(i, j int) bool { return latest[i].Date.After(latest[j].Date) })
	if len(latest) > maxPromptEmails {
		latest = latest[:maxPromptEmails]
	}

	entries := make([]string, 0, len(latest))
	for i, e := range latest {
		entries = append(entries, fmt.Sprintf("%d. From: %s\nSubject: %s\nDate: %s (%s)\nContent: %s",
			i+1, e.From, e.Subject,
			e.Date.In(loc).Format("1/2/2006, 3:04:05 PM"), RelativeTime(now, e.Date),
			truncateRunes(e.Content, maxEmailContentRune)))
	}
	return fmt.Sprintf("\nRelevant forwarded emails and messages (latest %d):\n%s\n", maxPromptEmails, strings.Join(entries, "\n\n"))
}

// ExpandMultiDay splits all-day events spanning several days into one entry per day.
func ExpandMultiDay(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if !e.AllDay() || e.EndDate == "" {
			out = append(out, e)
			continue
		}
		start, err1 := time.Parse("2006-01-02", e.StartDate)
		end, err2 := time.Parse("2006-01-02", e.EndDate)
		if err1 != nil || err2 != nil {
			out = append(out, e)
			continue
		}
		last := end.AddDate(0, 0, -1)
		if !start.Before(last) {
			out = append(out, e)
			continue
		}
		count := int(last.Sub(start).Hours()/24) + 1
		for i, d := 0, start; !d.After(last); i, d = i+1, d.AddDate(0, 0, 1) {
			day := e
			day.Title = fmt.Sprintf("%s (Day %d of %d)", e.Title, i+1, count)
			day.StartDate = d.Format("2006-01-02")
			day.EndDate = day.StartDate
			out = append(out, day)
		}
	}
	return out
}

// FormatEventTime renders an event's time with weekday in loc.
func FormatEventTime(e Event, loc *time.Location) string {
	if e.AllDay() {
		d, err := time.Parse("2006-01-02", e.StartDate)
		if err != nil {
			return "unknown"
		}
		return d.Format("Monday, 1/2/2006") + ", all day"
	}
	if e.Start.IsZero() {
		return "unknown"
	}
	s := e.Start.In(loc).Format("Monday, 1/2/06, 3:04 PM")
	if !e.End.IsZero() {
		s += " - " + e.End.In(loc).Format("3:04 PM")
	}
	return s
}

// RelativeTime renders the age of t as "N hours ago" or "N days ago".
func RelativeTime(now, t time.Time) string {
	hours := int(now.Sub(t).Hours())
	if hours < 24 {
		return plural(hours, "hour") + " ago"
	}
	return plural(hours/24, "day") + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
