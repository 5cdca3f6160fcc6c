package brief

import (
	"fmt"
	"strings"

	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// RenderForSpeech turns a brief into the prose handed to the voice layer.
func RenderForSpeech(b *Brief) string {
	var parts []string
	parts = append(parts, greeting(b))

	if b.Summary.TimedCount == 0 && b.Summary.AllDayCount == 0 {
		parts = append(parts, clearSentence(b))
		return strings.Join(parts, " ")
	}

	parts = append(parts, scheduleSummary(b))

	if line := recurringBreakdown(b); line != "" {
		parts = append(parts, line)
	}
	if b.CurrentMeeting != nil {
		parts = append(parts, fmt.Sprintf("You're currently in %s, with %s remaining.",
			quoteTitle(b.CurrentMeeting.Title), plural(b.MinutesRemaining, "minute")))
	}
	if line := nextMeetingLine(b); line != "" {
		parts = append(parts, line)
	}
	if line := conflictLines(b); line != "" {
		parts = append(parts, line)
	}
	if line := backToBackLine(b); line != "" {
		parts = append(parts, line)
	}
	if line := freeTimeLine(b); line != "" {
		parts = append(parts, line)
	}
	if b.Tomorrow.EventCount > 0 {
		line := fmt.Sprintf("Tomorrow you have %s", plural(b.Tomorrow.EventCount, "event"))
		if b.Tomorrow.FirstEvent != nil {
			line += fmt.Sprintf(", starting with %s at %s",
				quoteTitle(b.Tomorrow.FirstEvent.Title),
				timeutil.FormatTime12(b.Tomorrow.FirstEvent.Start))
		}
		parts = append(parts, line+".")
	}

	return strings.Join(parts, " ")
}

func greeting(b *Brief) string {
	hour := b.GeneratedAt.Hour()
	switch {
	case hour < 12:
		return "Good morning."
	case hour < 17:
		return "Good afternoon."
	default:
		return "Good evening."
	}
}

func clearSentence(b *Brief) string {
	if b.IsToday {
		return "Your calendar is clear today. Enjoy the open time."
	}
	return fmt.Sprintf("Your calendar is clear on %s.", b.Date)
}

func scheduleSummary(b *Brief) string {
	s := b.Summary
	if b.IsToday {
		switch {
		case s.TimedCount > 0 && s.UpcomingCount == 0 && s.InProgressCount == 0:
			return fmt.Sprintf("You had %s today, and they're all done.", plural(s.TimedCount, "meeting"))
		case s.PastCount > 0:
			return fmt.Sprintf("You've finished %s, with %s still ahead.",
				plural(s.PastCount, "meeting"), plural(s.UpcomingCount+s.InProgressCount, "meeting"))
		default:
			return fmt.Sprintf("You have %s today.", plural(s.TimedCount, "meeting"))
		}
	}
	return fmt.Sprintf("You have %s scheduled.", plural(s.TimedCount, "meeting"))
}

// recurringBreakdown is only spoken when both categories have an upcoming
// member.
func recurringBreakdown(b *Brief) string {
	s := b.Summary
	if s.UpcomingRecurring == 0 || s.UpcomingOneOff == 0 {
		return ""
	}
	return fmt.Sprintf("That's %d recurring and %s.",
		s.UpcomingRecurring, plural(s.UpcomingOneOff, "one-off"))
}

func nextMeetingLine(b *Brief) string {
	if b.NextMeeting == nil {
		return ""
	}
	title := quoteTitle(b.NextMeeting.Title)
	at := timeutil.FormatTime12(b.NextMeeting.Start)
	if b.IsToday {
		if b.MinutesUntil <= 60 {
			return fmt.Sprintf("Up next is %s in %s, at %s.", title, plural(b.MinutesUntil, "minute"), at)
		}
		return fmt.Sprintf("Your next meeting is %s at %s.", title, at)
	}
	return fmt.Sprintf("The first meeting is %s at %s.", title, at)
}

// conflictLines speaks the total plus at most two named pairs.
func conflictLines(b *Brief) string {
	n := len(b.Conflicts)
	if n == 0 {
		return ""
	}
	line := fmt.Sprintf("Heads up: you have %s.", plural(n, "scheduling conflict"))
	for i, p := range b.Conflicts {
		if i == 2 {
			break
		}
		line += fmt.Sprintf(" %s overlaps with %s by %s.",
			quoteTitle(p.A.Title), quoteTitle(p.B.Title), plural(p.OverlapMinutes, "minute"))
	}
	return line
}

func backToBackLine(b *Brief) string {
	n := len(b.BackToBack)
	if n == 0 {
		return ""
	}
	t := b.BackToBack[0]
	return fmt.Sprintf("You have %s, including %s straight into %s.",
		plural(n, "back-to-back transition"), quoteTitle(t.Current.Title), quoteTitle(t.Next.Title))
}

func freeTimeLine(b *Brief) string {
	ft := b.FreeTime
	if len(ft.Slots) == 0 {
		return "No meaningful free blocks on the calendar."
	}
	var line string
	if b.IsToday {
		line = fmt.Sprintf("You have about %s of free time left", formatHours(ft.TotalHours))
	} else {
		line = fmt.Sprintf("There's about %s of free time", formatHours(ft.TotalHours))
	}
	if ft.Longest != nil {
		line += fmt.Sprintf(", with the longest block from %s to %s",
			timeutil.FormatTime12(ft.Longest.Start), timeutil.FormatTime12(ft.Longest.End))
	}
	return line + "."
}

// plural renders "1 meeting" / "3 meetings".
func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func quoteTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "an untitled event"
	}
	return title
}

func formatHours(h float64) string {
	if h == float64(int(h)) {
		return plural(int(h), "hour")
	}
	return fmt.Sprintf("%.1f hours", h)
}
