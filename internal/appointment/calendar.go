package appointment

import (
	"fmt"
	"strings"
	"time"
)

// Window is one bookable block on a concrete date.
type Window struct {
	Start time.Time
	End   time.Time
}

// Calendar yields the bookable windows of a date in chronological order.
// Per-doctor hours or holidays plug in behind this interface.
type Calendar interface {
	WindowsFor(date time.Time) []Window
}

// Block is a daily window expressed as offsets from midnight.
type Block struct {
	From time.Duration
	To   time.Duration
}

// WorkingHours applies the same blocks to every day of the week.
type WorkingHours struct {
	Blocks []Block
}

// DefaultWorkingHours is 08:00-12:00 and 13:30-17:30.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{Blocks: []Block{
		{From: 8 * time.Hour, To: 12 * time.Hour},
		{From: 13*time.Hour + 30*time.Minute, To: 17*time.Hour + 30*time.Minute},
	}}
}

func (wh WorkingHours) WindowsFor(date time.Time) []Window {
	midnight := dayOf(date)
	windows := make([]Window, 0, len(wh.Blocks))
	for _, b := range wh.Blocks {
		windows = append(windows, Window{
			Start: midnight.Add(b.From),
			End:   midnight.Add(b.To),
		})
	}
	return windows
}

// ParseWorkingHours parses "08:00-12:00,13:30-17:30". Blocks must be non-empty,
// inside a single day, and given in increasing order without overlap.
func ParseWorkingHours(raw string) (WorkingHours, error) {
	var wh WorkingHours
	var prevEnd time.Duration = -1

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return WorkingHours{}, fmt.Errorf("block %q: expected HH:MM-HH:MM", part)
		}
		start, err := parseClock(from)
		if err != nil {
			return WorkingHours{}, fmt.Errorf("block %q: %w", part, err)
		}
		end, err := parseClock(to)
		if err != nil {
			return WorkingHours{}, fmt.Errorf("block %q: %w", part, err)
		}
		if end <= start {
			return WorkingHours{}, fmt.Errorf("block %q: end must be after start", part)
		}
		if start < prevEnd {
			return WorkingHours{}, fmt.Errorf("block %q: blocks must be ordered and disjoint", part)
		}
		prevEnd = end
		wh.Blocks = append(wh.Blocks, Block{From: start, To: end})
	}

	if len(wh.Blocks) == 0 {
		return WorkingHours{}, fmt.Errorf("no working hour blocks in %q", raw)
	}
	return wh, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		// 24:00 closes a block at midnight.
		if strings.TrimSpace(s) == "24:00" {
			return 24 * time.Hour, nil
		}
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
