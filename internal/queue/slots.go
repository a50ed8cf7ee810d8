package queue

import (
	"fmt"
	"sort"
	"time"
)

const slotHorizonDays = 7

type clockTime struct {
	hour, min int
}

func parseClock(s string) (clockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return clockTime{}, fmt.Errorf("bad time slot %q: %w", s, err)
	}
	return clockTime{hour: t.Hour(), min: t.Minute()}, nil
}

func weekdayAllowed(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

// expandSlots materializes the template over the next seven days starting at
// from. Slots already in the past are dropped and do not count against the
// per-day cap. The result is ascending.
func expandSlots(tpl Template, from time.Time) []time.Time {
	clocks := make([]clockTime, 0, len(tpl.Times))
	for _, ts := range tpl.Times {
		c, err := parseClock(ts)
		if err != nil {
			continue
		}
		clocks = append(clocks, c)
	}
	sort.Slice(clocks, func(i, j int) bool {
		if clocks[i].hour != clocks[j].hour {
			return clocks[i].hour < clocks[j].hour
		}
		return clocks[i].min < clocks[j].min
	})

	loc := from.Location()
	var out []time.Time
	for d := 0; d < slotHorizonDays; d++ {
		day := from.AddDate(0, 0, d)
		if !weekdayAllowed(tpl.Weekdays, day.Weekday()) {
			continue
		}
		kept := 0
		for _, c := range clocks {
			if tpl.MaxPostsPerDay > 0 && kept >= tpl.MaxPostsPerDay {
				break
			}
			slot := time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.min, 0, 0, loc)
			if !slot.After(from) {
				continue
			}
			out = append(out, slot)
			kept++
		}
	}
	return out
}
