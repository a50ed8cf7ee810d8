package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParsedSchedule is a normalized schedule string: either a fixed polling
// interval or a cron expression.
//
// Supported forms:
//   - Named intervals: "daily", "hourly", "every 30 minutes",
//     "every 15 minutes", "every minute"
//   - Go durations: "6h", "90s"
//   - Cron (robfig/cron): "cron: */5 * * * *", or any string with
//     whitespace or a leading '@'
type ParsedSchedule struct {
	Every time.Duration // zero when Cron is set
	Cron  string
}

// intervalTable collapses the named cadences into fixed polling intervals.
// Deliberately not a cron evaluator; cron expressions are the explicit
// upgrade path.
var intervalTable = map[string]time.Duration{
	"daily":            24 * time.Hour,
	"hourly":           time.Hour,
	"every 30 minutes": 30 * time.Minute,
	"every 30 min":     30 * time.Minute,
	"every 15 minutes": 15 * time.Minute,
	"every 15 min":     15 * time.Minute,
	"every minute":     time.Minute,
	"every 6 hours":    6 * time.Hour,
}

// defaultInterval applies when the schedule string is empty.
const defaultInterval = time.Minute

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule normalizes a schedule string. Empty means the default
// one-minute cadence.
func ParseSchedule(raw string) (ParsedSchedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSchedule{Every: defaultInterval}, nil
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSchedule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		if _, err := cronParser.Parse(expr); err != nil {
			return ParsedSchedule{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
		}
		return ParsedSchedule{Cron: expr}, nil
	}

	if d, ok := intervalTable[low]; ok {
		return ParsedSchedule{Every: d}, nil
	}

	if d, err := time.ParseDuration(low); err == nil {
		if d <= 0 {
			return ParsedSchedule{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSchedule{Every: d}, nil
	}

	// Anything cron-shaped goes to the cron parser.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		if _, err := cronParser.Parse(s); err != nil {
			return ParsedSchedule{}, fmt.Errorf("invalid cron schedule %q: %w", s, err)
		}
		return ParsedSchedule{Cron: s}, nil
	}

	return ParsedSchedule{}, fmt.Errorf(
		"invalid schedule %q (use 'daily'/'hourly'/'every N minutes', a duration like '6h', or 'cron: */5 * * * *')",
		raw,
	)
}
