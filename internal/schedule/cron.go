package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/gregolima/zeca/pkg/models"
)

// buildCronSpec resolves the recurrence expression of a rule. An explicit
// cron override wins; otherwise the expression is synthesized from the
// HH:MM time and day-of-week list. The rule's timezone rides along as a
// CRON_TZ prefix so registration fires in the rule's own zone.
func buildCronSpec(s *models.Schedule) (string, error) {
	spec, err := cronExpression(s)
	if err != nil {
		return "", err
	}
	if s.Timezone != "" {
		spec = "CRON_TZ=" + s.Timezone + " " + spec
	}
	return spec, nil
}

func cronExpression(s *models.Schedule) (string, error) {
	if s.UseCronOverride {
		expr := strings.TrimSpace(s.Cron)
		if expr == "" {
			return "", fmt.Errorf("schedule %d: cron override enabled but expression is empty", s.ID)
		}
		if !gronx.IsValid(expr) {
			return "", fmt.Errorf("schedule %d: invalid cron expression %q", s.ID, expr)
		}
		return expr, nil
	}

	hour, minute, err := parseClock(s.Time)
	if err != nil {
		return "", fmt.Errorf("schedule %d: %w", s.ID, err)
	}

	days := "*"
	if len(s.DaysOfWeek) > 0 {
		parts := make([]string, 0, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return "", fmt.Errorf("schedule %d: day of week %d out of range", s.ID, d)
			}
			parts = append(parts, strconv.Itoa(d))
		}
		days = strings.Join(parts, ",")
	}

	return fmt.Sprintf("%d %d * * %s", minute, hour, days), nil
}

// parseClock parses a strict 24h "HH:MM" value.
func parseClock(v string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", v)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour, minute, nil
}
