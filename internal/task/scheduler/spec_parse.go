package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// specParser accepts 5 or 6 field expressions and @descriptors.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule normalizes a maintenance schedule to a cron spec.
//
//	"@daily", "@every 1h", "0 3 * * *"  cron, as is
//	"cron: 0 3 * * *"                   cron, prefix stripped
//	"30m", "every: 6h", "interval:2h"   fixed interval, as "@every <d>"
func ParseSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}

	spec := s
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		spec = strings.TrimSpace(s[len("cron:"):])
	case strings.HasPrefix(low, "interval:"), strings.HasPrefix(low, "every:"):
		_, v, _ := strings.Cut(s, ":")
		d, err := parseEvery(v)
		if err != nil {
			return "", err
		}
		spec = "@every " + d.String()
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		// cron
	default:
		d, err := parseEvery(s)
		if err != nil {
			return "", fmt.Errorf("invalid schedule %q (use cron like '0 3 * * *' or an interval like '30m')", raw)
		}
		spec = "@every " + d.String()
	}

	if _, err := specParser.Parse(spec); err != nil {
		return "", fmt.Errorf("schedule %q: %w", raw, err)
	}
	return spec, nil
}

func parseEvery(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
