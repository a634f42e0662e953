// Package schedule parses and evaluates the schedule format of recurring
// workflow submissions: a JSON object with a kind of "cron", "interval" or
// "once".
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

// NextRun computes the next firing time, nil when the schedule will never
// fire again (a "once" in the past, or an invalid expression).
func NextRun(raw string) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	now := time.Now()
	switch s.Kind {
	case KindCron:
		next, err := gronx.NextTick(s.CronExpr, false)
		if err != nil {
			return nil
		}
		return &next
	case KindInterval:
		next := now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
		return &next
	case KindOnce:
		at := time.UnixMilli(s.AtMs)
		if at.After(now) {
			return &at
		}
	}
	return nil
}

// Normalize accepts either the JSON form or a bare cron expression and
// returns the canonical JSON form, validating either way.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		if err := s.validate(); err != nil {
			return "", err
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not JSON or a cron expression: %s", raw)
	}
	data, err := json.Marshal(Schedule{Kind: KindCron, CronExpr: raw})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Schedule) validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return fmt.Errorf("interval_ms must be positive")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

// Describe renders a schedule for status output.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		return "every " + (time.Duration(s.IntervalMs) * time.Millisecond).String()
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return raw
}
