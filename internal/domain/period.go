package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time-of-day component.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(dateLayout) {
		// accept full timestamps, keep the date part
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", s, err)
		}
		*d = DateOf(t)
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RangePreset names a reporting window.
type RangePreset string

const (
	RangeLast12   RangePreset = "last12"
	RangeYTD      RangePreset = "ytd"
	RangeLastYear RangePreset = "lastYear"
	RangeCustom   RangePreset = "custom"
)

// ParseRangePreset accepts the known presets; empty means last12.
func ParseRangePreset(s string) (RangePreset, error) {
	switch RangePreset(strings.TrimSpace(s)) {
	case "", RangeLast12:
		return RangeLast12, nil
	case RangeYTD:
		return RangeYTD, nil
	case RangeLastYear:
		return RangeLastYear, nil
	case RangeCustom:
		return RangeCustom, nil
	default:
		return "", fmt.Errorf("unknown range preset %q", s)
	}
}

// Period is an inclusive date window.
type Period struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// Contains reports whether d falls inside the window, bounds included.
func (p Period) Contains(d Date) bool {
	return !d.Before(p.From.Time) && !d.After(p.To.Time)
}

func (p Period) String() string {
	return p.From.String() + ".." + p.To.String()
}

// ResolvePeriod turns a preset into a concrete window ending relative to now.
// from and to are only consulted for RangeCustom.
func ResolvePeriod(preset RangePreset, from, to Date, now time.Time) (Period, error) {
	today := DateOf(now)
	switch preset {
	case RangeLast12, "":
		return Period{From: Date{today.AddDate(0, 0, -365)}, To: today}, nil
	case RangeYTD:
		return Period{From: NewDate(today.Year(), time.January, 1), To: today}, nil
	case RangeLastYear:
		y := today.Year() - 1
		return Period{From: NewDate(y, time.January, 1), To: NewDate(y, time.December, 31)}, nil
	case RangeCustom:
		if from.IsZero() || to.IsZero() {
			return Period{}, fmt.Errorf("custom range requires from and to dates")
		}
		if to.Before(from.Time) {
			return Period{}, fmt.Errorf("custom range ends (%s) before it starts (%s)", to, from)
		}
		return Period{From: from, To: to}, nil
	default:
		return Period{}, fmt.Errorf("unknown range preset %q", preset)
	}
}
