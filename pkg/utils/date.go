package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical date format used throughout the pipeline
// and the snapshot store.
const DateLayout = "2006-01-02"

// Taipei is the exchange timezone (UTC+8).
var Taipei *time.Location

func init() {
	var err error
	Taipei, err = time.LoadLocation("Asia/Taipei")
	if err != nil {
		// Fallback: fixed zone if the tz database is not available
		Taipei = time.FixedZone("CST", 8*60*60)
	}
}

// Today returns today's date in exchange time, formatted YYYY-MM-DD.
func Today() string {
	return time.Now().In(Taipei).Format(DateLayout)
}

// ParseDate parses a canonical YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, Taipei)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ToROCDate converts a YYYY-MM-DD date to the Republic-of-China calendar
// format (YYY/MM/DD) some issuer APIs require, e.g. 2025-01-26 → 114/01/26.
func ToROCDate(date string) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%02d/%02d", t.Year()-1911, int(t.Month()), t.Day()), nil
}

// FromROCDate converts a ROC-calendar date (YYY/MM/DD) back to YYYY-MM-DD.
func FromROCDate(roc string) (string, error) {
	parts := strings.Split(roc, "/")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid ROC date %q", roc)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid ROC date %q: %w", roc, err)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid ROC date %q: %w", roc, err)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", fmt.Errorf("invalid ROC date %q: %w", roc, err)
	}
	return fmt.Sprintf("%04d-%02d-%02d", year+1911, month, day), nil
}

// PrevWeekday returns t itself if it falls on a weekday, otherwise the
// most recent weekday before it. Disclosure sites publish nothing on
// weekends.
func PrevWeekday(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// TradingDays returns the weekdays in [start, end]. This is a simplified
// calendar that does not account for Taiwan public holidays.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}
