package services

import (
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// DateRange covers whole calendar days from From to To, both inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange reads YYYY-MM-DD bounds in loc. When required is false and
// both bounds are empty, the zero range is returned.
func ParseDateRange(startRaw, endRaw string, loc *time.Location, required bool) (DateRange, error) {
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" && !required {
		return DateRange{}, nil
	}
	if startRaw == "" || endRaw == "" {
		return DateRange{}, ErrBadRequest("startDate and endDate are required")
	}
	if loc == nil {
		loc = time.UTC
	}
	from, err := time.ParseInLocation(DateLayout, startRaw, loc)
	if err != nil {
		return DateRange{}, ErrBadRequest("Invalid startDate, expected YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(DateLayout, endRaw, loc)
	if err != nil {
		return DateRange{}, ErrBadRequest("Invalid endDate, expected YYYY-MM-DD")
	}
	if from.After(to) {
		return DateRange{}, ErrBadRequest("startDate must not be after endDate")
	}
	return DateRange{From: from, To: to}, nil
}

func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Bounds returns the half-open interval [start, end) covering the range.
func (r DateRange) Bounds() (time.Time, time.Time) {
	return r.From, r.To.AddDate(0, 0, 1)
}

func (r DateRange) Label() string {
	return r.From.Format(DateLayout) + "_" + r.To.Format(DateLayout)
}
