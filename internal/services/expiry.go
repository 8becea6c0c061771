package services

import (
	"strings"
	"time"

	"sicet-backend-go/internal/models"
)

// TimeSlot is the completion window attached to a todolist.
type TimeSlot struct {
	Type  string
	Start string
	End   string
}

func SlotOf(t models.Todolist) TimeSlot {
	slot := TimeSlot{Type: t.TimeSlotType}
	if t.TimeSlotStart != nil {
		slot.Start = *t.TimeSlotStart
	}
	if t.TimeSlotEnd != nil {
		slot.End = *t.TimeSlotEnd
	}
	return slot
}

// IsTodolistExpired reports whether now is past the completion window of a
// todolist scheduled at scheduled. Day boundaries are taken in scheduled's location.
func IsTodolistExpired(scheduled time.Time, slot TimeSlot, now time.Time) bool {
	return now.After(WindowEnd(scheduled, slot))
}

// WindowEnd returns the last instant at which the todolist is still on time.
func WindowEnd(scheduled time.Time, slot TimeSlot) time.Time {
	year, month, day := scheduled.Date()
	loc := scheduled.Location()
	endOfDay := time.Date(year, month, day, 23, 59, 59, int(time.Second-time.Nanosecond), loc)

	if strings.ToLower(strings.TrimSpace(slot.Type)) != models.SlotCustom {
		return endOfDay
	}
	end, ok := parseClock(slot.End)
	if !ok {
		return endOfDay
	}
	if start, ok := parseClock(slot.Start); ok && end.before(start) {
		day++
	}
	return time.Date(year, month, day, end.hour, end.min, end.sec, 0, loc)
}

// IsTodolistOverdue applies the expiry rule to open todolists only.
func IsTodolistOverdue(t models.Todolist, now time.Time) bool {
	if t.Status == models.TodolistCompleted {
		return false
	}
	return IsTodolistExpired(t.ScheduledExecution, SlotOf(t), now)
}

// wallClock is a time of day, combined with a date in the scheduled location.
type wallClock struct {
	hour, min, sec int
}

func (c wallClock) before(other wallClock) bool {
	return c.hour*3600+c.min*60+c.sec < other.hour*3600+other.min*60+other.sec
}

// parseClock reads "HH:MM" or "HH:MM:SS".
func parseClock(raw string) (wallClock, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return wallClock{}, false
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			return wallClock{hour: parsed.Hour(), min: parsed.Minute(), sec: parsed.Second()}, true
		}
	}
	return wallClock{}, false
}

// ValidateTimeSlot normalizes the slot type and checks custom boundaries.
func ValidateTimeSlot(slotType string, start, end *string) (string, error) {
	slotType = strings.ToLower(strings.TrimSpace(slotType))
	switch slotType {
	case "", models.SlotStandard:
		return models.SlotStandard, nil
	case models.SlotCustom:
		if start == nil || end == nil {
			return "", ErrBadRequest("Custom time slots need a start and an end")
		}
		if _, ok := parseClock(*start); !ok {
			return "", ErrBadRequest("Invalid time slot start")
		}
		if _, ok := parseClock(*end); !ok {
			return "", ErrBadRequest("Invalid time slot end")
		}
		return models.SlotCustom, nil
	default:
		return "", ErrBadRequest("Invalid time slot type")
	}
}

// Clock carries the application timezone used to read scheduled timestamps.
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{Location: loc, Now: time.Now}
}

func (c Clock) Current() time.Time {
	if c.Now == nil {
		return time.Now().In(c.loc())
	}
	return c.Now().In(c.loc())
}

// Overdue evaluates the window of t in the application timezone.
func (c Clock) Overdue(t models.Todolist, now time.Time) bool {
	t.ScheduledExecution = t.ScheduledExecution.In(c.loc())
	return IsTodolistOverdue(t, now)
}

func (c Clock) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
