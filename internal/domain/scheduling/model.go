package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Date is a calendar day. Availability dates are interpreted in UTC.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the UTC calendar day of t.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// Midnight returns the start of the day in UTC.
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At combines the day with a time of day.
func (d Date) At(t TimeOfDay) time.Time {
	return d.Midnight().Add(time.Duration(t))
}

func (d Date) Weekday() time.Weekday { return d.Midnight().Weekday() }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string { return d.Midnight().Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is the offset from midnight, in the range [0, 24h].
type TimeOfDay time.Duration

// TimeOfDayOf returns the UTC wall-clock time of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	t = t.UTC()
	return TimeOfDay(t.Sub(DateOf(t).Midnight()))
}

// ParseTimeOfDay accepts "15:04" and "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("time %q: expected HH:MM or HH:MM:SS", s)
}

// HourMinute builds a TimeOfDay from a wall-clock hour and minute.
func HourMinute(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// Microseconds matches the Postgres TIME representation.
func (t TimeOfDay) Microseconds() int64 { return time.Duration(t).Microseconds() }

func TimeOfDayFromMicros(us int64) TimeOfDay {
	return TimeOfDay(time.Duration(us) * time.Microsecond)
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseWeekday resolves an English day name, ignoring case.
func ParseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(s)) {
			return d, true
		}
	}
	return 0, false
}

// Availability maps to the therapist_availability table: an open window on
// one date.
type Availability struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TherapistID uuid.UUID `db:"therapist_id" json:"therapist"`
	Date        Date      `db:"date" json:"date"`
	StartTime   TimeOfDay `db:"start_time" json:"start_time"`
	EndTime     TimeOfDay `db:"end_time" json:"end_time"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (a Availability) MarshalJSON() ([]byte, error) {
	type plain Availability
	return json.Marshal(struct {
		plain
		DayOfWeek string `json:"day_of_week"`
	}{plain(a), a.Date.Weekday().String()})
}

func (a *Availability) Start() time.Time { return a.Date.At(a.StartTime) }
func (a *Availability) End() time.Time   { return a.Date.At(a.EndTime) }

// Overlaps reports whether two slots of the same therapist share any part of
// the same day. Touching slots do not overlap.
func (a *Availability) Overlaps(o *Availability) bool {
	return a.TherapistID == o.TherapistID && a.Date == o.Date &&
		a.StartTime < o.EndTime && o.StartTime < a.EndTime
}

// Covers reports whether [start, start+d) fits inside the slot. A window that
// runs past midnight never fits.
func (a *Availability) Covers(start time.Time, d time.Duration) bool {
	start = start.UTC()
	if DateOf(start) != a.Date {
		return false
	}
	from := TimeOfDayOf(start)
	to := from + TimeOfDay(d)
	if to > TimeOfDay(24*time.Hour) {
		return false
	}
	return a.StartTime <= from && to <= a.EndTime
}

// AvailabilityFilter narrows an availability listing. Nil fields match
// everything; time bounds are inclusive.
type AvailabilityFilter struct {
	TherapistID *uuid.UUID
	DayOfWeek   *time.Weekday
	StartAfter  *TimeOfDay
	StartBefore *TimeOfDay
	EndAfter    *TimeOfDay
	EndBefore   *TimeOfDay
}

func (f AvailabilityFilter) Match(a *Availability) bool {
	switch {
	case f.TherapistID != nil && a.TherapistID != *f.TherapistID:
		return false
	case f.DayOfWeek != nil && a.Date.Weekday() != *f.DayOfWeek:
		return false
	case f.StartAfter != nil && a.StartTime < *f.StartAfter:
		return false
	case f.StartBefore != nil && a.StartTime > *f.StartBefore:
		return false
	case f.EndAfter != nil && a.EndTime < *f.EndAfter:
		return false
	case f.EndBefore != nil && a.EndTime > *f.EndBefore:
		return false
	}
	return true
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCanceled  AppointmentStatus = "canceled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

type Platform string

const (
	PlatformGoogleMeet Platform = "google_meet"
	PlatformZoom       Platform = "zoom"
	PlatformSkype      Platform = "skype"
	PlatformOther      Platform = "other"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformGoogleMeet, PlatformZoom, PlatformSkype, PlatformOther:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

const DefaultDuration = 60

// Appointment maps to the appointment table. TherapistID is copied from the
// panel at booking time; PatientID is joined in on read.
type Appointment struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	PanelID            uuid.UUID         `db:"panel_id" json:"panel"`
	TherapistID        uuid.UUID         `db:"therapist_id" json:"therapist"`
	PatientID          uuid.UUID         `db:"-" json:"patient"`
	ScheduledTime      time.Time         `db:"scheduled_time" json:"scheduled_time"`
	DurationMinutes    int               `db:"duration_minutes" json:"duration"`
	EndsAt             time.Time         `db:"ends_at" json:"ends_at"`
	Status             AppointmentStatus `db:"status" json:"status"`
	MeetingPlatform    Platform          `db:"meeting_platform" json:"meeting_platform"`
	MeetingLink        string            `db:"meeting_link" json:"meeting_link"`
	PaymentStatus      PaymentStatus     `db:"payment_status" json:"payment_status"`
	CancellationReason string            `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CanceledBy         *uuid.UUID        `db:"canceled_by" json:"canceled_by,omitempty"`
	RescheduledFrom    *uuid.UUID        `db:"rescheduled_from" json:"rescheduled_from,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// Overlaps reports whether the appointment intersects [from, to).
func (a *Appointment) Overlaps(from, to time.Time) bool {
	return a.ScheduledTime.Before(to) && from.Before(a.EndsAt)
}

// AppointmentFilter narrows a therapist's appointment listing. With Status
// scheduled only appointments starting at or after Now are returned.
type AppointmentFilter struct {
	Status *AppointmentStatus
	Now    time.Time
}
