package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therapyconnect/api/internal/domain/panel"
	"github.com/therapyconnect/api/internal/platform/clock"
	"github.com/therapyconnect/api/internal/platform/db"
	"github.com/therapyconnect/api/internal/platform/meeting"
	"github.com/therapyconnect/api/internal/platform/metrics"
)

const (
	msgStartBeforeEnd      = "Start time must be before end time."
	msgSlotInPast          = "Availability must be set for a future date and time."
	msgSlotOverlap         = "Overlapping availability time slots are not allowed."
	msgSlotFieldsRequired  = "Date, start time, and end time are required."
	msgSlotHasBookings     = "This availability has upcoming appointments and cannot be deleted."
	msgNotAvailable        = "Therapist is not available at this time."
	msgAppointmentConflict = "Therapist already has an appointment at this time."
	msgNoTherapist         = "No therapist assigned to this panel."
	msgInvalidPanel        = "Invalid therapy panel."
	msgRescheduleLimit     = "You have reached the rescheduling limit for this therapy panel."
	msgOnlyScheduledResch  = "Only scheduled appointments can be rescheduled."
	msgOnlyScheduledCancel = "Only scheduled appointments can be canceled."
)

// PanelLookup reads therapy panels. panel.Repository satisfies it.
type PanelLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*panel.Panel, error)
	Participants(ctx context.Context, panelID uuid.UUID) (*panel.Participants, error)
}

// Notifier queues an email. notification.Dispatcher satisfies it.
type Notifier interface {
	Notify(templateID, to string, data map[string]string)
}

// Policy holds the booking rules that vary by deployment.
type Policy struct {
	// LeadTime is the minimum gap between now and the start of an
	// appointment being booked, moved or canceled.
	LeadTime time.Duration
	// RescheduleLimit caps reschedules per panel.
	RescheduleLimit int
	// SweepGrace is how long after its start an appointment is completed.
	SweepGrace time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		LeadTime:        6 * time.Hour,
		RescheduleLimit: 2,
		SweepGrace:      time.Hour,
	}
}

// Deps are the collaborators of a Service. Notifier and Metrics may be nil.
type Deps struct {
	Slots        AvailabilityRepository
	Appointments AppointmentRepository
	Panels       PanelLookup
	Tx           db.TxRunner
	Clock        clock.Clock
	Links        meeting.Generator
	Notifier     Notifier
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

type Service struct {
	slots    AvailabilityRepository
	appts    AppointmentRepository
	panels   PanelLookup
	tx       db.TxRunner
	clock    clock.Clock
	links    meeting.Generator
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	policy   Policy
}

func NewService(d Deps, policy Policy) *Service {
	if d.Tx == nil {
		d.Tx = db.NoTx{}
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	return &Service{
		slots:    d.Slots,
		appts:    d.Appointments,
		panels:   d.Panels,
		tx:       d.Tx,
		clock:    d.Clock,
		links:    d.Links,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger.With().Str("component", "scheduling").Logger(),
		policy:   policy,
	}
}

func (s *Service) Policy() Policy { return s.policy }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// leadTimeText renders the lead time for user-facing messages.
func (s *Service) leadTimeText() string {
	d := s.policy.LeadTime
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
	return d.String()
}

// coveredByAvailability reports whether one of the therapist's slots on the
// start's date fits the whole window.
func (s *Service) coveredByAvailability(ctx context.Context, therapistID uuid.UUID, start time.Time, d time.Duration) (bool, error) {
	slots, err := s.slots.ListForDay(ctx, therapistID, DateOf(start))
	if err != nil {
		return false, err
	}
	for _, sl := range slots {
		if sl.Covers(start, d) {
			return true, nil
		}
	}
	return false, nil
}

// conflicting returns whether any scheduled appointment of the therapist other
// than exclude intersects [start, start+d).
func (s *Service) conflicting(ctx context.Context, therapistID uuid.UUID, start time.Time, d time.Duration, exclude uuid.UUID) (bool, error) {
	end := start.Add(d)
	existing, err := s.appts.ScheduledBetween(ctx, therapistID, start, end)
	if err != nil {
		return false, err
	}
	for _, a := range existing {
		if a.ID != exclude && a.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

// afterCommit runs deferred side effects detached from the request's
// cancellation.
func afterCommit(ctx context.Context, events []func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		ev(ctx)
	}
}
