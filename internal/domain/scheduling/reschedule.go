package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/notification"
)

const (
	ActionReschedule = "reschedule"
	ActionCancel     = "cancel"
)

// UpdateRequest is the body of a patient's appointment update. Action picks
// which of the other fields is read.
type UpdateRequest struct {
	Action             string     `json:"action"`
	NewScheduledTime   *time.Time `json:"new_scheduled_time"`
	CancellationReason string     `json:"cancellation_reason"`
}

type CancelRequest struct {
	CancellationReason string `json:"cancellation_reason"`
}

// UpdateResult wraps the appointment a patient update produced. For a
// reschedule it is the new appointment.
type UpdateResult struct {
	Message     string       `json:"message"`
	Appointment *Appointment `json:"appointment"`
}

// UpdateAppointment dispatches a patient's reschedule or cancel request.
func (s *Service) UpdateAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, req UpdateRequest) (*UpdateResult, error) {
	var (
		a   *Appointment
		err error
	)
	switch strings.TrimSpace(req.Action) {
	case "":
		return nil, apperr.InvalidField("action", "This field is required and must be 'reschedule' or 'cancel'.")
	case ActionReschedule:
		if req.NewScheduledTime == nil || req.NewScheduledTime.IsZero() {
			return nil, apperr.InvalidField("new_scheduled_time", "This field is required.")
		}
		a, err = s.Reschedule(ctx, p, id, *req.NewScheduledTime)
	case ActionCancel:
		a, err = s.Cancel(ctx, p, id, req.CancellationReason)
	default:
		return nil, apperr.InvalidField("action", "Invalid action. Use 'reschedule' or 'cancel'.")
	}
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Message: "Appointment updated successfully.", Appointment: a}, nil
}

// lockOwned loads an appointment the caller takes part in, takes the
// therapist lock and re-reads it. Must run inside a transaction.
func (s *Service) lockOwned(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !participates(p, a) {
		return nil, apperr.NotFound("appointment")
	}
	if err := s.slots.LockTherapist(ctx, a.TherapistID); err != nil {
		return nil, err
	}
	return s.appts.GetByID(ctx, id)
}

// Reschedule moves a patient's appointment by booking a replacement linked to
// it and canceling the original. It returns the replacement.
func (s *Service) Reschedule(ctx context.Context, p auth.Principal, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	if !p.IsPatient() {
		return nil, apperr.Forbidden("Only patients can reschedule appointments.")
	}
	newTime = newTime.UTC()

	var old, next *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.lockOwned(ctx, p, id)
		if err != nil {
			return err
		}
		if a.Status != StatusScheduled {
			return apperr.Invalid(msgOnlyScheduledResch)
		}
		now := s.now()
		if a.ScheduledTime.Before(now.Add(s.policy.LeadTime)) {
			return apperr.Invalid(fmt.Sprintf("You can only reschedule appointments that are at least %s away.", s.leadTimeText()))
		}
		n, err := s.appts.CountRescheduled(ctx, a.PanelID)
		if err != nil {
			return err
		}
		if n >= s.policy.RescheduleLimit {
			return apperr.Invalid(msgRescheduleLimit)
		}
		if newTime.Before(now.Add(s.policy.LeadTime)) {
			return apperr.Invalid(fmt.Sprintf("Appointments must be rescheduled at least %s in advance.", s.leadTimeText()))
		}
		ok, err := s.coveredByAvailability(ctx, a.TherapistID, newTime, a.Duration())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Invalid(msgNotAvailable)
		}
		busy, err := s.conflicting(ctx, a.TherapistID, newTime, a.Duration(), a.ID)
		if err != nil {
			return err
		}
		if busy {
			return apperr.Invalid(msgAppointmentConflict)
		}

		// The old appointment leaves the scheduled set first so the replacement may
		// overlap its old window.
		a.Status = StatusCanceled
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		from := a.ID
		next = &Appointment{
			PanelID:         a.PanelID,
			TherapistID:     a.TherapistID,
			PatientID:       a.PatientID,
			ScheduledTime:   newTime,
			DurationMinutes: a.DurationMinutes,
			Status:          StatusScheduled,
			MeetingPlatform: a.MeetingPlatform,
			MeetingLink:     a.MeetingLink,
			PaymentStatus:   a.PaymentStatus,
			RescheduledFrom: &from,
		}
		next.EndsAt = next.ScheduledTime.Add(next.Duration())
		if err := s.appts.Create(ctx, next); err != nil {
			return err
		}
		old = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Rescheduled()
	s.logger.Info().Str("appointment_id", next.ID.String()).Str("rescheduled_from", old.ID.String()).
		Time("scheduled_time", next.ScheduledTime).Msg("appointment rescheduled")
	afterCommit(ctx, []func(context.Context){s.notifyBoth(next, notification.TplAppointmentRescheduled, map[string]string{
		"old_date": old.ScheduledTime.Format("2006-01-02"),
		"old_time": old.ScheduledTime.Format("15:04"),
	})})
	return next, nil
}

// Cancel cancels a patient's own appointment.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	if !p.IsPatient() {
		return nil, apperr.Forbidden("Only patients can cancel appointments here.")
	}
	return s.cancel(ctx, p, id, reason)
}

// TherapistCancel cancels an appointment of the calling therapist.
func (s *Service) TherapistCancel(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	if !p.IsTherapist() {
		return nil, apperr.Forbidden("Only therapists can cancel appointments here.")
	}
	return s.cancel(ctx, p, id, reason)
}

func (s *Service) cancel(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.InvalidField("cancellation_reason", "This field is required.")
	}

	var a *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.lockOwned(ctx, p, id); err != nil {
			return err
		}
		if a.Status != StatusScheduled {
			return apperr.Invalid(msgOnlyScheduledCancel)
		}
		if a.ScheduledTime.Before(s.now().Add(s.policy.LeadTime)) {
			return apperr.Invalid(fmt.Sprintf("You can only cancel appointments that are at least %s away.", s.leadTimeText()))
		}
		by := p.UserID
		a.Status = StatusCanceled
		a.CancellationReason = reason
		a.CanceledBy = &by
		return s.appts.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Canceled(string(p.Role))
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("role", string(p.Role)).Msg("appointment canceled")
	afterCommit(ctx, []func(context.Context){
		s.refund(a),
		s.notifyBoth(a, notification.TplAppointmentCanceled, map[string]string{"reason": reason}),
	})
	return a, nil
}

// refund is a hook for paid cancellations. No payment provider is wired, so
// it only records the request.
func (s *Service) refund(a *Appointment) func(context.Context) {
	return func(context.Context) {
		if a.PaymentStatus != PaymentPaid {
			return
		}
		s.logger.Info().Str("appointment_id", a.ID.String()).Msg("refund requested")
	}
}
