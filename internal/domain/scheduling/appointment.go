package scheduling

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/therapyconnect/api/internal/domain/panel"
	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/notification"
)

type BookRequest struct {
	Panel           uuid.UUID `json:"panel" validate:"required"`
	ScheduledTime   time.Time `json:"scheduled_time" validate:"required"`
	Duration        int       `json:"duration" validate:"omitempty,min=1,max=480"`
	MeetingPlatform Platform  `json:"meeting_platform"`
}

func (r *BookRequest) normalize() error {
	if r.Panel == uuid.Nil {
		return apperr.InvalidField("panel", "This field is required.")
	}
	if r.ScheduledTime.IsZero() {
		return apperr.InvalidField("scheduled_time", "This field is required.")
	}
	if r.Duration == 0 {
		r.Duration = DefaultDuration
	}
	if r.Duration < 0 {
		return apperr.InvalidField("duration", "Ensure this value is greater than or equal to 1.")
	}
	if r.MeetingPlatform == "" {
		r.MeetingPlatform = PlatformZoom
	}
	if !r.MeetingPlatform.Valid() {
		return apperr.InvalidField("meeting_platform", strconv.Quote(string(r.MeetingPlatform))+" is not a valid choice.")
	}
	r.ScheduledTime = r.ScheduledTime.UTC()
	return nil
}

// bookablePanel loads the patient's panel and checks it can take bookings.
// Paused and completed panels stay bookable once a therapist is assigned.
func (s *Service) bookablePanel(ctx context.Context, p auth.Principal, panelID uuid.UUID) (*panel.Panel, error) {
	pn, err := s.panels.GetByID(ctx, panelID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.InvalidField("panel", msgInvalidPanel)
		}
		return nil, err
	}
	if pn.PatientID != p.ProfileID {
		return nil, apperr.InvalidField("panel", msgInvalidPanel)
	}
	if !pn.HasTherapist() {
		return nil, apperr.Invalid(msgNoTherapist)
	}
	return pn, nil
}

// Book creates a scheduled appointment on one of the patient's panels. The
// therapist's slot must cover the whole session and no other scheduled
// session of the therapist may intersect it.
func (s *Service) Book(ctx context.Context, p auth.Principal, req BookRequest) (*Appointment, error) {
	if !p.IsPatient() {
		return nil, apperr.Forbidden("Only patients can book appointments.")
	}
	a, err := s.book(ctx, p, req)
	switch {
	case err == nil:
		s.metrics.Booking("created")
	case apperr.IsValidation(err) || apperr.IsNotFound(err):
		s.metrics.Booking("rejected")
	default:
		s.metrics.Booking("error")
		s.logger.Error().Err(err).Str("panel_id", req.Panel.String()).Msg("booking failed")
	}
	return a, err
}

func (s *Service) book(ctx context.Context, p auth.Principal, req BookRequest) (*Appointment, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	pn, err := s.bookablePanel(ctx, p, req.Panel)
	if err != nil {
		return nil, err
	}
	if req.ScheduledTime.Before(s.now().Add(s.policy.LeadTime)) {
		return nil, apperr.Invalid(fmt.Sprintf("Appointments must be scheduled at least %s in advance.", s.leadTimeText()))
	}

	a := &Appointment{
		PanelID:         pn.ID,
		TherapistID:     *pn.TherapistID,
		PatientID:       pn.PatientID,
		ScheduledTime:   req.ScheduledTime,
		DurationMinutes: req.Duration,
		Status:          StatusScheduled,
		MeetingPlatform: req.MeetingPlatform,
		PaymentStatus:   PaymentPending,
	}
	a.EndsAt = a.ScheduledTime.Add(a.Duration())

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockTherapist(ctx, a.TherapistID); err != nil {
			return err
		}
		ok, err := s.coveredByAvailability(ctx, a.TherapistID, a.ScheduledTime, a.Duration())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Invalid(msgNotAvailable)
		}
		busy, err := s.conflicting(ctx, a.TherapistID, a.ScheduledTime, a.Duration(), uuid.Nil)
		if err != nil {
			return err
		}
		if busy {
			return apperr.Invalid(msgAppointmentConflict)
		}
		link, err := s.links.Generate(ctx, pn.ID, a.ScheduledTime)
		if err != nil {
			return fmt.Errorf("generate meeting link: %w", err)
		}
		a.MeetingLink = link
		return s.appts.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("panel_id", pn.ID.String()).
		Time("scheduled_time", a.ScheduledTime).Int("duration", a.DurationMinutes).Msg("appointment booked")
	afterCommit(ctx, []func(context.Context){s.notifyBoth(a, notification.TplAppointmentBooked, nil)})
	return a, nil
}

// GetAppointment returns an appointment to its patient or its therapist.
func (s *Service) GetAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !participates(p, a) {
		return nil, apperr.NotFound("appointment")
	}
	return a, nil
}

func participates(p auth.Principal, a *Appointment) bool {
	switch {
	case p.IsPatient():
		return a.PatientID == p.ProfileID
	case p.IsTherapist():
		return a.TherapistID == p.ProfileID
	}
	return false
}

// ListPatientAppointments returns the patient's scheduled appointments,
// soonest first.
func (s *Service) ListPatientAppointments(ctx context.Context, p auth.Principal, limit, offset int) ([]*Appointment, int, error) {
	if !p.IsPatient() {
		return nil, 0, apperr.Forbidden("Only patients can view their scheduled appointments.")
	}
	return s.appts.ListByPatient(ctx, p.ProfileID, limit, offset)
}

// ListTherapistAppointments returns the therapist's appointments. A nil
// status lists everything; scheduled lists upcoming sessions soonest first;
// completed and canceled list the most recent first.
func (s *Service) ListTherapistAppointments(ctx context.Context, p auth.Principal, status *AppointmentStatus, limit, offset int) ([]*Appointment, int, error) {
	if !p.IsTherapist() {
		return nil, 0, apperr.Forbidden("Only therapists can view their appointments.")
	}
	if status != nil && !status.Valid() {
		return nil, 0, apperr.InvalidField("status", "Must be one of: scheduled completed canceled.")
	}
	return s.appts.ListByTherapist(ctx, p.ProfileID, AppointmentFilter{Status: status, Now: s.now()}, limit, offset)
}

// notifyBoth emails the patient and the therapist of the appointment's panel.
func (s *Service) notifyBoth(a *Appointment, templateID string, extra map[string]string) func(context.Context) {
	return func(ctx context.Context) {
		if s.notifier == nil {
			return
		}
		who, err := s.panels.Participants(ctx, a.PanelID)
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("participants lookup failed")
			return
		}
		for _, to := range []struct{ name, email string }{
			{who.PatientName, who.PatientEmail},
			{who.TherapistName, who.TherapistEmail},
		} {
			if to.email == "" {
				continue
			}
			data := map[string]string{
				"name":     to.name,
				"date":     a.ScheduledTime.Format("2006-01-02"),
				"time":     a.ScheduledTime.Format("15:04"),
				"duration": strconv.Itoa(a.DurationMinutes),
				"platform": string(a.MeetingPlatform),
				"link":     a.MeetingLink,
			}
			for k, v := range extra {
				data[k] = v
			}
			s.notifier.Notify(templateID, to.email, data)
		}
	}
}
