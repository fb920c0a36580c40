package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
)

// AvailabilityRequest is the body of availability create and update calls.
// On update, absent fields keep their stored value.
type AvailabilityRequest struct {
	Date      *string `json:"date"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

func (r AvailabilityRequest) empty() bool {
	return r.Date == nil && r.StartTime == nil && r.EndTime == nil
}

// apply parses the supplied fields into a, collecting one message per bad
// field.
func (r AvailabilityRequest) apply(a *Availability) error {
	verr := &apperr.ValidationError{}
	if r.Date != nil {
		d, err := ParseDate(*r.Date)
		if err != nil {
			verr.Add("date", "Date has wrong format. Use one of these formats instead: YYYY-MM-DD.")
		}
		a.Date = d
	}
	if r.StartTime != nil {
		t, err := ParseTimeOfDay(*r.StartTime)
		if err != nil {
			verr.Add("start_time", "Time has wrong format. Use one of these formats instead: hh:mm[:ss].")
		}
		a.StartTime = t
	}
	if r.EndTime != nil {
		t, err := ParseTimeOfDay(*r.EndTime)
		if err != nil {
			verr.Add("end_time", "Time has wrong format. Use one of these formats instead: hh:mm[:ss].")
		}
		a.EndTime = t
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func requireTherapist(p auth.Principal) error {
	if !p.IsTherapist() {
		return apperr.Forbidden("Only therapists can manage availability.")
	}
	return nil
}

// checkSlot applies the rules that need no database access.
func (s *Service) checkSlot(a *Availability) error {
	if a.StartTime >= a.EndTime {
		return apperr.Invalid(msgStartBeforeEnd)
	}
	if !a.Start().After(s.now()) {
		return apperr.Invalid(msgSlotInPast)
	}
	return nil
}

// checkOverlap must run after LockTherapist.
func (s *Service) checkOverlap(ctx context.Context, a *Availability) error {
	sameDay, err := s.slots.ListForDay(ctx, a.TherapistID, a.Date)
	if err != nil {
		return err
	}
	for _, o := range sameDay {
		if o.ID != a.ID && a.Overlaps(o) {
			return apperr.Invalid(msgSlotOverlap)
		}
	}
	return nil
}

// CreateAvailability publishes a new slot for the calling therapist.
func (s *Service) CreateAvailability(ctx context.Context, p auth.Principal, req AvailabilityRequest) (*Availability, error) {
	if err := requireTherapist(p); err != nil {
		return nil, err
	}
	if req.Date == nil || req.StartTime == nil || req.EndTime == nil {
		return nil, apperr.Invalid(msgSlotFieldsRequired)
	}
	a := &Availability{TherapistID: p.ProfileID}
	if err := req.apply(a); err != nil {
		return nil, err
	}
	if err := s.checkSlot(a); err != nil {
		return nil, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockTherapist(ctx, a.TherapistID); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, a); err != nil {
			return err
		}
		return s.slots.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("availability_id", a.ID.String()).Str("date", a.Date.String()).
		Stringer("start", a.StartTime).Stringer("end", a.EndTime).Msg("availability created")
	return a, nil
}

// ownSlot loads a slot of the calling therapist. Other therapists' slots are
// reported as missing.
func (s *Service) ownSlot(ctx context.Context, p auth.Principal, id uuid.UUID) (*Availability, error) {
	a, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.TherapistID != p.ProfileID {
		return nil, apperr.NotFound("availability")
	}
	return a, nil
}

func (s *Service) GetAvailability(ctx context.Context, p auth.Principal, id uuid.UUID) (*Availability, error) {
	if err := requireTherapist(p); err != nil {
		return nil, err
	}
	return s.ownSlot(ctx, p, id)
}

// UpdateAvailability changes any of date, start and end of an owned slot.
// The slot is excluded from its own overlap check.
func (s *Service) UpdateAvailability(ctx context.Context, p auth.Principal, id uuid.UUID, req AvailabilityRequest) (*Availability, error) {
	if err := requireTherapist(p); err != nil {
		return nil, err
	}
	if req.empty() {
		return nil, apperr.Invalid(msgSlotFieldsRequired)
	}

	var a *Availability
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockTherapist(ctx, p.ProfileID); err != nil {
			return err
		}
		current, err := s.ownSlot(ctx, p, id)
		if err != nil {
			return err
		}
		next := *current
		if err := req.apply(&next); err != nil {
			return err
		}
		if err := s.checkSlot(&next); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, &next); err != nil {
			return err
		}
		if err := s.slots.Update(ctx, &next); err != nil {
			return err
		}
		a = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("availability_id", a.ID.String()).Msg("availability updated")
	return a, nil
}

// DeleteAvailability removes an owned slot unless an upcoming scheduled
// appointment falls inside it.
func (s *Service) DeleteAvailability(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	if err := requireTherapist(p); err != nil {
		return err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockTherapist(ctx, p.ProfileID); err != nil {
			return err
		}
		a, err := s.ownSlot(ctx, p, id)
		if err != nil {
			return err
		}
		booked, err := s.appts.ScheduledBetween(ctx, a.TherapistID, a.Start(), a.End())
		if err != nil {
			return err
		}
		now := s.now()
		for _, b := range booked {
			if b.ScheduledTime.After(now) {
				return apperr.Invalid(msgSlotHasBookings)
			}
		}
		return s.slots.Delete(ctx, a.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("availability_id", id.String()).Msg("availability deleted")
	return nil
}

// ListAvailability returns slots of every therapist matching f, ordered by
// date then start time.
func (s *Service) ListAvailability(ctx context.Context, f AvailabilityFilter, limit, offset int) ([]*Availability, int, error) {
	return s.slots.Search(ctx, f, limit, offset)
}

// HasAvailability reports whether the therapist has published any slot.
func (s *Service) HasAvailability(ctx context.Context, therapistID uuid.UUID) (bool, error) {
	return s.slots.Exists(ctx, therapistID)
}
