package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AvailabilityRepository interface {
	// LockTherapist serializes availability and appointment writes for one
	// therapist until the surrounding transaction ends.
	LockTherapist(ctx context.Context, therapistID uuid.UUID) error

	Create(ctx context.Context, a *Availability) error
	GetByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	Update(ctx context.Context, a *Availability) error
	Delete(ctx context.Context, id uuid.UUID) error

	ListForDay(ctx context.Context, therapistID uuid.UUID, day Date) ([]*Availability, error)
	Exists(ctx context.Context, therapistID uuid.UUID) (bool, error)
	Search(ctx context.Context, f AvailabilityFilter, limit, offset int) ([]*Availability, int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error

	// ScheduledBetween returns the therapist's scheduled appointments that
	// intersect [from, to).
	ScheduledBetween(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	// CountRescheduled counts appointments on the panel created by a reschedule.
	CountRescheduled(ctx context.Context, panelID uuid.UUID) (int, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByTherapist(ctx context.Context, therapistID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)

	// CompleteElapsed marks scheduled appointments starting at or before
	// cutoff as completed and returns how many changed.
	CompleteElapsed(ctx context.Context, cutoff time.Time) (int64, error)
}
