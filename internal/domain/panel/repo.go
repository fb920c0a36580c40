package panel

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// LockPatient serializes panel writes for one patient until the
	// surrounding transaction ends.
	LockPatient(ctx context.Context, patientID uuid.UUID) error

	Create(ctx context.Context, p *Panel) error
	GetByID(ctx context.Context, id uuid.UUID) (*Panel, error)
	Update(ctx context.Context, p *Panel) error

	// HasActive reports whether the patient has an active panel for the
	// issue other than excludeID. A non-nil therapistID narrows the match to
	// panels with that therapist.
	HasActive(ctx context.Context, patientID, issueID uuid.UUID, therapistID *uuid.UUID, excludeID uuid.UUID) (bool, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Panel, int, error)
	ListByTherapist(ctx context.Context, therapistID uuid.UUID, limit, offset int) ([]*Panel, int, error)

	Participants(ctx context.Context, panelID uuid.UUID) (*Participants, error)
}
