package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type ProfileRepository interface {
	CreatePatient(ctx context.Context, p *PatientProfile) error
	CreateTherapist(ctx context.Context, p *TherapistProfile) error
	PatientByUser(ctx context.Context, userID uuid.UUID) (*PatientProfile, error)
	PatientByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error)
	UpdatePatient(ctx context.Context, p *PatientProfile) error
	ListPatients(ctx context.Context, limit, offset int) ([]*PatientProfile, int, error)
	TherapistByUser(ctx context.Context, userID uuid.UUID) (*TherapistProfile, error)
	TherapistByID(ctx context.Context, id uuid.UUID) (*TherapistProfile, error)
	UpdateTherapist(ctx context.Context, p *TherapistProfile) error

	// Specialties
	SetSpecialties(ctx context.Context, therapistID uuid.UUID, issueIDs []uuid.UUID) error
	ListTherapists(ctx context.Context, issueID *uuid.UUID, limit, offset int) ([]*TherapistProfile, int, error)
}

type IssueRepository interface {
	Create(ctx context.Context, i *Issue) error
	GetByID(ctx context.Context, id uuid.UUID) (*Issue, error)
	List(ctx context.Context, limit, offset int) ([]*Issue, int, error)
	CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)
}
