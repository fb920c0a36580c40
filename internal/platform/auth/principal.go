package auth

import (
	"errors"

	"github.com/google/uuid"
)

// Role is the kind of account acting on the system.
type Role string

const (
	RolePatient   Role = "patient"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
)

var ErrUnknownRole = errors.New("unknown role")

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleTherapist, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated actor. ProfileID is the patient or
// therapist profile owned by the user; it is uuid.Nil for admins.
type Principal struct {
	UserID    uuid.UUID
	Role      Role
	ProfileID uuid.UUID
	Email     string
}

func (p Principal) IsPatient() bool   { return p.Role == RolePatient }
func (p Principal) IsTherapist() bool { return p.Role == RoleTherapist }
func (p Principal) IsAdmin() bool     { return p.Role == RoleAdmin }
