package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/therapyconnect/api/internal/platform/auth"
)

// User maps to the users table.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         auth.Role `db:"role" json:"role"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// PatientProfile maps to the patient_profile table. The name and email are
// joined in from users on read. ConversationSummary is written by
// administrators only.
type PatientProfile struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	UserID              uuid.UUID `db:"user_id" json:"user_id"`
	FirstName           string    `db:"-" json:"first_name"`
	LastName            string    `db:"-" json:"last_name"`
	Email               string    `db:"-" json:"email"`
	ProfileImage        string    `db:"profile_image" json:"profile_image"`
	ConversationSummary string    `db:"conversation_summary" json:"conversation_summary"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// TherapistProfile maps to the therapist_profile table. Name and Specialties
// are joined in on read.
type TherapistProfile struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	Name           string    `db:"-" json:"name"`
	Bio            string    `db:"bio" json:"bio"`
	Qualifications string    `db:"qualifications" json:"qualifications"`
	LicenseNumber  string    `db:"license_number" json:"license_number,omitempty"`
	TimeZone       string    `db:"time_zone" json:"time_zone"`
	Specialties    []*Issue  `db:"-" json:"specialties"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Treats reports whether issueID is one of the therapist's specialties.
func (t *TherapistProfile) Treats(issueID uuid.UUID) bool {
	for _, s := range t.Specialties {
		if s.ID == issueID {
			return true
		}
	}
	return false
}

// Issue maps to the psychological_issue table.
type Issue struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TherapistSummary is the {id, name} pair shown to patients choosing a
// therapist.
type TherapistSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Account is a user together with whichever profile its role owns.
type Account struct {
	User      *User             `json:"user"`
	Patient   *PatientProfile   `json:"patient_profile,omitempty"`
	Therapist *TherapistProfile `json:"therapist_profile,omitempty"`
}

// ProfileID returns the id of the role's profile, or uuid.Nil for admins.
func (a *Account) ProfileID() uuid.UUID {
	switch {
	case a.Patient != nil:
		return a.Patient.ID
	case a.Therapist != nil:
		return a.Therapist.ID
	}
	return uuid.Nil
}

// Principal is the identity carried in the account's access token.
func (a *Account) Principal() auth.Principal {
	return auth.Principal{
		UserID:    a.User.ID,
		Role:      a.User.Role,
		ProfileID: a.ProfileID(),
		Email:     a.User.Email,
	}
}

// TokenResponse is returned by login and registration.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Account     *Account  `json:"account"`
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
