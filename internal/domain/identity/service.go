package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/db"
	"github.com/therapyconnect/api/internal/platform/notification"
)

// Notifier queues an email. notification.Dispatcher satisfies it.
type Notifier interface {
	Notify(templateID, to string, data map[string]string)
}

// UserCreatedHook runs inside the registration transaction right after the
// user row is written. A returned error aborts the registration.
type UserCreatedHook func(ctx context.Context, u *User) error

type Service struct {
	users    UserRepository
	profiles ProfileRepository
	issues   IssueRepository
	tx       db.TxRunner
	tokens   *auth.TokenIssuer
	notifier Notifier
	logger   zerolog.Logger

	onUserCreated []UserCreatedHook
}

func NewService(users UserRepository, profiles ProfileRepository, issues IssueRepository,
	tx db.TxRunner, tokens *auth.TokenIssuer, notifier Notifier, logger zerolog.Logger) *Service {
	s := &Service{
		users:    users,
		profiles: profiles,
		issues:   issues,
		tx:       tx,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
	s.onUserCreated = []UserCreatedHook{s.ProvisionProfile}
	return s
}

// OnUserCreated appends a registration hook. Hooks run in order after the
// built-in profile provisioning.
func (s *Service) OnUserCreated(h UserCreatedHook) {
	s.onUserCreated = append(s.onUserCreated, h)
}

// ProvisionProfile creates the profile matching the user's role. Admins get
// none.
func (s *Service) ProvisionProfile(ctx context.Context, u *User) error {
	switch u.Role {
	case auth.RolePatient:
		return s.profiles.CreatePatient(ctx, &PatientProfile{UserID: u.ID})
	case auth.RoleTherapist:
		return s.profiles.CreateTherapist(ctx, &TherapistProfile{UserID: u.ID, TimeZone: "UTC"})
	}
	return nil
}

// -- Accounts --

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Role      string `json:"role" validate:"required,oneof=patient therapist"`
}

// Register creates a patient or therapist account with its profile and
// returns a token for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	role := auth.Role(req.Role)
	if role != auth.RolePatient && role != auth.RoleTherapist {
		return nil, apperr.InvalidField("role", "Must be one of: patient therapist.")
	}
	return s.createAccount(ctx, req, role)
}

// CreateAdmin creates an administrator account. It is reachable from the CLI
// only.
func (s *Service) CreateAdmin(ctx context.Context, email, password string) (*User, error) {
	if NormalizeEmail(email) == "" {
		return nil, apperr.InvalidField("email", "This field is required.")
	}
	if len(password) < 8 {
		return nil, apperr.InvalidField("password", "Must be at least 8.")
	}
	resp, err := s.createAccount(ctx, RegisterRequest{Email: email, Password: password, FirstName: "Admin"}, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return resp.Account.User, nil
}

func (s *Service) createAccount(ctx context.Context, req RegisterRequest, role auth.Role) (*TokenResponse, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:        NormalizeEmail(req.Email),
		PasswordHash: hash,
		Role:         role,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		IsActive:     true,
	}

	var acct *Account
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.GetByEmail(ctx, u.Email); err == nil {
			return apperr.InvalidField("email", "A user with this email already exists.")
		} else if !apperr.IsNotFound(err) {
			return err
		}
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		for _, h := range s.onUserCreated {
			if err := h(ctx, u); err != nil {
				return fmt.Errorf("user created hook: %w", err)
			}
		}
		var err error
		acct, err = s.account(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(role)).Msg("account registered")
	if s.notifier != nil {
		s.notifier.Notify(notification.TplWelcome, u.Email, map[string]string{
			"name": u.FullName(),
			"role": string(role),
		})
	}
	return s.issue(acct)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login verifies credentials and returns a fresh token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(req.Email))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Invalid("Invalid email or password.")
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, apperr.Invalid("Invalid email or password.")
	}
	if !u.IsActive {
		return nil, apperr.Forbidden("This account is disabled.")
	}
	acct, err := s.account(ctx, u)
	if err != nil {
		return nil, err
	}
	return s.issue(acct)
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, p auth.Principal) (*Account, error) {
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return s.account(ctx, u)
}

func (s *Service) account(ctx context.Context, u *User) (*Account, error) {
	acct := &Account{User: u}
	var err error
	switch u.Role {
	case auth.RolePatient:
		acct.Patient, err = s.profiles.PatientByUser(ctx, u.ID)
	case auth.RoleTherapist:
		acct.Therapist, err = s.profiles.TherapistByUser(ctx, u.ID)
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) issue(acct *Account) (*TokenResponse, error) {
	tok, exp, err := s.tokens.Issue(acct.Principal())
	if err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: tok, TokenType: "Bearer", ExpiresAt: exp, Account: acct}, nil
}

// -- Issues --

type CreateIssueRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
}

func (s *Service) CreateIssue(ctx context.Context, p auth.Principal, req CreateIssueRequest) (*Issue, error) {
	if !p.IsAdmin() {
		return nil, apperr.Forbidden("Only administrators can manage issues.")
	}
	i := &Issue{Name: strings.TrimSpace(req.Name), Description: req.Description}
	if i.Name == "" {
		return nil, apperr.InvalidField("name", "This field is required.")
	}
	if err := s.issues.Create(ctx, i); err != nil {
		return nil, err
	}
	return i, nil
}

func (s *Service) GetIssue(ctx context.Context, id uuid.UUID) (*Issue, error) {
	return s.issues.GetByID(ctx, id)
}

func (s *Service) ListIssues(ctx context.Context, limit, offset int) ([]*Issue, int, error) {
	return s.issues.List(ctx, limit, offset)
}

// Deactivate disables the caller's account. The profile and its history
// are kept; login is refused from then on.
func (s *Service) Deactivate(ctx context.Context, p auth.Principal) error {
	if err := s.users.SetActive(ctx, p.UserID, false); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", p.UserID.String()).Msg("account deactivated")
	return nil
}

// -- Patients --

type UpdatePatientRequest struct {
	ProfileImage *string `json:"profile_image" validate:"omitempty,url"`
}

type UpdatePatientSummaryRequest struct {
	ConversationSummary *string `json:"conversation_summary"`
}

func (s *Service) MyPatientProfile(ctx context.Context, p auth.Principal) (*PatientProfile, error) {
	if !p.IsPatient() {
		return nil, apperr.Forbidden("Only patients have a patient profile.")
	}
	return s.profiles.PatientByUser(ctx, p.UserID)
}

// UpdatePatientProfile changes the caller's profile image. Nothing else on
// the profile is patient-editable.
func (s *Service) UpdatePatientProfile(ctx context.Context, p auth.Principal, req UpdatePatientRequest) (*PatientProfile, error) {
	if !p.IsPatient() {
		return nil, apperr.Forbidden("Only patients have a patient profile.")
	}
	if req.ProfileImage == nil {
		return nil, apperr.Invalid("Only profile_image can be updated.")
	}

	var out *PatientProfile
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pp, err := s.profiles.PatientByUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		pp.ProfileImage = strings.TrimSpace(*req.ProfileImage)
		if err := s.profiles.UpdatePatient(ctx, pp); err != nil {
			return err
		}
		out = pp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListPatients(ctx context.Context, p auth.Principal, limit, offset int) ([]*PatientProfile, int, error) {
	if !p.IsAdmin() {
		return nil, 0, apperr.Forbidden("Only administrators can list patients.")
	}
	return s.profiles.ListPatients(ctx, limit, offset)
}

func (s *Service) GetPatient(ctx context.Context, p auth.Principal, id uuid.UUID) (*PatientProfile, error) {
	if !p.IsAdmin() {
		return nil, apperr.Forbidden("Only administrators can view patient profiles.")
	}
	return s.profiles.PatientByID(ctx, id)
}

// UpdatePatientSummary records the conversation summary on a patient's
// profile.
func (s *Service) UpdatePatientSummary(ctx context.Context, p auth.Principal, id uuid.UUID, req UpdatePatientSummaryRequest) (*PatientProfile, error) {
	if !p.IsAdmin() {
		return nil, apperr.Forbidden("Only administrators can edit conversation summaries.")
	}
	if req.ConversationSummary == nil {
		return nil, apperr.InvalidField("conversation_summary", "This field is required.")
	}

	var out *PatientProfile
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pp, err := s.profiles.PatientByID(ctx, id)
		if err != nil {
			return err
		}
		pp.ConversationSummary = *req.ConversationSummary
		if err := s.profiles.UpdatePatient(ctx, pp); err != nil {
			return err
		}
		out = pp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Therapists --

type UpdateTherapistRequest struct {
	Bio            *string      `json:"bio"`
	Qualifications *string      `json:"qualifications"`
	LicenseNumber  *string      `json:"license_number"`
	TimeZone       *string      `json:"time_zone"`
	Specialties    *[]uuid.UUID `json:"specialties"`
}

// UpdateTherapistProfile applies a partial update to the caller's own
// therapist profile.
func (s *Service) UpdateTherapistProfile(ctx context.Context, p auth.Principal, req UpdateTherapistRequest) (*TherapistProfile, error) {
	if !p.IsTherapist() {
		return nil, apperr.Forbidden("Only therapists have a therapist profile.")
	}
	if req.Bio == nil && req.Qualifications == nil && req.LicenseNumber == nil &&
		req.TimeZone == nil && req.Specialties == nil {
		return nil, apperr.Invalid("At least one field must be provided.")
	}
	if req.TimeZone != nil {
		if _, err := time.LoadLocation(*req.TimeZone); err != nil || *req.TimeZone == "" {
			return nil, apperr.InvalidField("time_zone", "Enter a valid IANA time zone, e.g. 'Europe/London'.")
		}
	}

	var out *TherapistProfile
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.profiles.TherapistByUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		if req.Bio != nil {
			t.Bio = *req.Bio
		}
		if req.Qualifications != nil {
			t.Qualifications = *req.Qualifications
		}
		if req.LicenseNumber != nil {
			t.LicenseNumber = *req.LicenseNumber
		}
		if req.TimeZone != nil {
			t.TimeZone = *req.TimeZone
		}
		if err := s.profiles.UpdateTherapist(ctx, t); err != nil {
			return err
		}
		if req.Specialties != nil {
			ids := dedupe(*req.Specialties)
			if len(ids) > 0 {
				n, err := s.issues.CountExisting(ctx, ids)
				if err != nil {
					return err
				}
				if n != len(ids) {
					return apperr.InvalidField("specialties", "One or more issues do not exist.")
				}
			}
			if err := s.profiles.SetSpecialties(ctx, t.ID, ids); err != nil {
				return err
			}
		}
		out, err = s.profiles.TherapistByID(ctx, t.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetTherapist(ctx context.Context, id uuid.UUID) (*TherapistProfile, error) {
	return s.profiles.TherapistByID(ctx, id)
}

func (s *Service) ListTherapists(ctx context.Context, issueID *uuid.UUID, limit, offset int) ([]*TherapistProfile, int, error) {
	return s.profiles.ListTherapists(ctx, issueID, limit, offset)
}

// SuggestedTherapists returns every therapist whose specialties include
// issueID.
func (s *Service) SuggestedTherapists(ctx context.Context, issueID uuid.UUID) ([]TherapistSummary, error) {
	const page = 100
	var out []TherapistSummary
	for offset := 0; ; offset += page {
		items, total, err := s.profiles.ListTherapists(ctx, &issueID, page, offset)
		if err != nil {
			return nil, err
		}
		for _, t := range items {
			out = append(out, TherapistSummary{ID: t.ID, Name: t.Name})
		}
		if offset+page >= total || len(items) == 0 {
			break
		}
	}
	if out == nil {
		out = []TherapistSummary{}
	}
	return out, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
