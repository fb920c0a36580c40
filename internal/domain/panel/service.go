package panel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therapyconnect/api/internal/domain/identity"
	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/clock"
	"github.com/therapyconnect/api/internal/platform/db"
	"github.com/therapyconnect/api/internal/platform/notification"
)

// Directory resolves issues and the therapists that treat them.
// identity.Service satisfies it.
type Directory interface {
	GetIssue(ctx context.Context, id uuid.UUID) (*identity.Issue, error)
	SuggestedTherapists(ctx context.Context, issueID uuid.UUID) ([]identity.TherapistSummary, error)
}

// AvailabilityProbe reports whether a therapist has published any slot.
type AvailabilityProbe interface {
	HasAvailability(ctx context.Context, therapistID uuid.UUID) (bool, error)
}

// Notifier queues an email. notification.Dispatcher satisfies it.
type Notifier interface {
	Notify(templateID, to string, data map[string]string)
}

type Service struct {
	repo      Repository
	directory Directory
	probe     AvailabilityProbe
	tx        db.TxRunner
	clock     clock.Clock
	notifier  Notifier
	logger    zerolog.Logger
	commands  map[commandKey]command
}

func NewService(repo Repository, directory Directory, probe AvailabilityProbe, tx db.TxRunner,
	clk clock.Clock, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		probe:     probe,
		tx:        tx,
		clock:     clk,
		notifier:  notifier,
		logger:    logger.With().Str("component", "panel").Logger(),
		commands:  defaultCommands(),
	}
}

type CreateRequest struct {
	Issue uuid.UUID `json:"issue" validate:"required"`
}

// Create opens a panel for the calling patient. The returned view lists the
// therapists the patient may choose from.
func (s *Service) Create(ctx context.Context, p auth.Principal, req CreateRequest) (*PatientView, error) {
	if !p.IsPatient() {
		return nil, apperr.Forbidden("Only patients can create a therapy panel.")
	}
	if req.Issue == uuid.Nil {
		return nil, apperr.InvalidField("issue", "This field is required.")
	}
	issue, err := s.directory.GetIssue(ctx, req.Issue)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.InvalidField("issue", "Invalid issue.")
		}
		return nil, err
	}

	pn := &Panel{
		PatientID: p.ProfileID,
		IssueID:   issue.ID,
		Status:    StatusActive,
		IssueName: issue.Name,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockPatient(ctx, p.ProfileID); err != nil {
			return err
		}
		dup, err := s.repo.HasActive(ctx, p.ProfileID, issue.ID, nil, uuid.Nil)
		if err != nil {
			return err
		}
		if dup {
			return apperr.Invalid("You already have an active therapy panel for this issue.")
		}
		return s.repo.Create(ctx, pn)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("panel_id", pn.ID.String()).Str("issue_id", issue.ID.String()).Msg("panel created")
	return s.patientView(ctx, pn)
}

// Get returns the caller's role-specific view of a panel.
func (s *Service) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (interface{}, error) {
	cmd, err := s.dispatch(p.Role, OpRetrieve)
	if err != nil {
		return nil, err
	}
	pn, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return cmd.view(ctx, s, pn)
}

// Update applies the caller's role-specific update command and returns the
// refreshed view.
func (s *Service) Update(ctx context.Context, p auth.Principal, id uuid.UUID, req UpdateRequest) (interface{}, error) {
	cmd, err := s.dispatch(p.Role, OpUpdate)
	if err != nil {
		return nil, err
	}

	var pn *Panel
	var events []func(context.Context)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, p, id)
		if err != nil {
			return err
		}
		if err := s.repo.LockPatient(ctx, current.PatientID); err != nil {
			return err
		}
		// Re-read under the lock.
		if current, err = s.repo.GetByID(ctx, id); err != nil {
			return err
		}
		events, err = cmd.apply(ctx, s, p, current, req)
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, current); err != nil {
			return err
		}
		pn, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		ev(context.WithoutCancel(ctx))
	}
	return cmd.view(ctx, s, pn)
}

// List returns the caller's own panels in the caller's view.
func (s *Service) List(ctx context.Context, p auth.Principal, limit, offset int) ([]interface{}, int, error) {
	cmd, err := s.dispatch(p.Role, OpList)
	if err != nil {
		return nil, 0, err
	}
	var items []*Panel
	var total int
	switch p.Role {
	case auth.RolePatient:
		items, total, err = s.repo.ListByPatient(ctx, p.ProfileID, limit, offset)
	case auth.RoleTherapist:
		items, total, err = s.repo.ListByTherapist(ctx, p.ProfileID, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	out := make([]interface{}, 0, len(items))
	for _, pn := range items {
		v, err := cmd.view(ctx, s, pn)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, nil
}

// load fetches a panel the caller participates in. Panels belonging to
// someone else are reported as missing.
func (s *Service) load(ctx context.Context, p auth.Principal, id uuid.UUID) (*Panel, error) {
	pn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case p.IsPatient() && pn.PatientID == p.ProfileID:
		return pn, nil
	case p.IsTherapist() && pn.AssignedTo(p.ProfileID):
		return pn, nil
	}
	return nil, apperr.NotFound("therapy panel")
}

func (s *Service) patientView(ctx context.Context, pn *Panel) (*PatientView, error) {
	v := newPatientView(pn)
	if !pn.HasTherapist() {
		suggested, err := s.directory.SuggestedTherapists(ctx, pn.IssueID)
		if err != nil {
			return nil, err
		}
		v.SuggestedTherapists = suggested
	}
	return v, nil
}

func (s *Service) now() time.Time { return s.clock.Now() }

func (s *Service) notifyAssigned(pn *Panel) func(context.Context) {
	return func(ctx context.Context) {
		if s.notifier == nil {
			return
		}
		who, err := s.repo.Participants(ctx, pn.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("panel_id", pn.ID.String()).Msg("participants lookup failed")
			return
		}
		s.notifier.Notify(notification.TplTherapistAssigned, who.TherapistEmail, map[string]string{
			"name":  who.TherapistName,
			"issue": pn.IssueName,
		})
	}
}
