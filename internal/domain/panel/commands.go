package panel

import (
	"context"

	"github.com/google/uuid"

	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
)

// Operation names an action on a panel.
type Operation string

const (
	OpRetrieve Operation = "retrieve"
	OpUpdate   Operation = "update"
	OpList     Operation = "list"
)

type commandKey struct {
	role auth.Role
	op   Operation
}

// command is the behaviour selected for a (role, operation) pair. apply is
// nil for read-only operations; it returns side effects to run after commit.
type command struct {
	apply func(ctx context.Context, s *Service, p auth.Principal, pn *Panel, req UpdateRequest) ([]func(context.Context), error)
	view  func(ctx context.Context, s *Service, pn *Panel) (interface{}, error)
}

// UpdateRequest carries every field either role may send. Each role's
// command decides which of them it accepts.
type UpdateRequest struct {
	Therapist       *uuid.UUID `json:"therapist"`
	Status          *Status    `json:"status"`
	ProgressNotes   *string    `json:"progress_notes"`
	CompletionNotes *string    `json:"completion_notes"`
}

func defaultCommands() map[commandKey]command {
	patient := func(ctx context.Context, s *Service, pn *Panel) (interface{}, error) {
		return s.patientView(ctx, pn)
	}
	therapist := func(_ context.Context, _ *Service, pn *Panel) (interface{}, error) {
		return newTherapistView(pn), nil
	}
	return map[commandKey]command{
		{auth.RolePatient, OpRetrieve}:   {view: patient},
		{auth.RolePatient, OpList}:       {view: patient},
		{auth.RolePatient, OpUpdate}:     {apply: applyPatientUpdate, view: patient},
		{auth.RoleTherapist, OpRetrieve}: {view: therapist},
		{auth.RoleTherapist, OpList}:     {view: therapist},
		{auth.RoleTherapist, OpUpdate}:   {apply: applyTherapistUpdate, view: therapist},
	}
}

func (s *Service) dispatch(role auth.Role, op Operation) (command, error) {
	cmd, ok := s.commands[commandKey{role, op}]
	if !ok {
		return command{}, apperr.Forbidden("You do not have permission to view or update this therapy panel.")
	}
	return cmd, nil
}

// applyPatientUpdate handles the two patient phases: choosing a therapist
// once, then pausing.
func applyPatientUpdate(ctx context.Context, s *Service, _ auth.Principal, pn *Panel, req UpdateRequest) ([]func(context.Context), error) {
	if req.ProgressNotes != nil || req.CompletionNotes != nil {
		return nil, apperr.Invalid("Only the assigned therapist can edit session notes.")
	}

	if !pn.HasTherapist() {
		if req.Therapist == nil {
			return nil, apperr.InvalidField("therapist", "You must select a therapist from the suggested list.")
		}
		if err := s.checkSelectable(ctx, pn, *req.Therapist); err != nil {
			return nil, err
		}
		if req.Status != nil {
			if err := checkPatientStatus(pn, *req.Status); err != nil {
				return nil, err
			}
			pn.Status = *req.Status
		}
		now := s.now()
		tid := *req.Therapist
		pn.TherapistID = &tid
		pn.AssignedAt = &now
		s.logger.Info().Str("panel_id", pn.ID.String()).Str("therapist_id", tid.String()).Msg("therapist selected")
		return []func(context.Context){s.notifyAssigned(pn)}, nil
	}

	if req.Therapist != nil {
		return nil, apperr.InvalidField("therapist", "You cannot change your therapist after selection.")
	}
	if req.Status == nil {
		return nil, apperr.Invalid("Invalid update. You must provide either `therapist` (if not set) or `status`.")
	}
	if err := checkPatientStatus(pn, *req.Status); err != nil {
		return nil, err
	}
	pn.Status = *req.Status
	return nil, nil
}

func checkPatientStatus(pn *Panel, st Status) error {
	if st != StatusPaused {
		return apperr.InvalidField("status", "You can only change the status to 'paused'.")
	}
	if pn.Status == StatusCompleted {
		return apperr.InvalidField("status", "This therapy panel is already completed.")
	}
	return nil
}

func (s *Service) checkSelectable(ctx context.Context, pn *Panel, therapistID uuid.UUID) error {
	suggested, err := s.directory.SuggestedTherapists(ctx, pn.IssueID)
	if err != nil {
		return err
	}
	found := false
	for _, t := range suggested {
		if t.ID == therapistID {
			found = true
			break
		}
	}
	if !found {
		return apperr.InvalidField("therapist", "You can only choose a therapist from the suggested list.")
	}

	ok, err := s.probe.HasAvailability(ctx, therapistID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.InvalidField("therapist", "The selected therapist has no available time slots.")
	}

	dup, err := s.repo.HasActive(ctx, pn.PatientID, pn.IssueID, &therapistID, pn.ID)
	if err != nil {
		return err
	}
	if dup {
		return apperr.InvalidField("therapist", "You already have an active panel with this therapist for this issue.")
	}
	return nil
}

// applyTherapistUpdate lets the assigned therapist pause or complete the
// panel and keep notes. Completed panels only accept notes.
func applyTherapistUpdate(_ context.Context, s *Service, _ auth.Principal, pn *Panel, req UpdateRequest) ([]func(context.Context), error) {
	if req.Therapist != nil {
		return nil, apperr.InvalidField("therapist", "Therapists cannot reassign a therapy panel.")
	}
	if req.Status == nil && req.ProgressNotes == nil && req.CompletionNotes == nil {
		return nil, apperr.Invalid("You must provide at least one field to update (e.g., 'status', 'progress_notes', or 'completion_notes').")
	}
	if req.Status != nil {
		st := *req.Status
		if st != StatusPaused && st != StatusCompleted {
			return nil, apperr.InvalidField("status", "Therapists can only set the status to 'paused' or 'completed'.")
		}
		if pn.Status == StatusCompleted && st != StatusCompleted {
			return nil, apperr.InvalidField("status", "This therapy panel is already completed.")
		}
		if st == StatusCompleted && pn.Status != StatusCompleted {
			now := s.now()
			pn.LastSessionDate = &now
			s.logger.Info().Str("panel_id", pn.ID.String()).Msg("panel completed")
		}
		pn.Status = st
	}
	if req.ProgressNotes != nil {
		pn.ProgressNotes = *req.ProgressNotes
	}
	if req.CompletionNotes != nil {
		pn.CompletionNotes = *req.CompletionNotes
	}
	return nil, nil
}
