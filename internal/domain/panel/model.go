package panel

import (
	"time"

	"github.com/google/uuid"

	"github.com/therapyconnect/api/internal/domain/identity"
)

// Status is the lifecycle state of a therapy panel.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Panel maps to the therapy_panel table. IssueName, PatientName and
// TherapistName are joined in on read.
type Panel struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	IssueID         uuid.UUID  `db:"issue_id" json:"issue_id"`
	TherapistID     *uuid.UUID `db:"therapist_id" json:"therapist_id,omitempty"`
	Status          Status     `db:"status" json:"status"`
	AssignedAt      *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	LastSessionDate *time.Time `db:"last_session_date" json:"last_session_date,omitempty"`
	ProgressNotes   string     `db:"progress_notes" json:"progress_notes"`
	CompletionNotes string     `db:"completion_notes" json:"completion_notes"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	LastUpdated     time.Time  `db:"last_updated" json:"last_updated"`

	IssueName     string `db:"-" json:"-"`
	PatientName   string `db:"-" json:"-"`
	TherapistName string `db:"-" json:"-"`
}

// HasTherapist reports whether a therapist has been selected.
func (p *Panel) HasTherapist() bool { return p.TherapistID != nil }

// AssignedTo reports whether therapistID is the panel's therapist.
func (p *Panel) AssignedTo(therapistID uuid.UUID) bool {
	return p.TherapistID != nil && *p.TherapistID == therapistID
}

// Participants are the contact details of the two people on a panel.
// Therapist fields are empty until a therapist is selected.
type Participants struct {
	PatientUserID   uuid.UUID
	PatientName     string
	PatientEmail    string
	TherapistUserID uuid.UUID
	TherapistName   string
	TherapistEmail  string
}

// Ref is an {id, name} pair.
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// PatientView is what a patient sees of a panel.
type PatientView struct {
	ID                  uuid.UUID                   `json:"id"`
	Issue               Ref                         `json:"issue"`
	Therapist           *Ref                        `json:"therapist"`
	Status              Status                      `json:"status"`
	AssignedAt          *time.Time                  `json:"assigned_at"`
	SuggestedTherapists []identity.TherapistSummary `json:"suggested_therapists,omitempty"`
}

// TherapistView is what the assigned therapist sees of a panel.
type TherapistView struct {
	ID              uuid.UUID  `json:"id"`
	Issue           Ref        `json:"issue"`
	Patient         Ref        `json:"patient"`
	Status          Status     `json:"status"`
	AssignedAt      *time.Time `json:"assigned_at"`
	LastSessionDate *time.Time `json:"last_session_date"`
	ProgressNotes   string     `json:"progress_notes"`
	CompletionNotes string     `json:"completion_notes"`
}

func newPatientView(p *Panel) *PatientView {
	v := &PatientView{
		ID:         p.ID,
		Issue:      Ref{ID: p.IssueID, Name: p.IssueName},
		Status:     p.Status,
		AssignedAt: p.AssignedAt,
	}
	if p.TherapistID != nil {
		v.Therapist = &Ref{ID: *p.TherapistID, Name: p.TherapistName}
	}
	return v
}

func newTherapistView(p *Panel) *TherapistView {
	return &TherapistView{
		ID:              p.ID,
		Issue:           Ref{ID: p.IssueID, Name: p.IssueName},
		Patient:         Ref{ID: p.PatientID, Name: p.PatientName},
		Status:          p.Status,
		AssignedAt:      p.AssignedAt,
		LastSessionDate: p.LastSessionDate,
		ProgressNotes:   p.ProgressNotes,
		CompletionNotes: p.CompletionNotes,
	}
}
