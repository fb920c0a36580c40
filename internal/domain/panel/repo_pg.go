package panel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therapyconnect/api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var violations = map[string]db.Violation{
	"therapy_panel_one_active": {Message: "You already have an active therapy panel for this issue."},
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const panelCols = `p.id, p.patient_id, p.issue_id, p.therapist_id, p.status, p.assigned_at,
	p.last_session_date, p.progress_notes, p.completion_notes, p.created_at, p.last_updated,
	i.name, TRIM(pu.first_name || ' ' || pu.last_name), COALESCE(TRIM(tu.first_name || ' ' || tu.last_name), '')`

const panelFrom = ` FROM therapy_panel p
	JOIN psychological_issue i ON i.id = p.issue_id
	JOIN patient_profile pp ON pp.id = p.patient_id
	JOIN users pu ON pu.id = pp.user_id
	LEFT JOIN therapist_profile tp ON tp.id = p.therapist_id
	LEFT JOIN users tu ON tu.id = tp.user_id`

func (r *repoPG) scanPanel(row pgx.Row) (*Panel, error) {
	var p Panel
	err := row.Scan(&p.ID, &p.PatientID, &p.IssueID, &p.TherapistID, &p.Status, &p.AssignedAt,
		&p.LastSessionDate, &p.ProgressNotes, &p.CompletionNotes, &p.CreatedAt, &p.LastUpdated,
		&p.IssueName, &p.PatientName, &p.TherapistName)
	if err != nil {
		return nil, db.Translate(err, "therapy panel", violations)
	}
	return &p, nil
}

func (r *repoPG) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	return db.LockKey(ctx, r.conn(ctx), "patient", patientID)
}

func (r *repoPG) Create(ctx context.Context, p *Panel) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO therapy_panel (id, patient_id, issue_id, therapist_id, status, assigned_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, last_updated`,
		p.ID, p.PatientID, p.IssueID, p.TherapistID, p.Status, p.AssignedAt,
	).Scan(&p.CreatedAt, &p.LastUpdated)
	if err != nil {
		return fmt.Errorf("insert therapy panel: %w", db.Translate(err, "therapy panel", violations))
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Panel, error) {
	return r.scanPanel(r.conn(ctx).QueryRow(ctx, `SELECT `+panelCols+panelFrom+` WHERE p.id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Panel) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE therapy_panel SET therapist_id=$2, status=$3, assigned_at=$4, last_session_date=$5,
			progress_notes=$6, completion_notes=$7, last_updated=NOW()
		WHERE id = $1
		RETURNING last_updated`,
		p.ID, p.TherapistID, p.Status, p.AssignedAt, p.LastSessionDate,
		p.ProgressNotes, p.CompletionNotes,
	).Scan(&p.LastUpdated)
	if err != nil {
		return fmt.Errorf("update therapy panel: %w", db.Translate(err, "therapy panel", violations))
	}
	return nil
}

func (r *repoPG) HasActive(ctx context.Context, patientID, issueID uuid.UUID, therapistID *uuid.UUID, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM therapy_panel
			WHERE patient_id = $1 AND issue_id = $2 AND status = 'active' AND id <> $3
			  AND ($4::uuid IS NULL OR therapist_id = $4)
		)`, patientID, issueID, excludeID, therapistID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active panel: %w", err)
	}
	return exists, nil
}

func (r *repoPG) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*Panel, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM therapy_panel p WHERE p.`+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count therapy panels: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+panelCols+panelFrom+` WHERE p.`+column+` = $1
		ORDER BY p.created_at DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list therapy panels: %w", err)
	}
	defer rows.Close()
	var items []*Panel
	for rows.Next() {
		p, err := r.scanPanel(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Panel, int, error) {
	return r.list(ctx, "patient_id", patientID, limit, offset)
}

func (r *repoPG) ListByTherapist(ctx context.Context, therapistID uuid.UUID, limit, offset int) ([]*Panel, int, error) {
	return r.list(ctx, "therapist_id", therapistID, limit, offset)
}

func (r *repoPG) Participants(ctx context.Context, panelID uuid.UUID) (*Participants, error) {
	var out Participants
	var therapistUserID *uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT pu.id, TRIM(pu.first_name || ' ' || pu.last_name), pu.email,
			tu.id, COALESCE(TRIM(tu.first_name || ' ' || tu.last_name), ''), COALESCE(tu.email, '')
		FROM therapy_panel p
		JOIN patient_profile pp ON pp.id = p.patient_id
		JOIN users pu ON pu.id = pp.user_id
		LEFT JOIN therapist_profile tp ON tp.id = p.therapist_id
		LEFT JOIN users tu ON tu.id = tp.user_id
		WHERE p.id = $1`, panelID,
	).Scan(&out.PatientUserID, &out.PatientName, &out.PatientEmail,
		&therapistUserID, &out.TherapistName, &out.TherapistEmail)
	if err != nil {
		return nil, db.Translate(err, "therapy panel", nil)
	}
	if therapistUserID != nil {
		out.TherapistUserID = *therapistUserID
	}
	return &out, nil
}
