package identity

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
	"users_email_key":              {Field: "email", Message: "A user with this email already exists."},
	"psychological_issue_name_key": {Field: "name", Message: "An issue with this name already exists."},
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, email, password_hash, role, first_name, last_name, is_active, created_at, updated_at`

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "user", violations)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, role, first_name, last_name, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.FirstName, u.LastName, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", db.Translate(err, "user", violations))
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.Translate(pgx.ErrNoRows, "user", nil)
	}
	return nil
}

// =========== Profile Repository ===========

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

func (r *profileRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const therapistCols = `t.id, t.user_id, TRIM(u.first_name || ' ' || u.last_name), t.bio, t.qualifications,
	t.license_number, t.time_zone, t.created_at`

const therapistFrom = ` FROM therapist_profile t JOIN users u ON u.id = t.user_id`

func (r *profileRepoPG) scanTherapist(row pgx.Row) (*TherapistProfile, error) {
	var t TherapistProfile
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Bio, &t.Qualifications,
		&t.LicenseNumber, &t.TimeZone, &t.CreatedAt)
	if err != nil {
		return nil, db.Translate(err, "therapist", violations)
	}
	return &t, nil
}

const patientCols = `p.id, p.user_id, u.first_name, u.last_name, u.email, p.profile_image,
	p.conversation_summary, p.created_at, p.updated_at`

const patientFrom = ` FROM patient_profile p JOIN users u ON u.id = p.user_id`

func (r *profileRepoPG) scanPatient(row pgx.Row) (*PatientProfile, error) {
	var p PatientProfile
	err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.ProfileImage,
		&p.ConversationSummary, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "patient profile", nil)
	}
	return &p, nil
}

func (r *profileRepoPG) CreatePatient(ctx context.Context, p *PatientProfile) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_profile (id, user_id, profile_image, conversation_summary)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.ProfileImage, p.ConversationSummary,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient profile: %w", err)
	}
	return nil
}

func (r *profileRepoPG) PatientByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+patientFrom+` WHERE p.id = $1`, id))
}

func (r *profileRepoPG) UpdatePatient(ctx context.Context, p *PatientProfile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_profile SET profile_image=$2, conversation_summary=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.ProfileImage, p.ConversationSummary,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update patient profile: %w", db.Translate(err, "patient profile", nil))
	}
	return nil
}

func (r *profileRepoPG) ListPatients(ctx context.Context, limit, offset int) ([]*PatientProfile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+patientFrom).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+patientFrom+
		` ORDER BY u.last_name, u.first_name, p.id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var items []*PatientProfile
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *profileRepoPG) CreateTherapist(ctx context.Context, p *TherapistProfile) error {
	p.ID = uuid.New()
	if p.TimeZone == "" {
		p.TimeZone = "UTC"
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO therapist_profile (id, user_id, bio, qualifications, license_number, time_zone)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.UserID, p.Bio, p.Qualifications, p.LicenseNumber, p.TimeZone,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert therapist profile: %w", err)
	}
	return nil
}

func (r *profileRepoPG) PatientByUser(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+patientFrom+` WHERE p.user_id = $1`, userID))
}

func (r *profileRepoPG) TherapistByUser(ctx context.Context, userID uuid.UUID) (*TherapistProfile, error) {
	t, err := r.scanTherapist(r.conn(ctx).QueryRow(ctx, `SELECT `+therapistCols+therapistFrom+` WHERE t.user_id = $1`, userID))
	if err != nil {
		return nil, err
	}
	return t, r.loadSpecialties(ctx, []*TherapistProfile{t})
}

func (r *profileRepoPG) TherapistByID(ctx context.Context, id uuid.UUID) (*TherapistProfile, error) {
	t, err := r.scanTherapist(r.conn(ctx).QueryRow(ctx, `SELECT `+therapistCols+therapistFrom+` WHERE t.id = $1`, id))
	if err != nil {
		return nil, err
	}
	return t, r.loadSpecialties(ctx, []*TherapistProfile{t})
}

func (r *profileRepoPG) UpdateTherapist(ctx context.Context, p *TherapistProfile) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE therapist_profile SET bio=$2, qualifications=$3, license_number=$4, time_zone=$5
		WHERE id = $1`,
		p.ID, p.Bio, p.Qualifications, p.LicenseNumber, p.TimeZone)
	if err != nil {
		return fmt.Errorf("update therapist profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.Translate(pgx.ErrNoRows, "therapist", nil)
	}
	return nil
}

func (r *profileRepoPG) SetSpecialties(ctx context.Context, therapistID uuid.UUID, issueIDs []uuid.UUID) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM therapist_specialty WHERE therapist_id = $1`, therapistID); err != nil {
		return fmt.Errorf("clear specialties: %w", err)
	}
	if len(issueIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO therapist_specialty (therapist_id, issue_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, therapistID, issueIDs)
	if err != nil {
		return fmt.Errorf("insert specialties: %w", db.Translate(err, "specialty", violations))
	}
	return nil
}

func (r *profileRepoPG) ListTherapists(ctx context.Context, issueID *uuid.UUID, limit, offset int) ([]*TherapistProfile, int, error) {
	where := ` WHERE u.is_active`
	var args []interface{}
	if issueID != nil {
		where += ` AND EXISTS (SELECT 1 FROM therapist_specialty s WHERE s.therapist_id = t.id AND s.issue_id = $1)`
		args = append(args, *issueID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+therapistFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count therapists: %w", err)
	}

	query := `SELECT ` + therapistCols + therapistFrom + where +
		fmt.Sprintf(` ORDER BY u.last_name, u.first_name, t.id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list therapists: %w", err)
	}
	defer rows.Close()
	var items []*TherapistProfile
	for rows.Next() {
		t, err := r.scanTherapist(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, r.loadSpecialties(ctx, items)
}

func (r *profileRepoPG) loadSpecialties(ctx context.Context, therapists []*TherapistProfile) error {
	if len(therapists) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*TherapistProfile, len(therapists))
	ids := make([]uuid.UUID, 0, len(therapists))
	for _, t := range therapists {
		t.Specialties = []*Issue{}
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.therapist_id, i.id, i.name, i.description, i.created_at
		FROM therapist_specialty s JOIN psychological_issue i ON i.id = s.issue_id
		WHERE s.therapist_id = ANY($1)
		ORDER BY i.name`, ids)
	if err != nil {
		return fmt.Errorf("load specialties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tid uuid.UUID
		var i Issue
		if err := rows.Scan(&tid, &i.ID, &i.Name, &i.Description, &i.CreatedAt); err != nil {
			return err
		}
		byID[tid].Specialties = append(byID[tid].Specialties, &i)
	}
	return rows.Err()
}

// =========== Issue Repository ===========

type issueRepoPG struct{ pool *pgxpool.Pool }

func NewIssueRepoPG(pool *pgxpool.Pool) IssueRepository { return &issueRepoPG{pool: pool} }

func (r *issueRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const issueCols = `id, name, description, created_at`

func (r *issueRepoPG) scanIssue(row pgx.Row) (*Issue, error) {
	var i Issue
	if err := row.Scan(&i.ID, &i.Name, &i.Description, &i.CreatedAt); err != nil {
		return nil, db.Translate(err, "issue", violations)
	}
	return &i, nil
}

func (r *issueRepoPG) Create(ctx context.Context, i *Issue) error {
	i.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO psychological_issue (id, name, description) VALUES ($1,$2,$3)
		RETURNING created_at`, i.ID, i.Name, i.Description,
	).Scan(&i.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert issue: %w", db.Translate(err, "issue", violations))
	}
	return nil
}

func (r *issueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Issue, error) {
	return r.scanIssue(r.conn(ctx).QueryRow(ctx, `SELECT `+issueCols+` FROM psychological_issue WHERE id = $1`, id))
}

func (r *issueRepoPG) List(ctx context.Context, limit, offset int) ([]*Issue, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM psychological_issue`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+issueCols+` FROM psychological_issue ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()
	var items []*Issue
	for rows.Next() {
		i, err := r.scanIssue(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

func (r *issueRepoPG) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM psychological_issue WHERE id = ANY($1)`, ids).Scan(&n)
	return n, err
}
