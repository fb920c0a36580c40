package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therapyconnect/api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var violations = map[string]db.Violation{
	"availability_no_overlap": {Message: msgSlotOverlap},
	"appointment_no_overlap":  {Message: msgAppointmentConflict},
}

func pgDate(d Date) pgtype.Date {
	return pgtype.Date{Time: d.Midnight(), Valid: true}
}

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Microseconds(), Valid: true}
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const availCols = `id, therapist_id, date, start_time, end_time, created_at`

func (r *availabilityRepoPG) scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var date pgtype.Date
	var start, end pgtype.Time
	if err := row.Scan(&a.ID, &a.TherapistID, &date, &start, &end, &a.CreatedAt); err != nil {
		return nil, db.Translate(err, "availability", violations)
	}
	a.Date = DateOf(date.Time)
	a.StartTime = TimeOfDayFromMicros(start.Microseconds)
	a.EndTime = TimeOfDayFromMicros(end.Microseconds)
	return &a, nil
}

func (r *availabilityRepoPG) LockTherapist(ctx context.Context, therapistID uuid.UUID) error {
	return db.LockKey(ctx, r.conn(ctx), "therapist", therapistID)
}

func (r *availabilityRepoPG) Create(ctx context.Context, a *Availability) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO therapist_availability (id, therapist_id, date, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		a.ID, a.TherapistID, pgDate(a.Date), pgTime(a.StartTime), pgTime(a.EndTime),
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert availability: %w", db.Translate(err, "availability", violations))
	}
	return nil
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	return r.scanAvailability(r.conn(ctx).QueryRow(ctx, `SELECT `+availCols+` FROM therapist_availability WHERE id = $1`, id))
}

func (r *availabilityRepoPG) Update(ctx context.Context, a *Availability) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE therapist_availability SET date=$2, start_time=$3, end_time=$4
		WHERE id = $1`,
		a.ID, pgDate(a.Date), pgTime(a.StartTime), pgTime(a.EndTime))
	if err != nil {
		return fmt.Errorf("update availability: %w", db.Translate(err, "availability", violations))
	}
	if tag.RowsAffected() == 0 {
		return db.Translate(pgx.ErrNoRows, "availability", nil)
	}
	return nil
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM therapist_availability WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.Translate(pgx.ErrNoRows, "availability", nil)
	}
	return nil
}

func (r *availabilityRepoPG) collect(rows pgx.Rows) ([]*Availability, error) {
	defer rows.Close()
	var items []*Availability
	for rows.Next() {
		a, err := r.scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *availabilityRepoPG) ListForDay(ctx context.Context, therapistID uuid.UUID, day Date) ([]*Availability, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+availCols+` FROM therapist_availability
		WHERE therapist_id = $1 AND date = $2 ORDER BY start_time`, therapistID, pgDate(day))
	if err != nil {
		return nil, fmt.Errorf("list availability for day: %w", err)
	}
	return r.collect(rows)
}

func (r *availabilityRepoPG) Exists(ctx context.Context, therapistID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM therapist_availability WHERE therapist_id = $1)`, therapistID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check availability: %w", err)
	}
	return exists, nil
}

func (r *availabilityRepoPG) Search(ctx context.Context, f AvailabilityFilter, limit, offset int) ([]*Availability, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}
	if f.TherapistID != nil {
		add(` AND therapist_id = $%d`, *f.TherapistID)
	}
	if f.DayOfWeek != nil {
		// EXTRACT(DOW) numbers Sunday as 0, like time.Weekday.
		add(` AND EXTRACT(DOW FROM date) = $%d`, int(*f.DayOfWeek))
	}
	if f.StartAfter != nil {
		add(` AND start_time >= $%d`, pgTime(*f.StartAfter))
	}
	if f.StartBefore != nil {
		add(` AND start_time <= $%d`, pgTime(*f.StartBefore))
	}
	if f.EndAfter != nil {
		add(` AND end_time >= $%d`, pgTime(*f.EndAfter))
	}
	if f.EndBefore != nil {
		add(` AND end_time <= $%d`, pgTime(*f.EndBefore))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM therapist_availability`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count availability: %w", err)
	}

	query := `SELECT ` + availCols + ` FROM therapist_availability` + where +
		fmt.Sprintf(` ORDER BY date, start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search availability: %w", err)
	}
	items, err := r.collect(rows)
	return items, total, err
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `a.id, a.panel_id, a.therapist_id, p.patient_id, a.scheduled_time, a.duration_minutes,
	a.ends_at, a.status, a.meeting_platform, a.meeting_link, a.payment_status, a.cancellation_reason,
	a.canceled_by, a.rescheduled_from, a.created_at, a.updated_at`

const apptFrom = ` FROM appointment a JOIN therapy_panel p ON p.id = a.panel_id`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PanelID, &a.TherapistID, &a.PatientID, &a.ScheduledTime, &a.DurationMinutes,
		&a.EndsAt, &a.Status, &a.MeetingPlatform, &a.MeetingLink, &a.PaymentStatus, &a.CancellationReason,
		&a.CanceledBy, &a.RescheduledFrom, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err, "appointment", violations)
	}
	a.ScheduledTime = a.ScheduledTime.UTC()
	a.EndsAt = a.EndsAt.UTC()
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.EndsAt = a.ScheduledTime.Add(a.Duration())
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, panel_id, therapist_id, scheduled_time, duration_minutes, ends_at,
			status, meeting_platform, meeting_link, payment_status, rescheduled_from)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PanelID, a.TherapistID, a.ScheduledTime, a.DurationMinutes, a.EndsAt,
		a.Status, a.MeetingPlatform, a.MeetingLink, a.PaymentStatus, a.RescheduledFrom,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", db.Translate(err, "appointment", violations))
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+apptFrom+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status=$2, payment_status=$3, cancellation_reason=$4, canceled_by=$5,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.PaymentStatus, a.CancellationReason, a.CanceledBy,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", db.Translate(err, "appointment", violations))
	}
	return nil
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ScheduledBetween(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+apptFrom+`
		WHERE a.therapist_id = $1 AND a.status = 'scheduled' AND a.scheduled_time < $3 AND a.ends_at > $2
		ORDER BY a.scheduled_time`, therapistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) CountRescheduled(ctx context.Context, panelID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE panel_id = $1 AND rescheduled_from IS NOT NULL`, panelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reschedules: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) page(ctx context.Context, where, order string, args []interface{}, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+apptFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	n := len(args)
	query := `SELECT ` + apptCols + apptFrom + where + ` ORDER BY ` + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.page(ctx, ` WHERE p.patient_id = $1 AND a.status = 'scheduled'`, `a.scheduled_time ASC`,
		[]interface{}{patientID}, limit, offset)
}

func (r *appointmentRepoPG) ListByTherapist(ctx context.Context, therapistID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	args := []interface{}{therapistID}
	if f.Status == nil {
		return r.page(ctx, ` WHERE a.therapist_id = $1`, `a.scheduled_time DESC`, args, limit, offset)
	}
	args = append(args, *f.Status)
	if *f.Status == StatusScheduled {
		args = append(args, f.Now)
		return r.page(ctx, ` WHERE a.therapist_id = $1 AND a.status = $2 AND a.scheduled_time >= $3`,
			`a.scheduled_time ASC`, args, limit, offset)
	}
	return r.page(ctx, ` WHERE a.therapist_id = $1 AND a.status = $2`, `a.scheduled_time DESC`, args, limit, offset)
}

func (r *appointmentRepoPG) CompleteElapsed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = 'completed', updated_at = NOW()
		WHERE status = 'scheduled' AND scheduled_time <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("complete elapsed appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}
