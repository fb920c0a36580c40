package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/therapyconnect/api/internal/domain/panel"
	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/clock"
	"github.com/therapyconnect/api/internal/platform/db"
	"github.com/therapyconnect/api/internal/platform/meeting"
)

// -- Mock Repositories --

type mockAvailabilityRepo struct {
	slots map[uuid.UUID]*Availability
	locks []uuid.UUID
}

func newMockAvailabilityRepo() *mockAvailabilityRepo {
	return &mockAvailabilityRepo{slots: make(map[uuid.UUID]*Availability)}
}

func (m *mockAvailabilityRepo) LockTherapist(_ context.Context, therapistID uuid.UUID) error {
	m.locks = append(m.locks, therapistID)
	return nil
}

func (m *mockAvailabilityRepo) Create(_ context.Context, a *Availability) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.slots[a.ID] = &cp
	return nil
}

func (m *mockAvailabilityRepo) GetByID(_ context.Context, id uuid.UUID) (*Availability, error) {
	a, ok := m.slots[id]
	if !ok {
		return nil, apperr.NotFound("availability")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAvailabilityRepo) Update(_ context.Context, a *Availability) error {
	if _, ok := m.slots[a.ID]; !ok {
		return apperr.NotFound("availability")
	}
	cp := *a
	m.slots[a.ID] = &cp
	return nil
}

func (m *mockAvailabilityRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.slots[id]; !ok {
		return apperr.NotFound("availability")
	}
	delete(m.slots, id)
	return nil
}

func (m *mockAvailabilityRepo) sorted(match func(*Availability) bool) []*Availability {
	var out []*Availability
	for _, a := range m.slots {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Midnight().Before(out[j].Date.Midnight())
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (m *mockAvailabilityRepo) ListForDay(_ context.Context, therapistID uuid.UUID, day Date) ([]*Availability, error) {
	return m.sorted(func(a *Availability) bool { return a.TherapistID == therapistID && a.Date == day }), nil
}

func (m *mockAvailabilityRepo) Exists(_ context.Context, therapistID uuid.UUID) (bool, error) {
	for _, a := range m.slots {
		if a.TherapistID == therapistID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAvailabilityRepo) Search(_ context.Context, f AvailabilityFilter, limit, offset int) ([]*Availability, int, error) {
	all := m.sorted(f.Match)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type mockAppointmentRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*Appointment
	panels *mockPanels

	// sweepFailures makes the next n CompleteElapsed calls fail.
	sweepFailures int
}

func newMockAppointmentRepo(panels *mockPanels) *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment), panels: panels}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.EndsAt = a.ScheduledTime.Add(a.Duration())
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	if pn, ok := m.panels.panels[a.PanelID]; ok {
		a.PatientID = pn.PatientID
	}
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appts[a.ID]
	if !ok {
		return apperr.NotFound("appointment")
	}
	cur.Status = a.Status
	cur.PaymentStatus = a.PaymentStatus
	cur.CancellationReason = a.CancellationReason
	cur.CanceledBy = a.CanceledBy
	cur.UpdatedAt = time.Now()
	return nil
}

func (m *mockAppointmentRepo) filter(match func(*Appointment) bool, asc bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.appts {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ScheduledTime.After(out[j].ScheduledTime)
	})
	return out
}

func (m *mockAppointmentRepo) ScheduledBetween(_ context.Context, therapistID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(a *Appointment) bool {
		return a.TherapistID == therapistID && a.Status == StatusScheduled && a.Overlaps(from, to)
	}, true), nil
}

func (m *mockAppointmentRepo) CountRescheduled(_ context.Context, panelID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.PanelID == panelID && a.RescheduledFrom != nil {
			n++
		}
	}
	return n, nil
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(func(a *Appointment) bool {
		return a.PatientID == patientID && a.Status == StatusScheduled
	}, true)
	return all, len(all), nil
}

func (m *mockAppointmentRepo) ListByTherapist(_ context.Context, therapistID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	asc := f.Status != nil && *f.Status == StatusScheduled
	all := m.filter(func(a *Appointment) bool {
		if a.TherapistID != therapistID {
			return false
		}
		if f.Status == nil {
			return true
		}
		if a.Status != *f.Status {
			return false
		}
		return *f.Status != StatusScheduled || !a.ScheduledTime.Before(f.Now)
	}, asc)
	return all, len(all), nil
}

func (m *mockAppointmentRepo) CompleteElapsed(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepFailures > 0 {
		m.sweepFailures--
		return 0, errors.New("connection reset")
	}
	var n int64
	for _, a := range m.appts {
		if a.Status == StatusScheduled && !a.ScheduledTime.After(cutoff) {
			a.Status = StatusCompleted
			n++
		}
	}
	return n, nil
}

type mockPanels struct {
	panels       map[uuid.UUID]*panel.Panel
	participants map[uuid.UUID]*panel.Participants
}

func newMockPanels() *mockPanels {
	return &mockPanels{
		panels:       make(map[uuid.UUID]*panel.Panel),
		participants: make(map[uuid.UUID]*panel.Participants),
	}
}

func (m *mockPanels) GetByID(_ context.Context, id uuid.UUID) (*panel.Panel, error) {
	p, ok := m.panels[id]
	if !ok {
		return nil, apperr.NotFound("therapy panel")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPanels) Participants(_ context.Context, id uuid.UUID) (*panel.Participants, error) {
	p, ok := m.participants[id]
	if !ok {
		return nil, apperr.NotFound("therapy panel")
	}
	return p, nil
}

type sentMail struct {
	template, to string
	data         map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *recordingNotifier) Notify(templateID, to string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{templateID, to, data})
}

func (n *recordingNotifier) count(templateID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.template == templateID {
			c++
		}
	}
	return c
}

// -- Fixture --

var (
	day     = Date{Year: 2025, Month: time.March, Day: 1}
	startAt = time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc      *Service
	slots    *mockAvailabilityRepo
	appts    *mockAppointmentRepo
	panels   *mockPanels
	clock    *clock.Fixed
	notifier *recordingNotifier
	links    int

	patient        auth.Principal
	therapist      auth.Principal
	otherPatient   auth.Principal
	otherTherapist auth.Principal
	panel          *panel.Panel
}

func newFixture() *fixture {
	f := &fixture{
		panels:   newMockPanels(),
		slots:    newMockAvailabilityRepo(),
		clock:    clock.NewFixed(startAt),
		notifier: &recordingNotifier{},
	}
	f.appts = newMockAppointmentRepo(f.panels)

	f.patient = auth.Principal{UserID: uuid.New(), Role: auth.RolePatient, ProfileID: uuid.New(), Email: "pat@example.com"}
	f.therapist = auth.Principal{UserID: uuid.New(), Role: auth.RoleTherapist, ProfileID: uuid.New(), Email: "dr@example.com"}
	f.otherPatient = auth.Principal{UserID: uuid.New(), Role: auth.RolePatient, ProfileID: uuid.New()}
	f.otherTherapist = auth.Principal{UserID: uuid.New(), Role: auth.RoleTherapist, ProfileID: uuid.New()}

	f.panel = f.addPanel(f.patient, &f.therapist.ProfileID, panel.StatusActive)

	links := meeting.GeneratorFunc(func(_ context.Context, panelID uuid.UUID, at time.Time) (string, error) {
		f.links++
		return fmt.Sprintf("https://meet.example.com/%s-%d", panelID.String()[:8], at.Unix()), nil
	})
	f.svc = NewService(Deps{
		Slots:        f.slots,
		Appointments: f.appts,
		Panels:       f.panels,
		Tx:           db.NoTx{},
		Clock:        f.clock,
		Links:        links,
		Notifier:     f.notifier,
		Logger:       zerolog.Nop(),
	}, DefaultPolicy())
	return f
}

func (f *fixture) addPanel(owner auth.Principal, therapistID *uuid.UUID, status panel.Status) *panel.Panel {
	pn := &panel.Panel{
		ID:          uuid.New(),
		PatientID:   owner.ProfileID,
		IssueID:     uuid.New(),
		TherapistID: therapistID,
		Status:      status,
	}
	f.panels.panels[pn.ID] = pn
	f.panels.participants[pn.ID] = &panel.Participants{
		PatientUserID:   owner.UserID,
		PatientName:     "Pat Doe",
		PatientEmail:    "pat@example.com",
		TherapistUserID: f.therapist.UserID,
		TherapistName:   "Dr Who",
		TherapistEmail:  "dr@example.com",
	}
	return pn
}

func hm(s string) *string { return &s }

// addSlot publishes an availability window for the fixture therapist.
func (f *fixture) addSlot(t *testing.T, d Date, start, end string) *Availability {
	t.Helper()
	a, err := f.svc.CreateAvailability(context.Background(), f.therapist, AvailabilityRequest{
		Date: hm(d.String()), StartTime: hm(start), EndTime: hm(end),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) book(t *testing.T, at time.Time, minutes int) *Appointment {
	t.Helper()
	a, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		Panel: f.panel.ID, ScheduledTime: at, Duration: minutes,
	})
	require.NoError(t, err)
	return a
}

func requireMessage(t *testing.T, err error, field, msg string) {
	t.Helper()
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	require.Contains(t, verr.Fields[field], msg)
}

func requireNonField(t *testing.T, err error, msg string) {
	t.Helper()
	requireMessage(t, err, apperr.NonFieldKey, msg)
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Deps{Logger: zerolog.Nop()}, DefaultPolicy())
	require.NotNil(t, svc.tx)
	require.NotNil(t, svc.clock)
	require.Equal(t, 6*time.Hour, svc.Policy().LeadTime)
	require.Equal(t, 2, svc.Policy().RescheduleLimit)
	require.Equal(t, time.Hour, svc.Policy().SweepGrace)
}

func TestLeadTimeText(t *testing.T) {
	cases := map[time.Duration]string{
		6 * time.Hour:    "6 hours",
		time.Hour:        "1 hour",
		90 * time.Minute: "90 minutes",
		90 * time.Second: "1m30s",
	}
	for d, want := range cases {
		svc := NewService(Deps{Logger: zerolog.Nop()}, Policy{LeadTime: d})
		require.Equal(t, want, svc.leadTimeText())
	}
}
