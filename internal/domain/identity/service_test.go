package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/db"
)

// -- Mock User Repository --

type mockUserRepo struct {
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (m *mockUserRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user")
	}
	u.IsActive = active
	return nil
}

// -- Mock Profile Repository --

type mockProfileRepo struct {
	patients    map[uuid.UUID]*PatientProfile
	therapists  map[uuid.UUID]*TherapistProfile
	users       *mockUserRepo
	issues      *mockIssueRepo
	specialties map[uuid.UUID][]uuid.UUID
}

func newMockProfileRepo(users *mockUserRepo, issues *mockIssueRepo) *mockProfileRepo {
	return &mockProfileRepo{
		patients:    make(map[uuid.UUID]*PatientProfile),
		therapists:  make(map[uuid.UUID]*TherapistProfile),
		users:       users,
		issues:      issues,
		specialties: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockProfileRepo) CreatePatient(_ context.Context, p *PatientProfile) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m *mockProfileRepo) CreateTherapist(_ context.Context, p *TherapistProfile) error {
	p.ID = uuid.New()
	m.therapists[p.ID] = p
	return nil
}

func (m *mockProfileRepo) hydratePatient(p *PatientProfile) *PatientProfile {
	out := *p
	if u, ok := m.users.users[p.UserID]; ok {
		out.FirstName, out.LastName, out.Email = u.FirstName, u.LastName, u.Email
	}
	return &out
}

func (m *mockProfileRepo) PatientByUser(_ context.Context, userID uuid.UUID) (*PatientProfile, error) {
	for _, p := range m.patients {
		if p.UserID == userID {
			return m.hydratePatient(p), nil
		}
	}
	return nil, apperr.NotFound("patient profile")
}

func (m *mockProfileRepo) PatientByID(_ context.Context, id uuid.UUID) (*PatientProfile, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient profile")
	}
	return m.hydratePatient(p), nil
}

func (m *mockProfileRepo) UpdatePatient(_ context.Context, p *PatientProfile) error {
	cur, ok := m.patients[p.ID]
	if !ok {
		return apperr.NotFound("patient profile")
	}
	cur.ProfileImage = p.ProfileImage
	cur.ConversationSummary = p.ConversationSummary
	cur.UpdatedAt = time.Now()
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

func (m *mockProfileRepo) ListPatients(_ context.Context, limit, offset int) ([]*PatientProfile, int, error) {
	var result []*PatientProfile
	for _, p := range m.patients {
		result = append(result, m.hydratePatient(p))
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, total, nil
}

func (m *mockProfileRepo) hydrate(t *TherapistProfile) *TherapistProfile {
	out := *t
	if u, ok := m.users.users[t.UserID]; ok {
		out.Name = u.FullName()
	}
	out.Specialties = []*Issue{}
	for _, id := range m.specialties[t.ID] {
		out.Specialties = append(out.Specialties, m.issues.issues[id])
	}
	return &out
}

func (m *mockProfileRepo) TherapistByUser(_ context.Context, userID uuid.UUID) (*TherapistProfile, error) {
	for _, t := range m.therapists {
		if t.UserID == userID {
			return m.hydrate(t), nil
		}
	}
	return nil, apperr.NotFound("therapist")
}

func (m *mockProfileRepo) TherapistByID(_ context.Context, id uuid.UUID) (*TherapistProfile, error) {
	t, ok := m.therapists[id]
	if !ok {
		return nil, apperr.NotFound("therapist")
	}
	return m.hydrate(t), nil
}

func (m *mockProfileRepo) UpdateTherapist(_ context.Context, p *TherapistProfile) error {
	if _, ok := m.therapists[p.ID]; !ok {
		return apperr.NotFound("therapist")
	}
	stored := *p
	stored.Specialties = nil
	m.therapists[p.ID] = &stored
	return nil
}

func (m *mockProfileRepo) SetSpecialties(_ context.Context, therapistID uuid.UUID, issueIDs []uuid.UUID) error {
	m.specialties[therapistID] = append([]uuid.UUID(nil), issueIDs...)
	return nil
}

func (m *mockProfileRepo) ListTherapists(_ context.Context, issueID *uuid.UUID, limit, offset int) ([]*TherapistProfile, int, error) {
	var result []*TherapistProfile
	for _, t := range m.therapists {
		h := m.hydrate(t)
		if issueID != nil && !h.Treats(*issueID) {
			continue
		}
		result = append(result, h)
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, total, nil
}

// -- Mock Issue Repository --

type mockIssueRepo struct {
	issues map[uuid.UUID]*Issue
}

func newMockIssueRepo() *mockIssueRepo {
	return &mockIssueRepo{issues: make(map[uuid.UUID]*Issue)}
}

func (m *mockIssueRepo) Create(_ context.Context, i *Issue) error {
	for _, existing := range m.issues {
		if strings.EqualFold(existing.Name, i.Name) {
			return apperr.InvalidField("name", "An issue with this name already exists.")
		}
	}
	i.ID = uuid.New()
	i.CreatedAt = time.Now()
	m.issues[i.ID] = i
	return nil
}

func (m *mockIssueRepo) GetByID(_ context.Context, id uuid.UUID) (*Issue, error) {
	i, ok := m.issues[id]
	if !ok {
		return nil, apperr.NotFound("issue")
	}
	return i, nil
}

func (m *mockIssueRepo) List(_ context.Context, limit, offset int) ([]*Issue, int, error) {
	var result []*Issue
	for _, i := range m.issues {
		result = append(result, i)
	}
	return result, len(result), nil
}

func (m *mockIssueRepo) CountExisting(_ context.Context, ids []uuid.UUID) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := m.issues[id]; ok {
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	sent []string
}

func (r *recordingNotifier) Notify(templateID, to string, _ map[string]string) {
	r.sent = append(r.sent, templateID+":"+to)
}

type testDeps struct {
	users    *mockUserRepo
	profiles *mockProfileRepo
	issues   *mockIssueRepo
	notifier *recordingNotifier
}

func newTestServiceWithDeps() (*Service, *testDeps) {
	users := newMockUserRepo()
	issues := newMockIssueRepo()
	profiles := newMockProfileRepo(users, issues)
	n := &recordingNotifier{}
	tokens := auth.NewTokenIssuer([]byte("identity-test-signing-key-0123456789"), "test", time.Hour)
	svc := NewService(users, profiles, issues, db.NoTx{}, tokens, n, zerolog.Nop())
	return svc, &testDeps{users: users, profiles: profiles, issues: issues, notifier: n}
}

func newTestService() *Service {
	svc, _ := newTestServiceWithDeps()
	return svc
}

func registerReq(email string, role auth.Role) RegisterRequest {
	return RegisterRequest{Email: email, Password: "s3cret-pass", FirstName: "Ada", LastName: "Lovelace", Role: string(role)}
}

func TestService_RegisterPatientProvisionsProfile(t *testing.T) {
	svc, deps := newTestServiceWithDeps()

	resp, err := svc.Register(context.Background(), registerReq("  Ada@Example.com ", auth.RolePatient))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Errorf("expected bearer token, got %+v", resp)
	}
	if resp.Account.User.Email != "ada@example.com" {
		t.Errorf("expected normalized email, got %s", resp.Account.User.Email)
	}
	if resp.Account.Patient == nil {
		t.Fatal("expected patient profile to be provisioned")
	}
	if resp.Account.Principal().ProfileID != resp.Account.Patient.ID {
		t.Error("expected principal to carry the patient profile id")
	}
	if len(deps.profiles.patients) != 1 || len(deps.profiles.therapists) != 0 {
		t.Errorf("unexpected profiles: %d patients, %d therapists", len(deps.profiles.patients), len(deps.profiles.therapists))
	}
	if len(deps.notifier.sent) != 1 || deps.notifier.sent[0] != "welcome:ada@example.com" {
		t.Errorf("expected welcome email, got %v", deps.notifier.sent)
	}
}

func TestService_RegisterTherapistProvisionsProfile(t *testing.T) {
	svc, deps := newTestServiceWithDeps()

	resp, err := svc.Register(context.Background(), registerReq("t@example.com", auth.RoleTherapist))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Account.Therapist == nil {
		t.Fatal("expected therapist profile")
	}
	if resp.Account.Therapist.TimeZone != "UTC" {
		t.Errorf("expected default UTC time zone, got %s", resp.Account.Therapist.TimeZone)
	}
	if len(deps.profiles.therapists) != 1 {
		t.Errorf("expected 1 therapist profile, got %d", len(deps.profiles.therapists))
	}
}

func TestService_RegisterRejectsAdminRole(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register(context.Background(), registerReq("a@example.com", auth.RoleAdmin))
	if !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestService_RegisterDuplicateEmail(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, registerReq("dup@example.com", auth.RolePatient)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, registerReq("DUP@example.com", auth.RoleTherapist))
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields["email"]) == 0 {
		t.Errorf("expected email field error, got %v", ve.Fields)
	}
}

func TestService_UserCreatedHookAbortsRegistration(t *testing.T) {
	svc := newTestService()
	svc.OnUserCreated(func(context.Context, *User) error { return errors.New("crm down") })

	_, err := svc.Register(context.Background(), registerReq("hook@example.com", auth.RolePatient))
	if err == nil || !strings.Contains(err.Error(), "crm down") {
		t.Errorf("expected hook error, got %v", err)
	}
}

func TestService_Login(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, registerReq("login@example.com", auth.RolePatient)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: "LOGIN@example.com", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Account.Patient == nil {
		t.Error("expected patient profile on login")
	}

	tests := []LoginRequest{
		{Email: "login@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "s3cret-pass"},
	}
	for _, req := range tests {
		_, err := svc.Login(ctx, req)
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for %s, got %v", req.Email, err)
		}
		if ve.Fields[apperr.NonFieldKey][0] != "Invalid email or password." {
			t.Errorf("unexpected message %v", ve.Fields)
		}
	}
}

func TestService_LoginDisabledAccount(t *testing.T) {
	svc, deps := newTestServiceWithDeps()
	ctx := context.Background()
	resp, err := svc.Register(ctx, registerReq("off@example.com", auth.RolePatient))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	deps.users.users[resp.Account.User.ID].IsActive = false

	_, err = svc.Login(ctx, LoginRequest{Email: "off@example.com", Password: "s3cret-pass"})
	if !apperr.IsPermission(err) {
		t.Errorf("expected PermissionError, got %v", err)
	}
}

func TestService_CreateAdmin(t *testing.T) {
	svc, deps := newTestServiceWithDeps()
	u, err := svc.CreateAdmin(context.Background(), "root@example.com", "admin-pass")
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if u.Role != auth.RoleAdmin {
		t.Errorf("expected admin role, got %s", u.Role)
	}
	if len(deps.profiles.patients)+len(deps.profiles.therapists) != 0 {
		t.Error("expected no profile for admin")
	}
	if _, err := svc.CreateAdmin(context.Background(), "x@example.com", "short"); !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError for short password, got %v", err)
	}
}

func TestService_CreateIssue(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	admin := auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin}

	i, err := svc.CreateIssue(ctx, admin, CreateIssueRequest{Name: " Anxiety "})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if i.Name != "Anxiety" {
		t.Errorf("expected trimmed name, got %q", i.Name)
	}

	patient := auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}
	if _, err := svc.CreateIssue(ctx, patient, CreateIssueRequest{Name: "Grief"}); !apperr.IsPermission(err) {
		t.Errorf("expected PermissionError, got %v", err)
	}
	if _, err := svc.CreateIssue(ctx, admin, CreateIssueRequest{Name: "anxiety"}); !apperr.IsValidation(err) {
		t.Errorf("expected duplicate ValidationError, got %v", err)
	}
}

func therapistPrincipal(t *testing.T, svc *Service, email string) auth.Principal {
	t.Helper()
	resp, err := svc.Register(context.Background(), registerReq(email, auth.RoleTherapist))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return resp.Account.Principal()
}

func TestService_UpdateTherapistProfile(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	admin := auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin}
	anxiety, _ := svc.CreateIssue(ctx, admin, CreateIssueRequest{Name: "Anxiety"})
	grief, _ := svc.CreateIssue(ctx, admin, CreateIssueRequest{Name: "Grief"})
	p := therapistPrincipal(t, svc, "th@example.com")

	tz := "Europe/London"
	quals := "MSc Clinical Psychology"
	specs := []uuid.UUID{anxiety.ID, grief.ID, anxiety.ID}
	out, err := svc.UpdateTherapistProfile(ctx, p, UpdateTherapistRequest{TimeZone: &tz, Qualifications: &quals, Specialties: &specs})
	if err != nil {
		t.Fatalf("UpdateTherapistProfile: %v", err)
	}
	if out.TimeZone != tz || out.Qualifications != quals {
		t.Errorf("fields not applied: %+v", out)
	}
	if len(out.Specialties) != 2 {
		t.Errorf("expected 2 deduplicated specialties, got %d", len(out.Specialties))
	}
	if !out.Treats(grief.ID) {
		t.Error("expected therapist to treat grief")
	}

	suggested, err := svc.SuggestedTherapists(ctx, anxiety.ID)
	if err != nil {
		t.Fatalf("SuggestedTherapists: %v", err)
	}
	if len(suggested) != 1 || suggested[0].ID != p.ProfileID || suggested[0].Name != "Ada Lovelace" {
		t.Errorf("unexpected suggestions %+v", suggested)
	}
}

func TestService_UpdateTherapistProfile_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := therapistPrincipal(t, svc, "v@example.com")

	bad := "Mars/Olympus"
	unknown := []uuid.UUID{uuid.New()}
	tests := []struct {
		name  string
		req   UpdateTherapistRequest
		field string
	}{
		{"empty", UpdateTherapistRequest{}, apperr.NonFieldKey},
		{"bad time zone", UpdateTherapistRequest{TimeZone: &bad}, "time_zone"},
		{"unknown issue", UpdateTherapistRequest{Specialties: &unknown}, "specialties"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateTherapistProfile(ctx, p, tt.req)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(ve.Fields[tt.field]) == 0 {
				t.Errorf("expected error on %s, got %v", tt.field, ve.Fields)
			}
		})
	}

	patient := auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}
	bio := "hi"
	if _, err := svc.UpdateTherapistProfile(ctx, patient, UpdateTherapistRequest{Bio: &bio}); !apperr.IsPermission(err) {
		t.Errorf("expected PermissionError, got %v", err)
	}
}

func TestService_SuggestedTherapistsEmpty(t *testing.T) {
	svc := newTestService()
	out, err := svc.SuggestedTherapists(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("SuggestedTherapists: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", out)
	}
}

func patientPrincipal(t *testing.T, svc *Service, email string) auth.Principal {
	t.Helper()
	resp, err := svc.Register(context.Background(), registerReq(email, auth.RolePatient))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return resp.Account.Principal()
}

func TestService_PatientProfile(t *testing.T) {
	svc, deps := newTestServiceWithDeps()
	ctx := context.Background()
	p := patientPrincipal(t, svc, "pat@example.com")

	pp, err := svc.MyPatientProfile(ctx, p)
	if err != nil {
		t.Fatalf("MyPatientProfile: %v", err)
	}
	if pp.ID != p.ProfileID || pp.Email != "pat@example.com" || pp.FirstName != "Ada" {
		t.Errorf("unexpected profile %+v", pp)
	}
	if pp.ProfileImage != "" || pp.ConversationSummary != "" {
		t.Errorf("expected empty image and summary, got %+v", pp)
	}

	img := " https://cdn.example.com/p/ada.png "
	out, err := svc.UpdatePatientProfile(ctx, p, UpdatePatientRequest{ProfileImage: &img})
	if err != nil {
		t.Fatalf("UpdatePatientProfile: %v", err)
	}
	if out.ProfileImage != "https://cdn.example.com/p/ada.png" {
		t.Errorf("expected trimmed image, got %q", out.ProfileImage)
	}
	if deps.profiles.patients[p.ProfileID].ProfileImage != out.ProfileImage {
		t.Error("expected image to be stored")
	}

	var ve *apperr.ValidationError
	_, err = svc.UpdatePatientProfile(ctx, p, UpdatePatientRequest{})
	if !errors.As(err, &ve) || ve.Fields[apperr.NonFieldKey][0] != "Only profile_image can be updated." {
		t.Errorf("expected profile_image-only error, got %v", err)
	}

	th := therapistPrincipal(t, svc, "th@example.com")
	if _, err := svc.MyPatientProfile(ctx, th); !apperr.IsPermission(err) {
		t.Errorf("expected PermissionError for therapist, got %v", err)
	}
}

func TestService_PatientSummaryAndAdminList(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	admin := auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin}
	p := patientPrincipal(t, svc, "one@example.com")
	patientPrincipal(t, svc, "two@example.com")

	summary := "Discussed sleep hygiene; follow up on journaling."
	out, err := svc.UpdatePatientSummary(ctx, admin, p.ProfileID, UpdatePatientSummaryRequest{ConversationSummary: &summary})
	if err != nil {
		t.Fatalf("UpdatePatientSummary: %v", err)
	}
	if out.ConversationSummary != summary {
		t.Errorf("summary not applied: %q", out.ConversationSummary)
	}
	mine, err := svc.MyPatientProfile(ctx, p)
	if err != nil {
		t.Fatalf("MyPatientProfile: %v", err)
	}
	if mine.ConversationSummary != summary {
		t.Error("expected patient to see the summary")
	}

	if _, err := svc.UpdatePatientSummary(ctx, p, p.ProfileID, UpdatePatientSummaryRequest{ConversationSummary: &summary}); !apperr.IsPermission(err) {
		t.Errorf("expected PermissionError for patient, got %v", err)
	}
	if _, err := svc.UpdatePatientSummary(ctx, admin, uuid.New(), UpdatePatientSummaryRequest{ConversationSummary: &summary}); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}

	items, total, err := svc.ListPatients(ctx, admin, 1, 0)
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if total != 2 || len(items) != 1 {
		t.Errorf("expected 1 of 2, got %d of %d", len(items), total)
	}
	if _, _, err := svc.ListPatients(ctx, p, 10, 0); !apperr.IsPermission(err) {
		t.Errorf("expected PermissionError for patient, got %v", err)
	}

	got, err := svc.GetPatient(ctx, admin, p.ProfileID)
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	if got.Email != "one@example.com" {
		t.Errorf("unexpected patient %+v", got)
	}
}

func TestService_DeactivateBlocksLogin(t *testing.T) {
	svc, deps := newTestServiceWithDeps()
	ctx := context.Background()
	p := patientPrincipal(t, svc, "leaving@example.com")

	if err := svc.Deactivate(ctx, p); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if deps.users.users[p.UserID].IsActive {
		t.Error("expected user to be inactive")
	}
	if len(deps.profiles.patients) != 1 {
		t.Error("expected profile to be kept")
	}
	_, err := svc.Login(ctx, LoginRequest{Email: "leaving@example.com", Password: "s3cret-pass"})
	if !apperr.IsPermission(err) {
		t.Errorf("expected PermissionError, got %v", err)
	}
}
