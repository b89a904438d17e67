package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/metrics"
	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

type testServer struct {
	handler  http.Handler
	repo     *appointment.MemoryRepository
	clinicID uuid.UUID
}

// downRepo answers clinic lookups but fails every appointment read and write, like a
// primary that dropped its connections.
type downRepo struct {
	*appointment.MemoryRepository
}

var errConnRefused = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

func (downRepo) ListBookedSlots(context.Context, uuid.UUID, appointment.Date) ([]slot.Slot, error) {
	return nil, errConnRefused
}

func (downRepo) InsertBooked(context.Context, *appointment.Appointment) (*appointment.Appointment, error) {
	return nil, errConnRefused
}

func (downRepo) ListByUser(context.Context, uuid.UUID) ([]appointment.AppointmentDetail, error) {
	return nil, errConnRefused
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()
	repo := appointment.NewMemoryRepository()
	return newTestServerWithRepo(t, repo, repo, deps...)
}

func newTestServerWithRepo(t *testing.T, repo *appointment.MemoryRepository, store appointment.Repository, deps ...Dependency) *testServer {
	t.Helper()
	clinicID := uuid.New()
	repo.AddClinic(appointment.Clinic{ID: clinicID, Name: "Serenity Clinic", Status: appointment.ClinicApproved})

	m := metrics.New("test")
	svc := appointment.NewService(store, repo, zerolog.Nop(), appointment.WithMetrics(m))

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:       svc,
			Authenticator: auth.HeaderAuthenticator{},
			Metrics:       m,
			Dependencies:  deps,
			Logger:        zerolog.Nop(),
			Env:           "test",
			Version:       "dev",
		}),
		repo:     repo,
		clinicID: clinicID,
	}
}

type identity struct {
	userID   uuid.UUID
	role     string
	clinicID uuid.UUID
}

func asUser(id uuid.UUID) identity { return identity{userID: id, role: "user"} }

func (s *testServer) do(t *testing.T, who *identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set(auth.HeaderUserID, who.userID.String())
		req.Header.Set(auth.HeaderRole, who.role)
		if who.clinicID != uuid.Nil {
			req.Header.Set(auth.HeaderClinicID, who.clinicID.String())
		}
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createBody(date, slot string) map[string]string {
	return map[string]string{"clinic_id": s.clinicID.String(), "date": date, "slot": slot}
}

func TestCreateAppointment_CreatedThenConflict(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())
	bob := asUser(uuid.New())

	rec := s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-10", "09:00 AM"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[AppointmentResponse](t, rec)
	assert.Equal(t, alice.userID, created.UserID)
	assert.Equal(t, "booked", created.Status)
	assert.Equal(t, "09:00 AM", created.Slot)

	rec = s.do(t, &bob, http.MethodPost, "/appointments", s.createBody("2025-03-10", "09:00 AM"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_already_booked", decode[ErrorResponse](t, rec).Error)
}

func TestStorageFailureIsServerError(t *testing.T) {
	mem := appointment.NewMemoryRepository()
	s := newTestServerWithRepo(t, mem, downRepo{MemoryRepository: mem})
	alice := asUser(uuid.New())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"create", http.MethodPost, "/appointments", s.createBody("2025-03-12", "09:00 AM")},
		{"availability", http.MethodGet, "/availability?clinic_id=" + s.clinicID.String() + "&date=2025-03-12", nil},
		{"list", http.MethodGet, "/appointments?user_id=" + alice.userID.String(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, &alice, tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "storage_unavailable", resp.Error)
			assert.NotContains(t, resp.Details, "10.0.0.5")
		})
	}
}

func TestCreateAppointment_AcceptsTimeSlotAlias(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())

	rec := s.do(t, &alice, http.MethodPost, "/appointments", map[string]string{
		"user_id":   alice.userID.String(),
		"clinic_id": s.clinicID.String(),
		"date":      "2025-03-10",
		"time_slot": "02:30 PM",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "02:30 PM", decode[AppointmentResponse](t, rec).Slot)
}

func TestCreateAppointment_Errors(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())

	tests := []struct {
		name string
		who  *identity
		body any
		code int
		err  string
	}{
		{name: "no identity", who: nil, body: s.createBody("2025-03-10", "09:00 AM"), code: http.StatusUnauthorized, err: "unauthorized"},
		{name: "missing clinic", who: &alice, body: map[string]string{"date": "2025-03-10", "slot": "09:00 AM"}, code: http.StatusBadRequest, err: "validation_failed"},
		{name: "missing date", who: &alice, body: s.createBody("", "09:00 AM"), code: http.StatusBadRequest, err: "validation_failed"},
		{name: "unknown slot", who: &alice, body: s.createBody("2025-03-10", "01:00 PM"), code: http.StatusBadRequest, err: "validation_failed"},
		{name: "unknown clinic", who: &alice, body: map[string]string{"clinic_id": uuid.NewString(), "date": "2025-03-10", "slot": "09:00 AM"}, code: http.StatusNotFound, err: "not_found"},
		{name: "booking for someone else", who: &alice, body: map[string]string{"user_id": uuid.NewString(), "clinic_id": s.clinicID.String(), "date": "2025-03-10", "slot": "09:00 AM"}, code: http.StatusForbidden, err: "forbidden"},
		{name: "bad json", who: &alice, body: "not an object", code: http.StatusBadRequest, err: "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.who, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.err, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAvailability(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())

	rec := s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-10", "09:00 AM"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, &alice, http.MethodGet, "/availability?clinic_id="+s.clinicID.String()+"&date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	free := decode[[]string](t, rec)
	assert.Len(t, free, 13)
	assert.Equal(t, "09:30 AM", free[0])

	// legacy form on /appointments
	rec = s.do(t, &alice, http.MethodGet, "/appointments?clinic_id="+s.clinicID.String()+"&date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, free, decode[[]string](t, rec))

	rec = s.do(t, &alice, http.MethodGet, "/availability?clinic_id="+s.clinicID.String()+"&date=10-03-2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &alice, http.MethodGet, "/availability?clinic_id="+uuid.NewString()+"&date=2025-03-10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())

	for _, b := range []map[string]string{
		s.createBody("2025-03-10", "02:00 PM"),
		s.createBody("2025-03-10", "10:00 AM"),
	} {
		require.Equal(t, http.StatusCreated, s.do(t, &alice, http.MethodPost, "/appointments", b).Code)
	}

	rec := s.do(t, &alice, http.MethodGet, "/appointments?user_id="+alice.userID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "10:00 AM", list[0].Slot)
	assert.Equal(t, "02:00 PM", list[1].Slot)
	require.NotNil(t, list[0].Clinic)
	assert.Equal(t, "Serenity Clinic", list[0].Clinic.Name)

	rec = s.do(t, &alice, http.MethodGet, "/appointments?user_id="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &alice, http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	admin := identity{userID: uuid.New(), role: "admin"}
	rec = s.do(t, &admin, http.MethodGet, "/appointments?user_id="+alice.userID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())
	owner := identity{userID: uuid.New(), role: "clinic", clinicID: s.clinicID}

	rec := s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-10", "11:00 AM"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[AppointmentResponse](t, rec).ID.String()

	rec = s.do(t, &alice, http.MethodPut, "/appointments/"+id+"/status", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &owner, http.MethodPut, "/appointments/"+id+"/status", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, &owner, http.MethodPut, "/appointments/"+id+"/status", map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &owner, http.MethodPut, "/appointments/"+id+"/status", map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &owner, http.MethodPut, "/appointments/"+id+"/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &owner, http.MethodPut, "/appointments/"+uuid.NewString()+"/status", map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateStatus_LegacyCancelFreesSlot(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())

	rec := s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-12", "05:30 PM"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[AppointmentResponse](t, rec).ID.String()

	rec = s.do(t, &alice, http.MethodPut, "/appointments", map[string]string{"appointment_id": id, "status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-12", "05:30 PM"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetAppointment(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())
	mallory := asUser(uuid.New())

	rec := s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-10", "03:00 PM"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[AppointmentResponse](t, rec).ID.String()

	rec = s.do(t, &alice, http.MethodGet, "/appointments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode[AppointmentResponse](t, rec).Clinic)

	rec = s.do(t, &mallory, http.MethodGet, "/appointments/"+id, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &alice, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClinicAppointments(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())
	owner := identity{userID: uuid.New(), role: "clinic", clinicID: s.clinicID}

	require.Equal(t, http.StatusCreated, s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-10", "09:00 AM")).Code)
	require.Equal(t, http.StatusCreated, s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-11", "09:00 AM")).Code)

	path := "/clinics/" + s.clinicID.String() + "/appointments"

	rec := s.do(t, &owner, http.MethodGet, path+"?date=2025-03-11&status=booked", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "2025-03-11", list[0].Date)

	rec = s.do(t, &alice, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &owner, http.MethodGet, path+"?status=pending", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlotsAndCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/slots", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Len(t, decode[SlotsResponse](t, rec).Slots, 14)
}

func TestHealth(t *testing.T) {
	failing := PingFunc(func(context.Context) error { return errors.New("down") })
	healthy := PingFunc(func(context.Context) error { return nil })

	s := newTestServer(t,
		Dependency{Name: "postgres", Pinger: healthy},
		Dependency{Name: "redis", Pinger: failing, Optional: true},
	)
	rec := s.do(t, nil, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	s = newTestServer(t, Dependency{Name: "postgres", Pinger: failing})
	rec = s.do(t, nil, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	alice := asUser(uuid.New())
	require.Equal(t, http.StatusCreated, s.do(t, &alice, http.MethodPost, "/appointments", s.createBody("2025-03-10", "09:00 AM")).Code)

	rec := s.do(t, nil, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_booking_create_total{outcome="created"} 1`)
}
