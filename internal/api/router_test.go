package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/scheduling/internal/scheduling"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// 2026-09-07 is a Monday.
var testMonday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (http.Handler, *scheduling.MemoryRepository, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: testMonday.Add(-6 * time.Hour)}
	repo := scheduling.NewMemoryRepository()
	svc := scheduling.NewService(repo, nil, nil, clock,
		scheduling.ServiceConfig{LockTTL: 5 * time.Minute}, zerolog.Nop())
	router := NewRouter(RouterConfig{Service: svc, Log: zerolog.Nop(), Env: "test", Version: "test"})
	return router, repo, clock
}

func seedPeople(repo *scheduling.MemoryRepository) (practitionerID, patientID uuid.UUID) {
	practitionerID = uuid.New()
	patientID = uuid.New()
	repo.PutPractitioner(scheduling.Practitioner{ID: practitionerID, Name: "Dr. Verstraeten"})
	repo.PutPatient(scheduling.Patient{ID: patientID, Name: "Jonas Claes"})
	return practitionerID, patientID
}

func doJSON(t *testing.T, router http.Handler, method, path string, userID uuid.UUID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())
	req.Header.Set("X-User-Role", role)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestIdentityRequired(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/locks", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/locks", bytes.NewReader(nil))
	req.Header.Set("X-User-ID", uuid.New().String())
	req.Header.Set("X-User-Role", "intruder")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_identity", decodeBody[ErrorResponse](t, rec).Error)
}

func TestRequestIDHeader(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))
}

func TestBookingFlowOverHTTP(t *testing.T) {
	router, repo, clock := newTestRouter(t)
	practitionerID, patientID := seedPeople(repo)

	start := testMonday.Add(9 * time.Hour)

	// Reserve the slot.
	rec := doJSON(t, router, http.MethodPost, "/locks", patientID, "patient", AcquireLockRequest{
		PractitionerID: practitionerID.String(),
		Start:          start,
		Minutes:        30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	lock := decodeBody[LockResponse](t, rec)
	assert.Equal(t, clock.Now().Add(5*time.Minute), lock.ExpiresAt)

	// A rival cannot reserve the same slot.
	rec = doJSON(t, router, http.MethodPost, "/locks", uuid.New(), "patient", AcquireLockRequest{
		PractitionerID: practitionerID.String(),
		Start:          start,
		Minutes:        30,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Book with the reservation token.
	token := lock.Token.String()
	rec = doJSON(t, router, http.MethodPost, "/appointments", patientID, "patient", CreateAppointmentRequest{
		PractitionerID: practitionerID.String(),
		PatientID:      patientID.String(),
		Start:          start,
		Minutes:        30,
		LockToken:      &token,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "planned", appt.Status)

	// Confirm it.
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/appointments/%s/confirm", appt.ID), uuid.New(), "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decodeBody[AppointmentResponse](t, rec).Status)

	// The slot now shows as booked.
	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/practitioners/%s/slots?from=2026-09-07&to=2026-09-07", practitionerID), patientID, "patient", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAppointmentWithoutLock(t *testing.T) {
	router, repo, _ := newTestRouter(t)
	practitionerID, patientID := seedPeople(repo)

	body := CreateAppointmentRequest{
		PractitionerID: practitionerID.String(),
		PatientID:      patientID.String(),
		Start:          testMonday.Add(9 * time.Hour),
		Minutes:        30,
	}

	rec := doJSON(t, router, http.MethodPost, "/appointments", patientID, "patient", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "patients must hold a reservation")

	rec = doJSON(t, router, http.MethodPost, "/appointments", uuid.New(), "staff", body)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "confirmed", decodeBody[AppointmentResponse](t, rec).Status)
}

func TestExpiredLockMapsToGone(t *testing.T) {
	router, repo, clock := newTestRouter(t)
	practitionerID, patientID := seedPeople(repo)

	start := testMonday.Add(9 * time.Hour)
	rec := doJSON(t, router, http.MethodPost, "/locks", patientID, "patient", AcquireLockRequest{
		PractitionerID: practitionerID.String(),
		Start:          start,
		Minutes:        30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	lock := decodeBody[LockResponse](t, rec)

	clock.Advance(10 * time.Minute)

	token := lock.Token.String()
	rec = doJSON(t, router, http.MethodPost, "/appointments", patientID, "patient", CreateAppointmentRequest{
		PractitionerID: practitionerID.String(),
		PatientID:      patientID.String(),
		Start:          start,
		Minutes:        30,
		LockToken:      &token,
	})
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "lock_expired", decodeBody[ErrorResponse](t, rec).Error)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/locks/%s/renew", token), patientID, "patient", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestReleaseLockIsIdempotent(t *testing.T) {
	router, repo, _ := newTestRouter(t)
	practitionerID, patientID := seedPeople(repo)

	rec := doJSON(t, router, http.MethodPost, "/locks", patientID, "patient", AcquireLockRequest{
		PractitionerID: practitionerID.String(),
		Start:          testMonday.Add(9 * time.Hour),
		Minutes:        30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	lock := decodeBody[LockResponse](t, rec)

	rec = doJSON(t, router, http.MethodDelete, "/locks/"+lock.Token.String(), patientID, "patient", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/locks/"+lock.Token.String(), patientID, "patient", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDomainErrorMapping(t *testing.T) {
	router, repo, _ := newTestRouter(t)
	_, patientID := seedPeople(repo)

	rec := doJSON(t, router, http.MethodGet, "/appointments/"+uuid.New().String(), patientID, "patient", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Error)

	rec = doJSON(t, router, http.MethodPost, "/locks", patientID, "patient", AcquireLockRequest{
		PractitionerID: uuid.New().String(),
		Start:          testMonday.Add(9 * time.Hour),
		Minutes:        30,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/appointments/not-a-uuid", patientID, "patient", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTemplateParsesClockTimes(t *testing.T) {
	router, repo, _ := newTestRouter(t)
	practitionerID, _ := seedPeople(repo)
	staffID := uuid.New()

	rec := doJSON(t, router, http.MethodPost, "/templates", staffID, "staff", CreateTemplateRequest{
		PractitionerID: practitionerID.String(),
		Weekday:        1,
		StartTime:      "09:00",
		EndTime:        "12:00",
		SlotMinutes:    30,
		Weekly:         true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/practitioners/%s/slots?from=2026-09-07&to=2026-09-07", practitionerID), staffID, "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	days := decodeBody[[]DayResponse](t, rec)
	require.Len(t, days, 1)
	assert.True(t, days[0].Configured)
	assert.Len(t, days[0].Slots, 6)

	rec = doJSON(t, router, http.MethodPost, "/templates", staffID, "staff", CreateTemplateRequest{
		PractitionerID: practitionerID.String(),
		Weekday:        1,
		StartTime:      "morning",
		EndTime:        "12:00",
		SlotMinutes:    30,
		Weekly:         true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRescheduleVersionMismatchOverHTTP(t *testing.T) {
	router, repo, _ := newTestRouter(t)
	practitionerID, patientID := seedPeople(repo)
	staffID := uuid.New()

	rec := doJSON(t, router, http.MethodPost, "/appointments", staffID, "staff", CreateAppointmentRequest{
		PractitionerID: practitionerID.String(),
		PatientID:      patientID.String(),
		Start:          testMonday.Add(9 * time.Hour),
		Minutes:        30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decodeBody[AppointmentResponse](t, rec)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/appointments/%s/reschedule", appt.ID), staffID, "staff", RescheduleRequest{
		Version: appt.Version + 5,
		Start:   testMonday.Add(14 * time.Hour),
		Minutes: 30,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "version_mismatch", decodeBody[ErrorResponse](t, rec).Error)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/appointments/%s/reschedule", appt.ID), staffID, "staff", RescheduleRequest{
		Version: appt.Version,
		Start:   testMonday.Add(14 * time.Hour),
		Minutes: 30,
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	moved := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, testMonday.Add(14*time.Hour), moved.Start)
	assert.Equal(t, appt.Version+1, moved.Version)
}
