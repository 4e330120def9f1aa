package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/appointment"
	"github.com/tunminster/by-the-app-demo/internal/patient"
	redisclient "github.com/tunminster/by-the-app-demo/internal/redis"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

type stubBookings struct {
	create       func(appointment.Draft) (*appointment.Appointment, error)
	update       func(uuid.UUID, appointment.Patch) (*appointment.Appointment, error)
	updateStatus func(uuid.UUID, appointment.Status) (*appointment.Appointment, error)
	del          func(uuid.UUID) error
	get          func(uuid.UUID) (*appointment.Appointment, error)
	search       func(appointment.Filter) ([]appointment.Appointment, error)
	availability func(uuid.UUID, time.Time) (*slot.Availability, error)
	check        func(slot.Ref) (slot.CheckResult, error)
	publish      func(slot.Availability) (*slot.Availability, error)
}

func (s *stubBookings) CreateAppointment(_ context.Context, d appointment.Draft) (*appointment.Appointment, error) {
	return s.create(d)
}

func (s *stubBookings) UpdateAppointment(_ context.Context, id uuid.UUID, p appointment.Patch) (*appointment.Appointment, error) {
	return s.update(id, p)
}

func (s *stubBookings) UpdateStatus(_ context.Context, id uuid.UUID, st appointment.Status) (*appointment.Appointment, error) {
	return s.updateStatus(id, st)
}

func (s *stubBookings) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	return s.del(id)
}

func (s *stubBookings) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.get(id)
}

func (s *stubBookings) SearchAppointments(_ context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	return s.search(f)
}

func (s *stubBookings) GetAvailability(_ context.Context, id uuid.UUID, d time.Time) (*slot.Availability, error) {
	return s.availability(id, d)
}

func (s *stubBookings) CheckSlot(_ context.Context, ref slot.Ref) (slot.CheckResult, error) {
	return s.check(ref)
}

func (s *stubBookings) PublishAvailability(_ context.Context, a slot.Availability) (*slot.Availability, error) {
	return s.publish(a)
}

type sinkFunc func(callID, transcript string) error

func (f sinkFunc) OnTranscriptComplete(_ context.Context, callID, transcript string, _ map[string]any) error {
	return f(callID, transcript)
}

type patientsFunc func(uuid.UUID) (*patient.Patient, error)

func (f patientsFunc) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) { return f(id) }

func newTestServer(t *testing.T, cfg RouterConfig) *httptest.Server {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	srv := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

var dentistID = uuid.MustParse("7d0f5c3e-3f5e-4c9b-9a57-1f2a3b4c5d6e")

func sampleAppointment(d appointment.Draft) *appointment.Appointment {
	status := d.Status
	if status == "" {
		status = appointment.StatusConfirmed
	}
	return &appointment.Appointment{
		ID:          uuid.New(),
		PatientName: d.PatientName,
		Phone:       d.Phone,
		DentistID:   d.DentistID,
		Date:        d.Date,
		StartTime:   d.StartTime,
		Treatment:   d.Treatment,
		Status:      status,
		Notes:       d.Notes,
	}
}

func TestCreateAppointment(t *testing.T) {
	var got appointment.Draft
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		create: func(d appointment.Draft) (*appointment.Appointment, error) {
			got = d
			return sampleAppointment(d), nil
		},
	}})

	body := fmt.Sprintf(`{"patient":"Alice","phone":"555-0100","dentist_id":"%s","appointment_date":"2025-11-03","appointment_time":"10:00","treatment":"Cleaning","notes":"first visit"}`, dentistID)
	resp, out := do(t, http.MethodPost, srv.URL+"/appointments", body)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "Alice", out["patient"])
	assert.Equal(t, "2025-11-03", out["appointment_date"])
	assert.Equal(t, "10:00", out["appointment_time"])
	assert.Equal(t, "confirmed", out["status"])
	assert.Equal(t, "first visit", out["notes"])

	assert.Equal(t, dentistID, got.DentistID)
	assert.Equal(t, time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), got.Date)
}

func TestCreateAppointmentUsesIdempotencyHeader(t *testing.T) {
	var got appointment.Draft
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		create: func(d appointment.Draft) (*appointment.Appointment, error) {
			got = d
			return sampleAppointment(d), nil
		},
	}})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/appointments", strings.NewReader(
		fmt.Sprintf(`{"patient":"A","dentist_id":"%s","appointment_date":"2025-11-03","appointment_time":"10:00"}`, dentistID)))
	require.NoError(t, err)
	req.Header.Set("Idempotency-Key", "abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "abc", got.IdempotencyKey)
}

func TestCreateAppointmentErrors(t *testing.T) {
	valid := fmt.Sprintf(`{"patient":"A","dentist_id":"%s","appointment_date":"2025-11-03","appointment_time":"10:00"}`, dentistID)

	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"bad json", `{"patient":`, nil, http.StatusBadRequest, "invalid_request"},
		{"empty body", ``, nil, http.StatusBadRequest, "invalid_request"},
		{"bad dentist", `{"patient":"A","dentist_id":"x","appointment_date":"2025-11-03","appointment_time":"10:00"}`, nil, http.StatusBadRequest, "invalid_request"},
		{"bad date", fmt.Sprintf(`{"patient":"A","dentist_id":"%s","appointment_date":"03/11/2025","appointment_time":"10:00"}`, dentistID), nil, http.StatusBadRequest, "invalid_request"},
		{"bad status", fmt.Sprintf(`{"patient":"A","dentist_id":"%s","appointment_date":"2025-11-03","appointment_time":"10:00","status":"maybe"}`, dentistID), nil, http.StatusBadRequest, "invalid_request"},
		{"booked", valid, appointment.ErrSlotUnavailable, http.StatusConflict, "slot_already_booked"},
		{"locked", valid, redisclient.ErrLockNotAcquired, http.StatusConflict, "slot_being_booked"},
		{"not in schedule", valid, appointment.ErrSlotNotInSchedule, http.StatusBadRequest, "slot_not_in_schedule"},
		{"no dentist", valid, appointment.ErrDentistNotFound, http.StatusNotFound, "dentist_not_found"},
		{"transient", valid, fmt.Errorf("%w: db down", apperr.ErrTransient), http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown", valid, errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
				create: func(d appointment.Draft) (*appointment.Appointment, error) {
					if tc.err != nil {
						return nil, tc.err
					}
					return sampleAppointment(d), nil
				},
			}})
			resp, out := do(t, http.MethodPost, srv.URL+"/appointments", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, out["error"])
			assert.NotEmpty(t, out["details"])
		})
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		get: func(uuid.UUID) (*appointment.Appointment, error) { return nil, errors.New("pq: password=secret") },
	}})
	_, out := do(t, http.MethodGet, srv.URL+"/appointments/"+uuid.NewString(), "")
	assert.Equal(t, "internal server error", out["details"])
}

func TestUpdateStatusFromQueryOrBody(t *testing.T) {
	id := uuid.New()
	var seen []appointment.Status
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		updateStatus: func(got uuid.UUID, s appointment.Status) (*appointment.Appointment, error) {
			assert.Equal(t, id, got)
			seen = append(seen, s)
			return &appointment.Appointment{ID: got, Status: s}, nil
		},
	}})

	resp, out := do(t, http.MethodPut, srv.URL+"/appointments/"+id.String()+"/status?status=cancelled", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", out["status"])

	resp, _ = do(t, http.MethodPut, srv.URL+"/appointments/"+id.String()+"/status", `{"status":"no-show"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/appointments/"+id.String()+"/status", `{"status":"gone"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []appointment.Status{appointment.StatusCancelled, appointment.StatusNoShow}, seen)
}

func TestUpdateStatusTerminalConflict(t *testing.T) {
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		updateStatus: func(uuid.UUID, appointment.Status) (*appointment.Appointment, error) {
			return nil, appointment.ErrInvalidStatusTransition
		},
	}})
	resp, out := do(t, http.MethodPut, srv.URL+"/appointments/"+uuid.NewString()+"/status?status=confirmed", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_status_transition", out["error"])
}

func TestUpdateAppointmentBuildsPatch(t *testing.T) {
	var got appointment.Patch
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		update: func(id uuid.UUID, p appointment.Patch) (*appointment.Appointment, error) {
			got = p
			return &appointment.Appointment{ID: id, StartTime: "11:00", Status: appointment.StatusConfirmed}, nil
		},
	}})

	resp, _ := do(t, http.MethodPut, srv.URL+"/appointments/"+uuid.NewString(), `{"appointment_time":"11:00","appointment_date":"2025-11-04"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, got.StartTime)
	require.NotNil(t, got.Date)
	assert.Equal(t, "11:00", *got.StartTime)
	assert.Equal(t, 4, got.Date.Day())
	assert.Nil(t, got.PatientName)
	assert.Nil(t, got.Status)
	assert.Nil(t, got.DentistID)
}

func TestGetAndDeleteAppointment(t *testing.T) {
	known := uuid.New()
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		get: func(id uuid.UUID) (*appointment.Appointment, error) {
			if id != known {
				return nil, appointment.ErrAppointmentNotFound
			}
			return &appointment.Appointment{ID: id, PatientName: "A"}, nil
		},
		del: func(id uuid.UUID) error {
			if id != known {
				return appointment.ErrAppointmentNotFound
			}
			return nil
		},
	}})

	resp, out := do(t, http.MethodGet, srv.URL+"/appointments/"+known.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "A", out["patient"])

	resp, out = do(t, http.MethodGet, srv.URL+"/appointments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "appointment_not_found", out["error"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/appointments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/appointments/"+known.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/appointments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearchAppointmentsParsesFilter(t *testing.T) {
	var got appointment.Filter
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		search: func(f appointment.Filter) ([]appointment.Appointment, error) {
			got = f
			return []appointment.Appointment{{ID: uuid.New(), PatientName: "Alice"}}, nil
		},
	}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/appointments?patient=ali&dentist_id="+dentistID.String()+"&date_from=2025-11-01&status=confirmed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []AppointmentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "ali", got.Patient)
	require.NotNil(t, got.DentistID)
	assert.Equal(t, dentistID, *got.DentistID)
	require.NotNil(t, got.DateFrom)
	assert.Nil(t, got.DateTo)
	require.NotNil(t, got.Status)
	assert.Equal(t, appointment.StatusConfirmed, *got.Status)
}

func TestListStatuses(t *testing.T) {
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{}})
	resp, err := http.Get(srv.URL + "/appointments/statuses")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []appointment.StatusInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out, 5)
	assert.Equal(t, appointment.StatusConfirmed, out[0].Value)
}

func TestAvailabilityEndpoints(t *testing.T) {
	store := slot.NewMemoryStore()
	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{
		publish: func(a slot.Availability) (*slot.Availability, error) {
			return store.Publish(context.Background(), a)
		},
		availability: func(id uuid.UUID, d time.Time) (*slot.Availability, error) {
			return store.Get(context.Background(), id, d)
		},
		check: func(ref slot.Ref) (slot.CheckResult, error) {
			return store.Check(context.Background(), ref)
		},
	}})

	body := fmt.Sprintf(`{"dentist_id":"%s","date":"2025-11-03","time_slots":[{"start":"9:00","end":"9:30","available":true},{"start":"10:00","end":"10:30","available":true}]}`, dentistID)
	resp, out := do(t, http.MethodPost, srv.URL+"/availability", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "2025-11-03", out["date"])

	resp, out = do(t, http.MethodPost, srv.URL+"/availability", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "availability_exists", out["error"])

	resp, out = do(t, http.MethodGet, srv.URL+"/availability/"+dentistID.String()+"/2025-11-03", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["time_slots"], 2)

	resp, out = do(t, http.MethodGet, srv.URL+"/availability/"+dentistID.String()+"/2025-11-03/09:00", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["available"])
	assert.Equal(t, "09:00", out["time"])

	resp, out = do(t, http.MethodGet, srv.URL+"/availability/"+dentistID.String()+"/2025-11-03/11:00", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["available"])
	assert.Equal(t, "not_in_schedule", out["reason"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/availability/"+dentistID.String()+"/2025-11-04", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitTranscript(t *testing.T) {
	var calls []string
	srv := newTestServer(t, RouterConfig{
		Bookings: &stubBookings{},
		Transcripts: sinkFunc(func(callID, transcript string) error {
			if strings.TrimSpace(callID) == "" {
				return fmt.Errorf("%w: call_id is required", apperr.ErrInvalid)
			}
			calls = append(calls, callID+":"+transcript)
			return nil
		}),
	})

	resp, out := do(t, http.MethodPost, srv.URL+"/voice/transcripts", `{"call_id":"CA1","transcript":"hello"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", out["status"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/voice/transcripts", `{"call_id":"","transcript":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/voice/transcripts", `{"call_id":"CA2","transcript":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []string{"CA1:hello"}, calls)
}

func TestGetPatient(t *testing.T) {
	id := uuid.New()
	next := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	srv := newTestServer(t, RouterConfig{
		Bookings: &stubBookings{},
		Patients: patientsFunc(func(got uuid.UUID) (*patient.Patient, error) {
			if got != id {
				return nil, patient.ErrPatientNotFound
			}
			return &patient.Patient{ID: id, Name: "Alice", Phone: "555-0100", NextAppointment: &next}, nil
		}),
	})

	resp, out := do(t, http.MethodGet, srv.URL+"/patients/"+id.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-11-03", out["next_appointment"])

	resp, out = do(t, http.MethodGet, srv.URL+"/patients/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "patient_not_found", out["error"])
}

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	cases := []struct {
		name   string
		h      *HealthHandler
		status int
		want   string
	}{
		{"all up", NewHealthHandler("test", "v1").AddCheck("postgres", true, up).AddCheck("redis", false, up), http.StatusOK, "ok"},
		{"redis down", NewHealthHandler("test", "v1").AddCheck("postgres", true, up).AddCheck("redis", false, down), http.StatusOK, "degraded"},
		{"postgres down", NewHealthHandler("test", "v1").AddCheck("postgres", true, down).AddCheck("redis", false, up), http.StatusServiceUnavailable, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{}, Health: tc.h})
			resp, out := do(t, http.MethodGet, srv.URL+"/health/ready", "")
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.want, out["status"])
		})
	}

	srv := newTestServer(t, RouterConfig{Bookings: &stubBookings{}, Health: NewHealthHandler("test", "v1")})
	resp, out := do(t, http.MethodGet, srv.URL+"/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", out["version"])
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestRequestIDIsPropagated(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}
