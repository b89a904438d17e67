package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

func TestBookingCounters(t *testing.T) {
	m := New("clinic_booking")

	m.ObserveCreate(appointment.OutcomeCreated)
	m.ObserveCreate(appointment.OutcomeConflict)
	m.ObserveCreate(appointment.OutcomeConflict)
	m.ObserveTransition(appointment.StatusCancelled)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues(appointment.OutcomeCreated)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues(appointment.OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("cancelled")))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New("clinic_booking")

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/appointments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/"+strings.Repeat("a", i+1), nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/appointments/{id}", http.MethodGet, "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_booking_http_requests_total")
}
