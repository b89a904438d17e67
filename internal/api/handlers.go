package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller")
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "could not parse JSON")
			return
		}

		// The booking owner is the verified caller unless an admin books for someone.
		userID := caller.UserID
		if strings.TrimSpace(req.UserID) != "" {
			id, err := parseID("user_id", req.UserID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			userID = id
		}
		if !caller.ActsFor(userID) {
			writeError(w, http.StatusForbidden, "forbidden", "user_id does not match the authenticated caller")
			return
		}

		clinicID, err := parseID("clinic_id", req.ClinicID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		rawSlot := req.Slot
		if rawSlot == "" {
			rawSlot = req.TimeSlot
		}

		appt, err := svc.CreateBooking(r.Context(), appointment.CreateRequest{
			UserID:   userID,
			ClinicID: clinicID,
			Date:     appointment.Date(strings.TrimSpace(req.Date)),
			Slot:     slot.Slot(strings.TrimSpace(rawSlot)),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler serves GET /appointments. With clinic_id and date instead
// of user_id it answers availability, as older clients expect.
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if q.Get("user_id") == "" && q.Get("clinic_id") != "" && q.Get("date") != "" {
			availabilityHandler(svc)(w, r)
			return
		}

		caller, _ := auth.CallerFromContext(r.Context())

		userID, err := parseID("user_id", q.Get("user_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !caller.ActsFor(userID) {
			writeError(w, http.StatusForbidden, "forbidden", "cannot list another user's appointments")
			return
		}

		appts, err := svc.ListBookings(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailList(appts))
	}
}

func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		clinicID, err := parseID("clinic_id", q.Get("clinic_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		date, err := appointment.ParseDate(q.Get("date"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		free, err := svc.GetAvailability(r.Context(), clinicID, date)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, slotStrings(free))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.CallerFromContext(r.Context())

		id, err := parseID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		detail, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !caller.CanView(&detail.Appointment) {
			writeError(w, http.StatusForbidden, "forbidden", "appointment belongs to another user")
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "could not parse JSON")
			return
		}

		id, err := parseID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		applyStatus(w, r, svc, id, req.Status)
	}
}

// legacyUpdateStatusHandler serves PUT /appointments with the id in the body.
func legacyUpdateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "could not parse JSON")
			return
		}

		id, err := parseID("appointment_id", req.AppointmentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		applyStatus(w, r, svc, id, req.Status)
	}
}

func applyStatus(w http.ResponseWriter, r *http.Request, svc *appointment.Service, id uuid.UUID, rawStatus string) {
	caller, _ := auth.CallerFromContext(r.Context())

	if strings.TrimSpace(rawStatus) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "status is required")
		return
	}
	to, err := appointment.ParseStatus(rawStatus)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	appt, err := svc.SetStatusAs(r.Context(), caller, id, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func clinicAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.CallerFromContext(r.Context())

		clinicID, err := parseID("clinic id", chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !caller.CanManageClinic(clinicID) {
			writeError(w, http.StatusForbidden, "forbidden", "caller does not manage this clinic")
			return
		}

		filter := appointment.ClinicFilter{ClinicID: clinicID}
		q := r.URL.Query()
		if raw := q.Get("date"); raw != "" {
			date, err := appointment.ParseDate(raw)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			filter.Date = &date
		}
		if raw := q.Get("status"); raw != "" {
			st, err := appointment.ParseStatus(raw)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			filter.Status = &st
		}

		appts, err := svc.ListClinicBookings(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailList(appts))
	}
}

func slotsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SlotsResponse{Slots: slotStrings(slot.All())})
}

// writeServiceError maps each error kind to exactly one status code.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "slot_already_booked", "time slot is already booked")
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrUnavailable):
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "storage is temporarily unavailable, retry the request")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func parseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", appointment.ErrValidation, field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a valid UUID", appointment.ErrValidation, field)
	}
	return id, nil
}

func slotStrings(slots []slot.Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.String()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
