package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

// CreateAppointmentRequest accepts time_slot as an alias of slot for older clients.
type CreateAppointmentRequest struct {
	UserID   string `json:"user_id"`
	ClinicID string `json:"clinic_id"`
	Date     string `json:"date"`
	Slot     string `json:"slot"`
	TimeSlot string `json:"time_slot"`
}

// UpdateStatusRequest carries appointment_id only on the legacy PUT /appointments.
type UpdateStatusRequest struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	Status        string `json:"status"`
}

type ClinicResponse struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Address *string   `json:"address,omitempty"`
	Phone   *string   `json:"phone,omitempty"`
	Status  string    `json:"status"`
}

type AppointmentResponse struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	ClinicID  uuid.UUID       `json:"clinic_id"`
	Date      string          `json:"date"`
	Slot      string          `json:"slot"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Clinic    *ClinicResponse `json:"clinic,omitempty"`
}

type SlotsResponse struct {
	Slots []string `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		ClinicID:  a.ClinicID,
		Date:      a.Date.String(),
		Slot:      a.Slot.String(),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toDetailResponse(d *appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(&d.Appointment)
	if d.Clinic != nil {
		resp.Clinic = &ClinicResponse{
			ID:      d.Clinic.ID,
			Name:    d.Clinic.Name,
			Address: d.Clinic.Address,
			Phone:   d.Clinic.Phone,
			Status:  string(d.Clinic.Status),
		}
	}
	return resp
}

func toDetailList(details []appointment.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(details))
	for i := range details {
		out = append(out, toDetailResponse(&details[i]))
	}
	return out
}
