package appointment

import "github.com/google/uuid"

// ActsFor reports whether c may read or create bookings on behalf of userID.
func (c Caller) ActsFor(userID uuid.UUID) bool {
	return c.IsAdmin() || (c.UserID != uuid.Nil && c.UserID == userID)
}

// CanView reports whether c may read a.
func (c Caller) CanView(a *Appointment) bool {
	return c.ActsFor(a.UserID) || c.OwnsClinic(a.ClinicID)
}

// CanManageClinic reports whether c may list a clinic's bookings.
func (c Caller) CanManageClinic(clinicID uuid.UUID) bool {
	return c.IsAdmin() || c.OwnsClinic(clinicID)
}

// CanTransition reports whether c may move a to status `to`. Owners may cancel;
// completing is reserved for the clinic.
func (c Caller) CanTransition(a *Appointment, to AppointmentStatus) bool {
	if c.CanManageClinic(a.ClinicID) {
		return true
	}
	return to == StatusCancelled && c.UserID != uuid.Nil && c.UserID == a.UserID
}
