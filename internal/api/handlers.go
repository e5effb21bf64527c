package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/medibook/clinic-booking/internal/booking"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc      *booking.Service
	validate *validator.Validate
}

func NewHandler(svc *booking.Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// Slot administration

func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	if caller.Role == booking.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only operators may manage slots")
		return
	}

	var req CreateSlotRequest
	if !h.decode(w, r, &req) {
		return
	}

	doctorID, _ := uuid.Parse(req.DoctorID)
	date, _ := time.Parse(dateLayout, req.Date)

	slot, err := h.svc.CreateSlot(r.Context(), doctorID, date, req.StartTime, req.EndTime, req.MaxCapacity)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSlotResponse(slot))
}

func (h *Handler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	if caller.Role == booking.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only operators may manage slots")
		return
	}

	slotID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return
	}

	var req UpdateSlotRequest
	if !h.decode(w, r, &req) {
		return
	}

	patch := booking.SlotPatch{
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		MaxCapacity: req.MaxCapacity,
		IsActive:    req.IsActive,
	}
	if req.Date != nil {
		d, _ := time.Parse(dateLayout, *req.Date)
		patch.SlotDate = &d
	}

	slot, err := h.svc.UpdateSlot(r.Context(), slotID, patch)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotResponse(slot))
}

func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	if caller.Role == booking.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only operators may manage slots")
		return
	}

	slotID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return
	}

	if err := h.svc.DeleteSlot(r.Context(), slotID); err != nil {
		handleBookingError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	slotID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return
	}

	slot, err := h.svc.GetSlot(r.Context(), slotID)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotResponse(slot))
}

func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	var filter booking.SlotFilter

	if v := r.URL.Query().Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		filter.DoctorID = &id
	}
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		filter.Date = &d
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active := v == "true" || v == "1"
		filter.IsActive = &active
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	slots, err := h.svc.ListSlots(r.Context(), filter)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	resp := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		resp = append(resp, toSlotResponse(&slots[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"slots": resp})
}

// Availability

func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, date, ok := doctorAndDate(w, r)
	if !ok {
		return
	}

	views, err := h.svc.ListBookableSlots(r.Context(), doctorID, date)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"slots": views})
}

func (h *Handler) AvailableWindows(w http.ResponseWriter, r *http.Request) {
	doctorID, date, ok := doctorAndDate(w, r)
	if !ok {
		return
	}

	windows, err := h.svc.AvailableWindows(r.Context(), doctorID, date)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

func doctorAndDate(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, bool) {
	doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return uuid.Nil, time.Time{}, false
	}
	date, err := time.Parse(dateLayout, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return uuid.Nil, time.Time{}, false
	}
	return doctorID, date, true
}

// Booking

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	if caller.Role != booking.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only patients may book slots")
		return
	}

	var req BookSlotRequest
	if !h.decode(w, r, &req) {
		return
	}

	slotID, _ := uuid.Parse(req.SlotID)

	appt, err := h.svc.Book(r.Context(), caller.ID, slotID, req.Notes)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) BookRaw(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	if caller.Role != booking.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only patients may book appointments")
		return
	}

	var req BookRawRequest
	if !h.decode(w, r, &req) {
		return
	}

	doctorID, _ := uuid.Parse(req.DoctorID)
	date, _ := time.Parse(dateLayout, req.Date)

	appt, err := h.svc.BookRaw(r.Context(), caller.ID, doctorID, date, req.StartTime, req.Notes)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req MoveAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	newSlotID, _ := uuid.Parse(req.NewSlotID)

	result, err := h.svc.Move(r.Context(), caller.ID, caller.Role, appointmentID, newSlotID)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(result.Appointment))
}

// Status transitions

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, func(ctx *transitionCtx) (*booking.Appointment, error) {
		return h.svc.Accept(ctx.r.Context(), ctx.appointmentID, ctx.caller.ID)
	})
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	caller, _ := CallerFrom(r.Context())

	var req DeclineRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}

	appt, err := h.svc.Decline(r.Context(), appointmentID, caller.ID, req.Reason)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, func(ctx *transitionCtx) (*booking.Appointment, error) {
		return h.svc.Complete(ctx.r.Context(), ctx.appointmentID, ctx.caller.ID)
	})
}

func (h *Handler) MarkMissed(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, func(ctx *transitionCtx) (*booking.Appointment, error) {
		return h.svc.MarkMissed(ctx.r.Context(), ctx.appointmentID, ctx.caller.ID, ctx.caller.Role)
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, func(ctx *transitionCtx) (*booking.Appointment, error) {
		return h.svc.Cancel(ctx.r.Context(), ctx.appointmentID, ctx.caller.ID, ctx.caller.Role)
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	caller, _ := CallerFrom(r.Context())

	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), appointmentID, caller.ID, caller.Role, booking.AppointmentStatus(req.Status))
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type transitionCtx struct {
	r             *http.Request
	appointmentID uuid.UUID
	caller        Caller
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, fn func(*transitionCtx) (*booking.Appointment, error)) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	caller, _ := CallerFrom(r.Context())

	appt, err := fn(&transitionCtx{r: r, appointmentID: appointmentID, caller: caller})
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Appointment queries

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), appointmentID)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var filter booking.AppointmentFilter
	if v := r.URL.Query().Get("status"); v != "" {
		st := booking.AppointmentStatus(v)
		filter.Status = &st
	}
	if v := r.URL.Query().Get("doctor_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.DoctorID = &id
		}
	}
	if v := r.URL.Query().Get("patient_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.PatientID = &id
		}
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	appts, err := h.svc.ListAppointments(r.Context(), caller.ID, caller.Role, filter)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, toAppointmentResponse(&appts[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"appointments": resp})
}

// handleBookingError maps the service's typed errors onto HTTP statuses.
func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotExists):
		writeError(w, http.StatusConflict, "slot_exists", err.Error())
	case errors.Is(err, booking.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, booking.ErrDuplicateBooking):
		writeError(w, http.StatusConflict, "duplicate_booking", err.Error())
	case errors.Is(err, booking.ErrWindowTaken):
		writeError(w, http.StatusConflict, "window_taken", err.Error())
	case errors.Is(err, booking.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_busy", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrStaleVersion):
		writeError(w, http.StatusConflict, "stale_version", err.Error())
	case errors.Is(err, booking.ErrSlotInactive):
		writeError(w, http.StatusBadRequest, "slot_inactive", err.Error())
	case errors.Is(err, booking.ErrInvalidTimeRange):
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
	case errors.Is(err, booking.ErrInvalidCapacity):
		writeError(w, http.StatusBadRequest, "invalid_capacity", err.Error())
	case errors.Is(err, booking.ErrCapacityBelowBookings):
		writeError(w, http.StatusBadRequest, "capacity_below_bookings", err.Error())
	case errors.Is(err, booking.ErrHasActiveBookings):
		writeError(w, http.StatusBadRequest, "has_active_bookings", err.Error())
	case errors.Is(err, booking.ErrAlreadyCancelled):
		writeError(w, http.StatusBadRequest, "already_cancelled", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
