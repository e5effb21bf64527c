package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/clinic-booking/internal/booking"
)

type CreateSlotRequest struct {
	DoctorID    string `json:"doctor_id" validate:"required,uuid"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time" validate:"required"`
	EndTime     string `json:"end_time" validate:"required"`
	MaxCapacity int    `json:"max_capacity" validate:"required,min=1"`
}

type UpdateSlotRequest struct {
	Date        *string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	MaxCapacity *int    `json:"max_capacity,omitempty" validate:"omitempty,min=1"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type BookSlotRequest struct {
	SlotID string  `json:"slot_id" validate:"required,uuid"`
	Notes  *string `json:"notes,omitempty"`
}

type BookRawRequest struct {
	DoctorID  string  `json:"doctor_id" validate:"required,uuid"`
	Date      string  `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string  `json:"start_time" validate:"required"`
	Notes     *string `json:"notes,omitempty"`
}

type MoveAppointmentRequest struct {
	NewSlotID string `json:"new_slot_id" validate:"required,uuid"`
}

type DeclineRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=CONFIRMED COMPLETED CANCELLED MISSED"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentBookings int       `json:"current_bookings"`
	AvailableSpots  int       `json:"available_spots"`
	IsFull          bool      `json:"is_full"`
	IsActive        bool      `json:"is_active"`
	Version         int       `json:"version"`
}

func toSlotResponse(s *booking.Slot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		DoctorID:        s.DoctorID,
		Date:            s.SlotDate.Format("2006-01-02"),
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		MaxCapacity:     s.MaxCapacity,
		CurrentBookings: s.CurrentBookings,
		AvailableSpots:  s.AvailableSpots(),
		IsFull:          s.IsFull(),
		IsActive:        s.IsActive,
		Version:         s.Version,
	}
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	SlotID          *uuid.UUID `json:"slot_id,omitempty"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	Status          string     `json:"status"`
	BookingStatus   string     `json:"booking_status,omitempty"`
	IsPriority      bool       `json:"is_priority"`
	Notes           *string    `json:"notes,omitempty"`
	Version         int        `json:"version"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		SlotID:        a.SlotID,
		Date:          a.AppointmentDate.Format("2006-01-02"),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        string(a.Status),
		BookingStatus: a.BookingStatus,
		IsPriority:    a.IsPriority,
		Notes:         a.Notes,
		Version:       a.Version,
		CancelledAt:   a.CancelledAt,
		CreatedAt:     a.CreatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
