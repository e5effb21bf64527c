package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusMissed    AppointmentStatus = "MISSED"
)

// IsTerminal reports whether no further status transition is allowed.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// BookingStatusConfirmed is set on slot-flow appointments at creation.
// Raw doctor+time appointments carry no booking status.
const BookingStatusConfirmed = "CONFIRMED"

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a bookable time window for one doctor on one calendar date.
// CurrentBookings is the authoritative count of non-cancelled appointments
// in the slot; every mutation of it goes through a repository transaction.
type Slot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	SlotDate        time.Time // calendar day, time component ignored
	StartTime       string    // HH:mm
	EndTime         string    // HH:mm
	MaxCapacity     int
	CurrentBookings int
	IsActive        bool
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Slot) IsFull() bool {
	return s.CurrentBookings >= s.MaxCapacity
}

func (s *Slot) AvailableSpots() int {
	return s.MaxCapacity - s.CurrentBookings
}

// Appointment is one patient's claim on a slot, or a raw doctor+time booking
// when SlotID is nil.
type Appointment struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	SlotID           *uuid.UUID
	AppointmentDate  time.Time
	StartTime        string
	EndTime          string
	Status           AppointmentStatus
	BookingStatus    string // empty for the raw flow
	AttendanceStatus *string
	IsPriority       bool
	Notes            *string
	Version          int
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SlotPatch carries partial slot updates. Nil fields are left unchanged.
type SlotPatch struct {
	SlotDate    *time.Time
	StartTime   *string
	EndTime     *string
	MaxCapacity *int
	IsActive    *bool
}

// AppointmentFilter scopes appointment listings.
type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *AppointmentStatus
	Limit     int
	Offset    int
}

// SlotFilter scopes slot listings.
type SlotFilter struct {
	DoctorID *uuid.UUID
	Date     *time.Time
	IsActive *bool
	Limit    int
	Offset   int
}

// MoveResult reports a completed slot transfer: the updated appointment plus
// both slot rows as committed.
type MoveResult struct {
	Appointment *Appointment
	OldSlot     *Slot // nil when the appointment came from the raw flow
	NewSlot     *Slot
}
