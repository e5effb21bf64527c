package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/clinic-booking/internal/availability"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrSlotExists            = errors.New("slot already exists for this doctor and time")
	ErrInvalidTimeRange      = errors.New("end time must be after start time")
	ErrCapacityBelowBookings = errors.New("cannot reduce capacity below current bookings")
	ErrHasActiveBookings     = errors.New("slot has active bookings")

	ErrSlotInactive     = errors.New("slot is not active")
	ErrSlotFull         = errors.New("slot is full")
	ErrDuplicateBooking = errors.New("patient already has a booking in this slot")
	ErrWindowTaken      = errors.New("time window is already booked")
	ErrAlreadyCancelled = errors.New("appointment is cancelled")
	ErrStaleVersion     = errors.New("appointment was modified concurrently")
)

// Repository contains all DB interactions needed by the service. Mutations of
// slot capacity happen only inside its transactional methods.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	CreateSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, startTime, endTime string, maxCapacity int) (*Slot, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, filter SlotFilter) ([]Slot, error)
	UpdateSlot(ctx context.Context, id uuid.UUID, patch SlotPatch) (*Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	// BookSlot runs the atomic admission transaction: row-lock the slot,
	// validate state and capacity, reject duplicates, insert the appointment
	// and bump the counter in one commit.
	BookSlot(ctx context.Context, slotID, patientID uuid.UUID, isPriority bool, notes *string) (*Appointment, error)

	// MoveAppointment atomically transfers an appointment between slots,
	// decrementing the source counter and incrementing the destination.
	MoveAppointment(ctx context.Context, appointmentID, newSlotID uuid.UUID) (*MoveResult, error)

	// CreateRawAppointment books a doctor+time window with no capacity slot,
	// re-checking occupancy inside the insert transaction.
	CreateRawAppointment(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time, startTime, endTime string, notes *string) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)

	// UpdateAppointmentStatus applies an optimistic status transition: the
	// update is conditioned on version and fails with ErrStaleVersion when the
	// row moved on. A transition to CANCELLED decrements the slot counter in
	// the same transaction.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, version int, to AppointmentStatus, appendNotes *string) (*Appointment, error)

	// Read-side queries for the availability engine.
	ActiveSlotsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.SlotView, error)
	WeekdayWindows(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]availability.TimeWindow, error)
	OccupiedWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.TimeWindow, error)
}
