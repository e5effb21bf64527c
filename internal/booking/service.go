package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/availability"
	"github.com/medibook/clinic-booking/internal/config"
	"github.com/medibook/clinic-booking/internal/metrics"
	redisclient "github.com/medibook/clinic-booking/internal/redis"
	"github.com/medibook/clinic-booking/internal/risk"
)

var (
	ErrSlotBusy          = errors.New("slot is currently being booked, please retry")
	ErrForbidden         = errors.New("caller may not perform this action")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidCapacity   = errors.New("capacity must be positive and within the configured ceiling")
)

// Service orchestrates bookings: lock, transact, release, invalidate cache.
type Service struct {
	repo       Repository
	locker     redisclient.Locker
	engine     *availability.Engine
	classifier risk.Classifier
	cfg        config.Config
	log        zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, engine *availability.Engine, classifier risk.Classifier, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		locker:     locker,
		engine:     engine,
		classifier: classifier,
		cfg:        cfg,
		log:        log,
	}
}

// Slot administration

func (s *Service) CreateSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, startTime, endTime string, maxCapacity int) (*Slot, error) {
	if maxCapacity <= 0 || maxCapacity > s.cfg.MaxSlotCapacity {
		return nil, ErrInvalidCapacity
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	slot, err := s.repo.CreateSlot(ctx, doctorID, date, startTime, endTime, maxCapacity)
	if err != nil {
		return nil, err
	}

	s.engine.Invalidate(ctx, slot.DoctorID, slot.SlotDate)

	s.log.Info().
		Str("slot_id", slot.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", slot.SlotDate.Format("2006-01-02")).
		Int("max_capacity", maxCapacity).
		Msg("slot created")

	return slot, nil
}

func (s *Service) UpdateSlot(ctx context.Context, slotID uuid.UUID, patch SlotPatch) (*Slot, error) {
	if patch.MaxCapacity != nil && (*patch.MaxCapacity <= 0 || *patch.MaxCapacity > s.cfg.MaxSlotCapacity) {
		return nil, ErrInvalidCapacity
	}

	before, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateSlot(ctx, slotID, patch)
	if err != nil {
		return nil, err
	}

	// The slot may have moved to another day; both listings are stale.
	s.engine.Invalidate(ctx, before.DoctorID, before.SlotDate)
	s.engine.Invalidate(ctx, updated.DoctorID, updated.SlotDate)

	return updated, nil
}

func (s *Service) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteSlot(ctx, slotID); err != nil {
		return err
	}

	s.engine.Invalidate(ctx, slot.DoctorID, slot.SlotDate)
	return nil
}

func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	return s.repo.GetSlotByID(ctx, slotID)
}

func (s *Service) ListSlots(ctx context.Context, filter SlotFilter) ([]Slot, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	return s.repo.ListSlots(ctx, filter)
}

// Booking

// Book reserves one spot in a slot for the patient. The distributed lock
// reduces wasted transaction aborts under contention; admission control
// itself lives in the repository transaction.
func (s *Service) Book(ctx context.Context, patientID, slotID uuid.UUID, notes *string) (*Appointment, error) {
	isPriority := s.lookupPriority(ctx, patientID)

	var created *Appointment
	err := s.locker.WithLock(ctx, redisclient.SlotLockKey(slotID), func(lockCtx context.Context) error {
		appt, err := s.repo.BookSlot(lockCtx, slotID, patientID, isPriority, notes)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			metrics.LockContentionTotal.Inc()
			metrics.BookingsTotal.WithLabelValues("busy").Inc()
			return nil, ErrSlotBusy
		case errors.Is(err, ErrSlotFull):
			metrics.BookingsTotal.WithLabelValues("slot_full").Inc()
		case errors.Is(err, ErrDuplicateBooking):
			metrics.BookingsTotal.WithLabelValues("duplicate").Inc()
		case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrSlotInactive):
			metrics.BookingsTotal.WithLabelValues("rejected").Inc()
		default:
			metrics.BookingsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues("booked").Inc()
	s.engine.Invalidate(ctx, created.DoctorID, created.AppointmentDate)

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("slot_id", slotID.String()).
		Str("patient_id", patientID.String()).
		Bool("is_priority", created.IsPriority).
		Msg("slot booked")

	return created, nil
}

// BookRaw books a plain doctor+time window from the weekly availability
// template. The generated-window check is advisory; the repository re-checks
// occupancy inside the insert transaction.
func (s *Service) BookRaw(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time, startTime string, notes *string) (*Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	endTime, err := availability.WindowEnd(startTime, s.cfg.SlotDuration)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeRange, err)
	}

	available, err := s.engine.IsWindowAvailable(ctx, doctorID, date, startTime, endTime)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrWindowTaken
	}

	dateStr := date.Format("2006-01-02")
	lockKey := redisclient.ApptLockKey(doctorID, dateStr, startTime)

	var created *Appointment
	err = s.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		appt, err := s.repo.CreateRawAppointment(lockCtx, patientID, doctorID, date, startTime, endTime, notes)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	s.engine.Invalidate(ctx, doctorID, date)

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("patient_id", patientID.String()).
		Str("window", startTime+"-"+endTime).
		Msg("raw appointment booked")

	return created, nil
}

// Move transfers an appointment into another slot. Admin only. The
// destination lock keeps concurrent bookers off the target slot while the
// transfer transaction runs.
func (s *Service) Move(ctx context.Context, adminID uuid.UUID, role Role, appointmentID, newSlotID uuid.UUID) (*MoveResult, error) {
	if role != RoleAdmin {
		return nil, ErrForbidden
	}

	var result *MoveResult
	err := s.locker.WithLock(ctx, redisclient.SlotLockKey(newSlotID), func(lockCtx context.Context) error {
		res, err := s.repo.MoveAppointment(lockCtx, appointmentID, newSlotID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			metrics.LockContentionTotal.Inc()
			metrics.MovesTotal.WithLabelValues("busy").Inc()
			return nil, ErrSlotBusy
		case errors.Is(err, ErrSlotFull):
			metrics.MovesTotal.WithLabelValues("slot_full").Inc()
		default:
			metrics.MovesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.MovesTotal.WithLabelValues("moved").Inc()

	if result.OldSlot != nil {
		s.engine.Invalidate(ctx, result.OldSlot.DoctorID, result.OldSlot.SlotDate)
	}
	s.engine.Invalidate(ctx, result.NewSlot.DoctorID, result.NewSlot.SlotDate)

	s.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("new_slot_id", newSlotID.String()).
		Str("admin_id", adminID.String()).
		Msg("appointment moved")

	return result, nil
}

// Status transitions

func (s *Service) Accept(ctx context.Context, appointmentID, doctorID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, appointmentID, doctorID, RoleDoctor, StatusConfirmed, nil)
}

func (s *Service) Decline(ctx context.Context, appointmentID, doctorID uuid.UUID, reason string) (*Appointment, error) {
	var note *string
	if reason != "" {
		n := "Declined: " + reason
		note = &n
	}
	return s.transition(ctx, appointmentID, doctorID, RoleDoctor, StatusCancelled, note)
}

func (s *Service) Complete(ctx context.Context, appointmentID, doctorID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, appointmentID, doctorID, RoleDoctor, StatusCompleted, nil)
}

func (s *Service) MarkMissed(ctx context.Context, appointmentID, callerID uuid.UUID, role Role) (*Appointment, error) {
	return s.transition(ctx, appointmentID, callerID, role, StatusMissed, nil)
}

func (s *Service) Cancel(ctx context.Context, appointmentID, callerID uuid.UUID, role Role) (*Appointment, error) {
	return s.transition(ctx, appointmentID, callerID, role, StatusCancelled, nil)
}

// UpdateStatus drives an arbitrary requested transition, used by the generic
// PATCH endpoint.
func (s *Service) UpdateStatus(ctx context.Context, appointmentID, callerID uuid.UUID, role Role, to AppointmentStatus) (*Appointment, error) {
	return s.transition(ctx, appointmentID, callerID, role, to, nil)
}

func (s *Service) transition(ctx context.Context, appointmentID, callerID uuid.UUID, role Role, to AppointmentStatus, appendNotes *string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	owns := Ownership{
		IsPatient: appt.PatientID == callerID,
		IsDoctor:  appt.DoctorID == callerID,
	}

	if !CanTransition(role, owns, appt.Status, to) {
		if !ValidTransition(appt.Status, to) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, to)
		}
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, appt.Version, to, appendNotes)
	if err != nil {
		return nil, err
	}

	// A cancellation frees a spot, so the day's listing is stale.
	if to == StatusCancelled {
		s.engine.Invalidate(ctx, updated.DoctorID, updated.AppointmentDate)
	}

	s.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Str("caller_id", callerID.String()).
		Str("role", string(role)).
		Msg("appointment status changed")

	return updated, nil
}

// Queries

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListAppointments scopes results by role: patients see their own bookings,
// doctors their own schedule, admins everything the filter selects.
func (s *Service) ListAppointments(ctx context.Context, callerID uuid.UUID, role Role, filter AppointmentFilter) ([]Appointment, error) {
	switch role {
	case RolePatient:
		filter.PatientID = &callerID
	case RoleDoctor:
		filter.DoctorID = &callerID
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	return s.repo.ListAppointments(ctx, filter)
}

func (s *Service) ListBookableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.SlotView, error) {
	return s.engine.ListBookableSlots(ctx, doctorID, date)
}

func (s *Service) AvailableWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.TimeWindow, error) {
	return s.engine.AvailableWindows(ctx, doctorID, date)
}

func (s *Service) lookupPriority(ctx context.Context, patientID uuid.UUID) bool {
	tier, err := s.classifier.LatestTier(ctx, patientID)
	if err != nil {
		if !errors.Is(err, risk.ErrNoClassification) {
			metrics.ClassifierFailuresTotal.Inc()
			s.log.Warn().Err(err).Str("patient_id", patientID.String()).Msg("risk classifier unavailable, defaulting to non-priority")
		}
		return false
	}
	return tier == risk.TierHigh
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
