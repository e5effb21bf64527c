package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medibook/clinic-booking/internal/availability"
)

// DB is the subset of pgxpool.Pool the repository uses. pgxmock satisfies it
// in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const (
	slotColumns = `id, doctor_id, slot_date, start_time, end_time, max_capacity, current_bookings, is_active, version, created_at, updated_at`

	appointmentColumns = `id, patient_id, doctor_id, slot_id, appointment_date, start_time, end_time, status, booking_status, attendance_status, is_priority, notes, version, cancelled_at, created_at, updated_at`
)

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.SlotDate,
		&s.StartTime,
		&s.EndTime,
		&s.MaxCapacity,
		&s.CurrentBookings,
		&s.IsActive,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.AppointmentDate,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.BookingStatus,
		&a.AttendanceStatus,
		&a.IsPriority,
		&a.Notes,
		&a.Version,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Entity lookups

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

// Slot lifecycle

func (r *PgRepository) CreateSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, startTime, endTime string, maxCapacity int) (*Slot, error) {
	startMin, err := availability.ParseClock(startTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeRange, err)
	}
	endMin, err := availability.ParseClock(endTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeRange, err)
	}
	if startMin >= endMin {
		return nil, ErrInvalidTimeRange
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, slot_date, start_time, end_time, max_capacity, current_bookings, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, true, 1, now(), now())
		RETURNING `+slotColumns+`
	`, uuid.New(), doctorID, date, startTime, endTime, maxCapacity)

	slot, err := scanSlot(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotExists
		}
		return nil, err
	}

	return slot, nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, filter SlotFilter) ([]Slot, error) {
	var (
		conds []string
		args  []any
	)
	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		conds = append(conds, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if filter.Date != nil {
		args = append(args, *filter.Date)
		conds = append(conds, fmt.Sprintf("slot_date = $%d::date", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}

	query := `SELECT ` + slotColumns + ` FROM slots`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY slot_date, start_time`

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

func (r *PgRepository) UpdateSlot(ctx context.Context, id uuid.UUID, patch SlotPatch) (*Slot, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update slot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}

	if patch.SlotDate != nil {
		slot.SlotDate = *patch.SlotDate
	}
	if patch.StartTime != nil {
		slot.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		slot.EndTime = *patch.EndTime
	}
	if patch.MaxCapacity != nil {
		if *patch.MaxCapacity < slot.CurrentBookings {
			return nil, ErrCapacityBelowBookings
		}
		slot.MaxCapacity = *patch.MaxCapacity
	}
	if patch.IsActive != nil {
		slot.IsActive = *patch.IsActive
	}

	startMin, err := availability.ParseClock(slot.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeRange, err)
	}
	endMin, err := availability.ParseClock(slot.EndTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeRange, err)
	}
	if startMin >= endMin {
		return nil, ErrInvalidTimeRange
	}

	updated, err := scanSlot(tx.QueryRow(ctx, `
		UPDATE slots
		SET slot_date = $2,
		    start_time = $3,
		    end_time = $4,
		    max_capacity = $5,
		    is_active = $6,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, id, slot.SlotDate, slot.StartTime, slot.EndTime, slot.MaxCapacity, slot.IsActive))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotExists
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update slot: %w", err)
	}

	return updated, nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete slot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)); err != nil {
		return err
	}

	var hasActive bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE slot_id = $1 AND status <> 'CANCELLED'
		)
	`, id).Scan(&hasActive)
	if err != nil {
		return err
	}
	if hasActive {
		return ErrHasActiveBookings
	}

	if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE id = $1`, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete slot: %w", err)
	}

	return nil
}

// Booking transactions

func (r *PgRepository) BookSlot(ctx context.Context, slotID, patientID uuid.UUID, isPriority bool, notes *string) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin book slot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock serializes concurrent admissions for this slot even when the
	// distributed lock has failed open.
	slot, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, slotID))
	if err != nil {
		return nil, err
	}

	if !slot.IsActive {
		return nil, ErrSlotInactive
	}
	if slot.IsFull() {
		return nil, ErrSlotFull
	}

	var alreadyBooked bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1 AND slot_id = $2 AND status <> 'CANCELLED'
		)
	`, patientID, slotID).Scan(&alreadyBooked)
	if err != nil {
		return nil, err
	}
	if alreadyBooked {
		return nil, ErrDuplicateBooking
	}

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, appointment_date, start_time, end_time, status, booking_status, is_priority, notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', 'CONFIRMED', $8, $9, 1, now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), patientID, slot.DoctorID, slotID, slot.SlotDate, slot.StartTime, slot.EndTime, isPriority, notes))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateBooking
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE slots
		SET current_bookings = current_bookings + 1,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
	`, slotID); err != nil {
		return nil, fmt.Errorf("increment slot bookings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit book slot: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) MoveAppointment(ctx context.Context, appointmentID, newSlotID uuid.UUID) (*MoveResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin move appointment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID))
	if err != nil {
		return nil, err
	}

	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	oldSlotID := appt.SlotID
	if oldSlotID != nil && *oldSlotID == newSlotID {
		// Moving into the current slot changes nothing.
		newSlot, err := scanSlot(tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, newSlotID))
		if err != nil {
			return nil, err
		}
		return &MoveResult{Appointment: appt, OldSlot: newSlot, NewSlot: newSlot}, tx.Commit(ctx)
	}

	// Lock both slot rows in id order so that two concurrent moves between
	// the same pair of slots cannot deadlock.
	lockOrder := []uuid.UUID{newSlotID}
	if oldSlotID != nil {
		if oldSlotID.String() < newSlotID.String() {
			lockOrder = []uuid.UUID{*oldSlotID, newSlotID}
		} else {
			lockOrder = []uuid.UUID{newSlotID, *oldSlotID}
		}
	}
	locked := make(map[uuid.UUID]*Slot, len(lockOrder))
	for _, id := range lockOrder {
		s, err := scanSlot(tx.QueryRow(ctx, `
			SELECT `+slotColumns+`
			FROM slots
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			return nil, err
		}
		locked[id] = s
	}

	newSlot := locked[newSlotID]
	if !newSlot.IsActive {
		return nil, ErrSlotInactive
	}
	if newSlot.IsFull() {
		return nil, ErrSlotFull
	}

	moved, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    doctor_id = $3,
		    appointment_date = $4,
		    start_time = $5,
		    end_time = $6,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, appointmentID, newSlotID, newSlot.DoctorID, newSlot.SlotDate, newSlot.StartTime, newSlot.EndTime))
	if err != nil {
		return nil, err
	}

	var oldSlot *Slot
	if oldSlotID != nil {
		oldSlot, err = scanSlot(tx.QueryRow(ctx, `
			UPDATE slots
			SET current_bookings = current_bookings - 1,
			    version = version + 1,
			    updated_at = now()
			WHERE id = $1
			RETURNING `+slotColumns+`
		`, *oldSlotID))
		if err != nil {
			return nil, fmt.Errorf("decrement old slot: %w", err)
		}
	}

	updatedNew, err := scanSlot(tx.QueryRow(ctx, `
		UPDATE slots
		SET current_bookings = current_bookings + 1,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, newSlotID))
	if err != nil {
		return nil, fmt.Errorf("increment new slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit move appointment: %w", err)
	}

	return &MoveResult{Appointment: moved, OldSlot: oldSlot, NewSlot: updatedNew}, nil
}

func (r *PgRepository) CreateRawAppointment(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time, startTime, endTime string, notes *string) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create appointment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The advisory availability check ran outside the lock; re-check
	// occupancy here to close the TOCTOU window.
	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND appointment_date = $2::date
			  AND start_time = $3
			  AND status <> 'CANCELLED'
		)
	`, doctorID, date, startTime).Scan(&taken)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrWindowTaken
	}

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, appointment_date, start_time, end_time, status, booking_status, is_priority, notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $5, $6, 'PENDING', '', false, $7, 1, now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), patientID, doctorID, date, startTime, endTime, notes))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create appointment: %w", err)
	}

	return appt, nil
}

// Appointment queries and transitions

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		conds = append(conds, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY appointment_date DESC, start_time`

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, version int, to AppointmentStatus, appendNotes *string) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = CASE WHEN $3::text IS NULL THEN notes ELSE concat_ws(E'\n', notes, $3) END,
		    cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN now() ELSE cancelled_at END,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $4
		RETURNING `+appointmentColumns+`
	`, id, to, appendNotes, version))
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		// Zero rows: the appointment is gone or the version moved on.
		var current int
		scanErr := tx.QueryRow(ctx, `SELECT version FROM appointments WHERE id = $1`, id).Scan(&current)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		if scanErr != nil {
			return nil, scanErr
		}
		return nil, ErrStaleVersion
	}

	// Keep the slot counter equal to the count of non-cancelled appointments:
	// a CANCELLED transition releases capacity in the same transaction.
	if to == StatusCancelled && appt.SlotID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE slots
			SET current_bookings = GREATEST(current_bookings - 1, 0),
			    version = version + 1,
			    updated_at = now()
			WHERE id = $1
		`, *appt.SlotID); err != nil {
			return nil, fmt.Errorf("release slot capacity: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}

	return appt, nil
}

// Availability engine queries

func (r *PgRepository) ActiveSlotsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.SlotView, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND slot_date = $2::date
		  AND is_active = true
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []availability.SlotView
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, availability.SlotView{
			ID:              s.ID,
			DoctorID:        s.DoctorID,
			Date:            s.SlotDate.Format("2006-01-02"),
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			MaxCapacity:     s.MaxCapacity,
			CurrentBookings: s.CurrentBookings,
			AvailableSpots:  s.AvailableSpots(),
			IsFull:          s.IsFull(),
		})
	}

	return views, rows.Err()
}

func (r *PgRepository) WeekdayWindows(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]availability.TimeWindow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time, end_time
		FROM doctor_availability
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`, doctorID, int(weekday))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWindows(rows)
}

func (r *PgRepository) OccupiedWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.TimeWindow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND status <> 'CANCELLED'
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWindows(rows)
}

func scanWindows(rows pgx.Rows) ([]availability.TimeWindow, error) {
	var windows []availability.TimeWindow
	for rows.Next() {
		var w availability.TimeWindow
		if err := rows.Scan(&w.StartTime, &w.EndTime); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}
