package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func slotRow(s Slot) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "doctor_id", "slot_date", "start_time", "end_time",
		"max_capacity", "current_bookings", "is_active", "version", "created_at", "updated_at",
	}).AddRow(s.ID, s.DoctorID, s.SlotDate, s.StartTime, s.EndTime,
		s.MaxCapacity, s.CurrentBookings, s.IsActive, s.Version, s.CreatedAt, s.UpdatedAt)
}

func apptRow(a Appointment) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "patient_id", "doctor_id", "slot_id", "appointment_date", "start_time", "end_time",
		"status", "booking_status", "attendance_status", "is_priority", "notes", "version",
		"cancelled_at", "created_at", "updated_at",
	}).AddRow(a.ID, a.PatientID, a.DoctorID, a.SlotID, a.AppointmentDate, a.StartTime, a.EndTime,
		a.Status, a.BookingStatus, a.AttendanceStatus, a.IsPriority, a.Notes, a.Version,
		a.CancelledAt, a.CreatedAt, a.UpdatedAt)
}

func testSlot(current, max int) Slot {
	return Slot{
		ID:              uuid.New(),
		DoctorID:        uuid.New(),
		SlotDate:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		StartTime:       "09:00",
		EndTime:         "09:30",
		MaxCapacity:     max,
		CurrentBookings: current,
		IsActive:        true,
		Version:         1,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func TestBookSlotAdmits(t *testing.T) {
	mock, repo := newMockRepo(t)

	slot := testSlot(2, 5)
	patientID := uuid.New()

	appt := Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        slot.DoctorID,
		SlotID:          &slot.ID,
		AppointmentDate: slot.SlotDate,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		Status:          StatusPending,
		BookingStatus:   BookingStatusConfirmed,
		Version:         1,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(patientID, slot.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), patientID, slot.DoctorID, slot.ID, slot.SlotDate, slot.StartTime, slot.EndTime, false, (*string)(nil)).
		WillReturnRows(apptRow(appt))
	mock.ExpectExec("UPDATE slots SET current_bookings = current_bookings \\+ 1").
		WithArgs(slot.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, err := repo.BookSlot(context.Background(), slot.ID, patientID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookSlotFull(t *testing.T) {
	mock, repo := newMockRepo(t)

	slot := testSlot(5, 5)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectRollback()

	_, err := repo.BookSlot(context.Background(), slot.ID, uuid.New(), false, nil)
	assert.ErrorIs(t, err, ErrSlotFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookSlotInactive(t *testing.T) {
	mock, repo := newMockRepo(t)

	slot := testSlot(0, 5)
	slot.IsActive = false

	mock.ExpectBegin()
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectRollback()

	_, err := repo.BookSlot(context.Background(), slot.ID, uuid.New(), false, nil)
	assert.ErrorIs(t, err, ErrSlotInactive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookSlotDuplicate(t *testing.T) {
	mock, repo := newMockRepo(t)

	slot := testSlot(1, 5)
	patientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(patientID, slot.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.BookSlot(context.Background(), slot.ID, patientID, false, nil)
	assert.ErrorIs(t, err, ErrDuplicateBooking)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookSlotUniqueIndexBackstop(t *testing.T) {
	mock, repo := newMockRepo(t)

	slot := testSlot(1, 5)
	patientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(patientID, slot.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.BookSlot(context.Background(), slot.ID, patientID, false, nil)
	assert.ErrorIs(t, err, ErrDuplicateBooking)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSlotRejectsInvalidRange(t *testing.T) {
	_, repo := newMockRepo(t)

	_, err := repo.CreateSlot(context.Background(), uuid.New(), time.Now(), "10:00", "09:00", 5)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = repo.CreateSlot(context.Background(), uuid.New(), time.Now(), "09:00", "09:00", 5)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = repo.CreateSlot(context.Background(), uuid.New(), time.Now(), "late", "09:00", 5)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestCreateSlotDuplicateWindow(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO slots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.CreateSlot(context.Background(), uuid.New(), time.Now(), "09:00", "09:30", 5)
	assert.ErrorIs(t, err, ErrSlotExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSlotCapacityFloor(t *testing.T) {
	mock, repo := newMockRepo(t)

	slot := testSlot(3, 5)
	newCap := 2

	mock.ExpectBegin()
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectRollback()

	_, err := repo.UpdateSlot(context.Background(), slot.ID, SlotPatch{MaxCapacity: &newCap})
	assert.ErrorIs(t, err, ErrCapacityBelowBookings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSlotWithActiveBookings(t *testing.T) {
	mock, repo := newMockRepo(t)

	slot := testSlot(1, 5)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(slot.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.DeleteSlot(context.Background(), slot.ID)
	assert.ErrorIs(t, err, ErrHasActiveBookings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSlotByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery("FROM slots").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.GetSlotByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestMoveAppointmentTransfersCapacity(t *testing.T) {
	mock, repo := newMockRepo(t)

	// Fixed ids pin the row-lock order: old sorts before new.
	oldSlot := testSlot(2, 5)
	oldSlot.ID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	newSlot := testSlot(1, 4)
	newSlot.ID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	newSlot.SlotDate = oldSlot.SlotDate.AddDate(0, 0, 1)

	appt := Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        oldSlot.DoctorID,
		SlotID:          &oldSlot.ID,
		AppointmentDate: oldSlot.SlotDate,
		StartTime:       oldSlot.StartTime,
		EndTime:         oldSlot.EndTime,
		Status:          StatusPending,
		BookingStatus:   BookingStatusConfirmed,
		Version:         1,
	}

	moved := appt
	moved.SlotID = &newSlot.ID
	moved.DoctorID = newSlot.DoctorID
	moved.AppointmentDate = newSlot.SlotDate
	moved.Version = 2

	decOld := oldSlot
	decOld.CurrentBookings--
	incNew := newSlot
	incNew.CurrentBookings++

	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(appt.ID).
		WillReturnRows(apptRow(appt))
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(oldSlot.ID).
		WillReturnRows(slotRow(oldSlot))
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(newSlot.ID).
		WillReturnRows(slotRow(newSlot))
	mock.ExpectQuery("UPDATE appointments SET slot_id = \\$2").
		WithArgs(appt.ID, newSlot.ID, newSlot.DoctorID, newSlot.SlotDate, newSlot.StartTime, newSlot.EndTime).
		WillReturnRows(apptRow(moved))
	mock.ExpectQuery("UPDATE slots SET current_bookings = current_bookings - 1").
		WithArgs(oldSlot.ID).
		WillReturnRows(slotRow(decOld))
	mock.ExpectQuery("UPDATE slots SET current_bookings = current_bookings \\+ 1").
		WithArgs(newSlot.ID).
		WillReturnRows(slotRow(incNew))
	mock.ExpectCommit()

	res, err := repo.MoveAppointment(context.Background(), appt.ID, newSlot.ID)
	require.NoError(t, err)
	require.NotNil(t, res.OldSlot)
	assert.Equal(t, 1, res.OldSlot.CurrentBookings)
	assert.Equal(t, 2, res.NewSlot.CurrentBookings)
	require.NotNil(t, res.Appointment.SlotID)
	assert.Equal(t, newSlot.ID, *res.Appointment.SlotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveAppointmentRejectsFullDestination(t *testing.T) {
	mock, repo := newMockRepo(t)

	oldSlot := testSlot(1, 5)
	oldSlot.ID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	newSlot := testSlot(4, 4)
	newSlot.ID = uuid.MustParse("22222222-2222-2222-2222-222222222222")

	appt := Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  oldSlot.DoctorID,
		SlotID:    &oldSlot.ID,
		Status:    StatusPending,
		StartTime: "09:00", EndTime: "09:30",
		AppointmentDate: oldSlot.SlotDate,
		Version:         1,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(appt.ID).
		WillReturnRows(apptRow(appt))
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(oldSlot.ID).
		WillReturnRows(slotRow(oldSlot))
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(newSlot.ID).
		WillReturnRows(slotRow(newSlot))
	mock.ExpectRollback()

	_, err := repo.MoveAppointment(context.Background(), appt.ID, newSlot.ID)
	assert.ErrorIs(t, err, ErrSlotFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveCancelledAppointment(t *testing.T) {
	mock, repo := newMockRepo(t)

	appt := Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Status:    StatusCancelled,
		StartTime: "09:00", EndTime: "09:30",
		AppointmentDate: time.Now(),
		Version:         2,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(appt.ID).
		WillReturnRows(apptRow(appt))
	mock.ExpectRollback()

	_, err := repo.MoveAppointment(context.Background(), appt.ID, uuid.New())
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppointmentStatusStaleVersion(t *testing.T) {
	mock, repo := newMockRepo(t)

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs(id, StatusConfirmed, (*string)(nil), 3).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT version FROM appointments").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(4))
	mock.ExpectRollback()

	_, err := repo.UpdateAppointmentStatus(context.Background(), id, 3, StatusConfirmed, nil)
	assert.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppointmentStatusGone(t *testing.T) {
	mock, repo := newMockRepo(t)

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs(id, StatusConfirmed, (*string)(nil), 1).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT version FROM appointments").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	_, err := repo.UpdateAppointmentStatus(context.Background(), id, 1, StatusConfirmed, nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelReleasesSlotCapacity(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()
	now := time.Now()
	cancelled := Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        uuid.New(),
		SlotID:          &slotID,
		AppointmentDate: now,
		StartTime:       "09:00",
		EndTime:         "09:30",
		Status:          StatusCancelled,
		BookingStatus:   BookingStatusConfirmed,
		Version:         2,
		CancelledAt:     &now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs(cancelled.ID, StatusCancelled, (*string)(nil), 1).
		WillReturnRows(apptRow(cancelled))
	mock.ExpectExec("UPDATE slots SET current_bookings = GREATEST").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, err := repo.UpdateAppointmentStatus(context.Background(), cancelled.ID, 1, StatusCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRawAppointmentSkipsCounter(t *testing.T) {
	mock, repo := newMockRepo(t)

	now := time.Now()
	cancelled := Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        uuid.New(),
		SlotID:          nil,
		AppointmentDate: now,
		StartTime:       "09:00",
		EndTime:         "09:30",
		Status:          StatusCancelled,
		Version:         2,
		CancelledAt:     &now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs(cancelled.ID, StatusCancelled, (*string)(nil), 1).
		WillReturnRows(apptRow(cancelled))
	mock.ExpectCommit()

	_, err := repo.UpdateAppointmentStatus(context.Background(), cancelled.ID, 1, StatusCancelled, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRawAppointmentWindowTaken(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, date, "09:00").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.CreateRawAppointment(context.Background(), uuid.New(), doctorID, date, "09:00", "09:30", nil)
	assert.ErrorIs(t, err, ErrWindowTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}
