package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/medibook/clinic-booking/internal/redis"
)

// SlotView is the read-side projection of a slot offered for booking.
type SlotView struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentBookings int       `json:"current_bookings"`
	AvailableSpots  int       `json:"available_spots"`
	IsFull          bool      `json:"is_full"`
}

// Store is the read-only slice of the relational store the engine needs.
type Store interface {
	// ActiveSlotsForDay returns active slots for the doctor on the given day,
	// ordered by start time ascending.
	ActiveSlotsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotView, error)
	// WeekdayWindows returns the doctor's declared availability windows for a
	// day of week (raw appointment flow).
	WeekdayWindows(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]TimeWindow, error)
	// OccupiedWindows returns the (start, end) pairs of non-cancelled
	// appointments for the doctor on the given day.
	OccupiedWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeWindow, error)
}

// Engine computes bookable slots and raw time windows. Listings are cached
// per (doctor, date); the cache is purely an accelerator and is bypassed by
// the booking transaction.
type Engine struct {
	store        Store
	cache        redisclient.Cache
	cacheTTL     time.Duration
	slotDuration time.Duration
	log          zerolog.Logger
}

func NewEngine(store Store, cache redisclient.Cache, cacheTTL, slotDuration time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		store:        store,
		cache:        cache,
		cacheTTL:     cacheTTL,
		slotDuration: slotDuration,
		log:          log,
	}
}

const dateLayout = "2006-01-02"

// ListBookableSlots returns the doctor's active slots for the date with
// derived availability fields, serving from cache when possible.
func (e *Engine) ListBookableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotView, error) {
	key := redisclient.SlotsCacheKey(doctorID, date.Format(dateLayout))

	if cached, err := e.cache.Get(ctx, key); err == nil {
		var views []SlotView
		if jsonErr := json.Unmarshal(cached, &views); jsonErr == nil {
			return views, nil
		}
		// Unreadable entries are dropped and recomputed.
		_ = e.cache.Del(ctx, key)
	} else if !errors.Is(err, redisclient.ErrCacheMiss) {
		e.log.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
	}

	views, err := e.store.ActiveSlotsForDay(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list active slots: %w", err)
	}

	if data, err := json.Marshal(views); err == nil {
		if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
			e.log.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
		}
	}

	return views, nil
}

// Invalidate drops the cached listing for (doctor, date). Failures are soft:
// a stale entry expires via TTL anyway.
func (e *Engine) Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	key := redisclient.SlotsCacheKey(doctorID, date.Format(dateLayout))
	if err := e.cache.Del(ctx, key); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("availability cache invalidation failed")
	}
}

// AvailableWindows lists the doctor's free raw time windows for the date:
// the weekly-template windows minus those already occupied by non-cancelled
// appointments.
func (e *Engine) AvailableWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeWindow, error) {
	declared, err := e.store.WeekdayWindows(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load weekday availability: %w", err)
	}
	if len(declared) == 0 {
		return nil, nil
	}

	occupied, err := e.store.OccupiedWindows(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load occupied windows: %w", err)
	}

	taken := make(map[TimeWindow]struct{}, len(occupied))
	for _, w := range occupied {
		taken[w] = struct{}{}
	}

	var free []TimeWindow
	for _, block := range declared {
		windows, err := GenerateTimeWindows(block.StartTime, block.EndTime, e.slotDuration)
		if err != nil {
			return nil, fmt.Errorf("generate windows for %s-%s: %w", block.StartTime, block.EndTime, err)
		}
		for _, w := range windows {
			if _, ok := taken[w]; !ok {
				free = append(free, w)
			}
		}
	}

	return free, nil
}

// IsWindowAvailable reports whether (start, end) is a generated window for
// the doctor's day and not already occupied. This is an advisory check; the
// insert transaction re-checks occupancy under lock.
func (e *Engine) IsWindowAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, start, end string) (bool, error) {
	free, err := e.AvailableWindows(ctx, doctorID, date)
	if err != nil {
		return false, err
	}
	for _, w := range free {
		if w.StartTime == start && w.EndTime == end {
			return true, nil
		}
	}
	return false, nil
}
