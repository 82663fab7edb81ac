package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careslot/scheduling-api/internal/model"
	"github.com/careslot/scheduling-api/internal/repository"
	apperrors "github.com/careslot/scheduling-api/pkg/errors"
	"github.com/careslot/scheduling-api/pkg/lock"
)

// Ledger is the authoritative source of which (practitioner, date, time)
// triples are held by an active booking. Reservations are serialized per
// triple through the injected locker; the partial unique index on the
// appointments table is the storage-level backstop.
type Ledger struct {
	repo   repository.AppointmentRepository
	locker lock.Locker
}

func NewLedger(repo repository.AppointmentRepository, locker lock.Locker) *Ledger {
	return &Ledger{
		repo:   repo,
		locker: locker,
	}
}

func slotKey(practitionerID uuid.UUID, date time.Time, timeLabel string) string {
	return fmt.Sprintf("slot:%s:%s:%s", practitionerID, date.Format("2006-01-02"), timeLabel)
}

// IsAvailable reports whether the triple is free of active bookings.
// excludeID lets a reschedule check without self-conflict.
func (l *Ledger) IsAvailable(ctx context.Context, practitionerID uuid.UUID, date time.Time, timeLabel string, excludeID *uuid.UUID) (bool, error) {
	booked, err := l.repo.HasActiveBooking(ctx, practitionerID, date, timeLabel, excludeID)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return !booked, nil
}

// Reserve inserts the appointment if its triple is free. The conflict check
// and the insert run inside the per-triple critical section, so two callers
// that both observe "available" cannot both commit.
func (l *Ledger) Reserve(ctx context.Context, apt *model.Appointment) error {
	key := slotKey(apt.PractitionerID, apt.Date, apt.TimeLabel)

	err := l.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		booked, err := l.repo.HasActiveBooking(lockCtx, apt.PractitionerID, apt.Date, apt.TimeLabel, nil)
		if err != nil {
			return fmt.Errorf("failed to check active booking: %w", err)
		}
		if booked {
			return repository.ErrDuplicateSlot
		}
		return l.repo.Create(lockCtx, apt)
	})

	return l.mapReserveError(err)
}

// Move updates the appointment after checking its new triple, excluding the
// appointment itself so moving to the current slot succeeds. The caller sets
// the new date and time label on apt before calling.
func (l *Ledger) Move(ctx context.Context, apt *model.Appointment) error {
	key := slotKey(apt.PractitionerID, apt.Date, apt.TimeLabel)

	err := l.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		booked, err := l.repo.HasActiveBooking(lockCtx, apt.PractitionerID, apt.Date, apt.TimeLabel, &apt.ID)
		if err != nil {
			return fmt.Errorf("failed to check active booking: %w", err)
		}
		if booked {
			return repository.ErrDuplicateSlot
		}
		return l.repo.Update(lockCtx, apt)
	})

	return l.mapReserveError(err)
}

// Reactivate persists a parked record returning to an active status. A
// pending_approval record does not hold its triple, so another booking may
// have taken the slot in the meantime; the check runs again inside the
// critical section before the write.
func (l *Ledger) Reactivate(ctx context.Context, apt *model.Appointment) error {
	key := slotKey(apt.PractitionerID, apt.Date, apt.TimeLabel)

	err := l.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		free, err := l.IsAvailable(lockCtx, apt.PractitionerID, apt.Date, apt.TimeLabel, &apt.ID)
		if err != nil {
			return err
		}
		if !free {
			return repository.ErrDuplicateSlot
		}
		return l.repo.Update(lockCtx, apt)
	})

	return l.mapReserveError(err)
}

// BookedLabels returns the labels booked with the practitioner on a date.
func (l *Ledger) BookedLabels(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]string, error) {
	labels, err := l.repo.BookedLabels(ctx, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get booked labels: %w", err)
	}
	if labels == nil {
		labels = []string{}
	}
	return labels, nil
}

func (l *Ledger) mapReserveError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDuplicateSlot):
		return apperrors.SlotConflict(err)
	case errors.Is(err, lock.ErrNotAcquired):
		// Another caller holds the triple's critical section; from the
		// client's view the slot is taken.
		return apperrors.SlotConflict(err)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("appointment", err)
	default:
		return err
	}
}
