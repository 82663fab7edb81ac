package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/careslot/scheduling-api/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateSlot is returned when an insert or update violates the
	// active-booking uniqueness constraint on (practitioner, date, time).
	ErrDuplicateSlot = errors.New("slot already booked")
)

type AppointmentRepository interface {
	Create(ctx context.Context, apt *model.Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Update(ctx context.Context, apt *model.Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)

	// HasActiveBooking reports whether an active booking holds the triple.
	// excludeID lets a reschedule check without self-conflict.
	HasActiveBooking(ctx context.Context, practitionerID uuid.UUID, date time.Time, timeLabel string, excludeID *uuid.UUID) (bool, error)
	// BookedLabels returns the time labels held by active bookings with the
	// practitioner on the given date.
	BookedLabels(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]string, error)
	// FindOverduePending returns pending appointments whose date is before
	// the given day.
	FindOverduePending(ctx context.Context, before time.Time) ([]*model.Appointment, error)

	AppendChatMessage(ctx context.Context, msg *model.ChatMessage) error
	ListChatMessages(ctx context.Context, appointmentID uuid.UUID) ([]*model.ChatMessage, error)
}

type UserRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
}
