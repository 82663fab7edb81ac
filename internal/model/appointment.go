package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending         AppointmentStatus = "pending"
	AppointmentStatusApproved        AppointmentStatus = "approved"
	AppointmentStatusRejected        AppointmentStatus = "rejected"
	AppointmentStatusCompleted       AppointmentStatus = "completed"
	AppointmentStatusCancelled       AppointmentStatus = "cancelled"
	AppointmentStatusInProgress      AppointmentStatus = "in-progress"
	AppointmentStatusPendingApproval AppointmentStatus = "pending_approval"
)

// Valid reports whether s is a member of the closed status enum.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusApproved,
		AppointmentStatusRejected, AppointmentStatusCompleted,
		AppointmentStatusCancelled, AppointmentStatusInProgress,
		AppointmentStatusPendingApproval:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case AppointmentStatusCompleted, AppointmentStatusRejected, AppointmentStatusCancelled:
		return true
	}
	return false
}

// statusTransitions is the legal-intent table. Cancellation from any
// non-terminal state is handled in CanTransition.
var statusTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending: {
		AppointmentStatusApproved,
		AppointmentStatusRejected,
		AppointmentStatusCancelled,
	},
	AppointmentStatusApproved: {
		AppointmentStatusInProgress,
		AppointmentStatusCancelled,
	},
	AppointmentStatusPendingApproval: {
		AppointmentStatusApproved,
		AppointmentStatusCancelled,
		AppointmentStatusPendingApproval,
	},
	AppointmentStatusInProgress: {
		AppointmentStatusCompleted,
		AppointmentStatusCancelled,
	},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to AppointmentStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == AppointmentStatusCancelled {
		return true
	}
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// SlotLabels is the fixed vocabulary of bookable time labels.
var SlotLabels = []string{
	"09:00", "10:00", "11:00", "12:00",
	"13:00", "14:00", "15:00", "16:00", "17:00",
}

// ValidSlotLabel reports whether label is in the slot vocabulary.
func ValidSlotLabel(label string) bool {
	for _, l := range SlotLabels {
		if l == label {
			return true
		}
	}
	return false
}

// RescheduleInfo is the audit snapshot of the most recent
// practitioner-initiated reschedule. Once set it is never cleared, only
// overwritten whole by a subsequent reschedule.
type RescheduleInfo struct {
	OldDate       time.Time `json:"old_date"`
	OldTime       string    `json:"old_time"`
	NewDate       time.Time `json:"new_date"`
	NewTime       string    `json:"new_time"`
	RescheduledBy uuid.UUID `json:"rescheduled_by"`
	RescheduledAt time.Time `json:"rescheduled_at"`
}

// Value implements driver.Valuer so the snapshot is stored as jsonb.
func (r RescheduleInfo) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for the jsonb column.
func (r *RescheduleInfo) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type for RescheduleInfo: %T", src)
	}
	return json.Unmarshal(data, r)
}

// Appointment represents one booking and its full history.
type Appointment struct {
	Base
	PatientID          uuid.UUID         `db:"patient_id" json:"patient_id"`
	PractitionerID     uuid.UUID         `db:"practitioner_id" json:"practitioner_id"`
	Date               time.Time         `db:"date" json:"date"`
	TimeLabel          string            `db:"time_label" json:"time"`
	Reason             string            `db:"reason" json:"reason"`
	Status             AppointmentStatus `db:"status" json:"status"`
	ConsultationFee    float64           `db:"consultation_fee" json:"consultation_fee"`
	PaymentStatus      PaymentStatus     `db:"payment_status" json:"payment_status"`
	ExternalPaymentRef string            `db:"external_payment_ref" json:"external_payment_ref,omitempty"`
	Notes              string            `db:"notes" json:"notes,omitempty"`
	Prescription       string            `db:"prescription" json:"prescription,omitempty"`
	ConsultationNotes  string            `db:"consultation_notes" json:"consultation_notes,omitempty"`
	RescheduleInfo     *RescheduleInfo   `db:"reschedule_info" json:"reschedule_info,omitempty"`
	ChatMessages       []*ChatMessage    `db:"-" json:"chat_messages,omitempty"`
}

// Active reports whether the appointment counts against slot uniqueness.
func (a *Appointment) Active() bool {
	return a.Status == AppointmentStatusPending || a.Status == AppointmentStatusApproved
}

// ChatMessage is one persisted entry in an appointment's transcript.
// The transcript is append-only; entries are never reordered or deleted.
type ChatMessage struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	SenderID      uuid.UUID `db:"sender_id" json:"sender"`
	SenderRole    string    `db:"sender_role" json:"sender_role"`
	Message       string    `db:"message" json:"message"`
	CreatedAt     time.Time `db:"created_at" json:"timestamp"`
}

type CreateAppointmentRequest struct {
	PractitionerID string `json:"practitioner_id" binding:"required,uuid"`
	Date           string `json:"date" binding:"required,datetime=2006-01-02"`
	Time           string `json:"time" binding:"required,timeslot"`
	Reason         string `json:"reason" binding:"required,max=2000"`
}

type UpdateStatusRequest struct {
	Status       AppointmentStatus `json:"status" binding:"required"`
	Notes        *string           `json:"notes"`
	Prescription *string           `json:"prescription"`
}

type RescheduleRequest struct {
	Date   string  `json:"date" binding:"required,datetime=2006-01-02"`
	Time   string  `json:"time" binding:"required,timeslot"`
	Reason *string `json:"reason"`
}

type RescheduleResponseRequest struct {
	Accept bool `json:"accept"`
}

type ChatMessageRequest struct {
	Message string `json:"message" binding:"required,max=4000"`
}

type ConsultationNotesRequest struct {
	ConsultationNotes string `json:"consultation_notes" binding:"required,max=10000"`
}

type CompleteConsultationRequest struct {
	ConsultationNotes *string `json:"consultation_notes"`
}

type ConfirmPaymentRequest struct {
	PaymentRef string `json:"payment_ref" binding:"required"`
	Succeeded  bool   `json:"succeeded"`
}

// AppointmentFilters narrows list queries.
type AppointmentFilters struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Status         AppointmentStatus
	From           time.Time
	To             time.Time
}
