package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/careslot/scheduling-api/internal/model"
	"github.com/careslot/scheduling-api/internal/repository"
)

const uniqueViolation = "23505"

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, practitioner_id, date, time_label,
			reason, status, consultation_fee, payment_status,
			external_payment_ref, notes, prescription, consultation_notes,
			reschedule_info, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.PatientID,
		appointment.PractitionerID,
		appointment.Date,
		appointment.TimeLabel,
		appointment.Reason,
		appointment.Status,
		appointment.ConsultationFee,
		appointment.PaymentStatus,
		appointment.ExternalPaymentRef,
		appointment.Notes,
		appointment.Prescription,
		appointment.ConsultationNotes,
		appointment.RescheduleInfo,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateSlot
		}
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `
		SELECT id, patient_id, practitioner_id, date, time_label,
			   reason, status, consultation_fee, payment_status,
			   external_payment_ref, notes, prescription, consultation_notes,
			   reschedule_info, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET date = $1, time_label = $2, reason = $3, status = $4,
			payment_status = $5, external_payment_ref = $6,
			notes = $7, prescription = $8, consultation_notes = $9,
			reschedule_info = $10, updated_at = $11
		WHERE id = $12
	`
	appointment.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		appointment.Date,
		appointment.TimeLabel,
		appointment.Reason,
		appointment.Status,
		appointment.PaymentStatus,
		appointment.ExternalPaymentRef,
		appointment.Notes,
		appointment.Prescription,
		appointment.ConsultationNotes,
		appointment.RescheduleInfo,
		appointment.UpdatedAt,
		appointment.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateSlot
		}
		return fmt.Errorf("failed to update appointment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `
		SELECT id, patient_id, practitioner_id, date, time_label,
			   reason, status, consultation_fee, payment_status,
			   external_payment_ref, notes, prescription, consultation_notes,
			   reschedule_info, created_at, updated_at
		FROM appointments
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if filters.PatientID != uuid.Nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argCount)
		args = append(args, filters.PatientID)
		argCount++
	}

	if filters.PractitionerID != uuid.Nil {
		query += fmt.Sprintf(" AND practitioner_id = $%d", argCount)
		args = append(args, filters.PractitionerID)
		argCount++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}

	if !filters.From.IsZero() {
		query += fmt.Sprintf(" AND date >= $%d", argCount)
		args = append(args, filters.From)
		argCount++
	}

	if !filters.To.IsZero() {
		query += fmt.Sprintf(" AND date <= $%d", argCount)
		args = append(args, filters.To)
		argCount++
	}

	query += " ORDER BY date ASC, time_label ASC"

	var appointments []*model.Appointment
	err := r.db.SelectContext(ctx, &appointments, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) HasActiveBooking(ctx context.Context, practitionerID uuid.UUID, date time.Time, timeLabel string, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE practitioner_id = $1
			AND date = $2
			AND time_label = $3
			AND status IN ('pending', 'approved')
	`
	args := []interface{}{practitionerID, date, timeLabel}

	if excludeID != nil {
		query += " AND id != $4"
		args = append(args, *excludeID)
	}

	query += ")"

	var booked bool
	err := r.db.GetContext(ctx, &booked, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to check active booking: %w", err)
	}
	return booked, nil
}

func (r *appointmentRepository) BookedLabels(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]string, error) {
	query := `
		SELECT time_label FROM appointments
		WHERE practitioner_id = $1
		AND date = $2
		AND status IN ('pending', 'approved')
		ORDER BY time_label ASC
	`
	var labels []string
	err := r.db.SelectContext(ctx, &labels, query, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get booked labels: %w", err)
	}
	return labels, nil
}

func (r *appointmentRepository) FindOverduePending(ctx context.Context, before time.Time) ([]*model.Appointment, error) {
	query := `
		SELECT id, patient_id, practitioner_id, date, time_label,
			   reason, status, consultation_fee, payment_status,
			   external_payment_ref, notes, prescription, consultation_notes,
			   reschedule_info, created_at, updated_at
		FROM appointments
		WHERE status = 'pending'
		AND date < $1
		ORDER BY date ASC
	`
	var appointments []*model.Appointment
	err := r.db.SelectContext(ctx, &appointments, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to find overdue pending appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) AppendChatMessage(ctx context.Context, msg *model.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (
			id, appointment_id, sender_id, sender_role, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.AppointmentID,
		msg.SenderID,
		msg.SenderRole,
		msg.Message,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

func (r *appointmentRepository) ListChatMessages(ctx context.Context, appointmentID uuid.UUID) ([]*model.ChatMessage, error) {
	query := `
		SELECT id, appointment_id, sender_id, sender_role, message, created_at
		FROM chat_messages
		WHERE appointment_id = $1
		ORDER BY created_at ASC, id ASC
	`
	var messages []*model.ChatMessage
	err := r.db.SelectContext(ctx, &messages, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return messages, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
