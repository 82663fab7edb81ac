package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/careslot/scheduling-api/internal/model"
	"github.com/careslot/scheduling-api/internal/repository"
	"github.com/careslot/scheduling-api/internal/service/healthrecord"
	"github.com/careslot/scheduling-api/internal/service/notification"
	"github.com/careslot/scheduling-api/internal/service/payment"
	"github.com/careslot/scheduling-api/internal/service/slot"
	apperrors "github.com/careslot/scheduling-api/pkg/errors"
	"github.com/careslot/scheduling-api/pkg/logger"
	"github.com/careslot/scheduling-api/pkg/metrics"
)

// AvailabilityTTL bounds how stale the public availability view may be.
// Booking correctness never depends on it; conflict checks always hit the
// repository directly.
const AvailabilityTTL = 30 * time.Second

// Service enforces the appointment lifecycle: slot reservation, the status
// transition table, role-based authorization, the reschedule handshake and
// the consultation side effects.
type Service struct {
	repo       repository.AppointmentRepository
	users      repository.UserRepository
	ledger     *slot.Ledger
	notifSvc   notification.Service
	healthSvc  healthrecord.Service
	paySvc     payment.Service
	availCache *cache.Cache
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

func NewService(
	repo repository.AppointmentRepository,
	users repository.UserRepository,
	ledger *slot.Ledger,
	notifSvc notification.Service,
	healthSvc healthrecord.Service,
	paySvc payment.Service,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		users:      users,
		ledger:     ledger,
		notifSvc:   notifSvc,
		healthSvc:  healthSvc,
		paySvc:     paySvc,
		availCache: cache.New(AvailabilityTTL, 5*time.Minute),
		metrics:    m,
		logger:     log,
	}
}

// dateOnly truncates t to a UTC calendar day.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, apperrors.Validation("invalid date format, expected YYYY-MM-DD", err)
	}
	return dateOnly(d), nil
}

// authorizeMutation applies the role/ownership rule: a patient must own the
// appointment, a practitioner must be assigned to it, an admin is
// unconstrained.
func authorizeMutation(actor model.Actor, apt *model.Appointment) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RolePatient:
		if apt.PatientID != actor.ID {
			return apperrors.Authorization("appointment does not belong to this patient")
		}
	case model.RolePractitioner:
		if apt.PractitionerID != actor.ID {
			return apperrors.Authorization("appointment is not assigned to this practitioner")
		}
	default:
		return apperrors.Authorization("unknown role")
	}
	return nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return apt, nil
}

// CreateAppointment books a slot for a patient with status pending. The fee
// is snapshotted from the practitioner's profile at booking time.
func (s *Service) CreateAppointment(ctx context.Context, patientID uuid.UUID, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	if !model.ValidSlotLabel(req.Time) {
		return nil, apperrors.Validation(fmt.Sprintf("unknown time slot %q", req.Time), nil)
	}

	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		return nil, apperrors.Validation("invalid practitioner ID", err)
	}

	practitioner, err := s.users.Get(ctx, practitionerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Validation("practitioner does not exist", err)
		}
		return nil, fmt.Errorf("failed to look up practitioner: %w", err)
	}
	if !practitioner.IsApprovedPractitioner() {
		return nil, apperrors.Validation("practitioner is not accepting bookings", nil)
	}

	now := time.Now()
	apt := &model.Appointment{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		PatientID:       patientID,
		PractitionerID:  practitionerID,
		Date:            date,
		TimeLabel:       req.Time,
		Reason:          req.Reason,
		Status:          model.AppointmentStatusPending,
		ConsultationFee: practitioner.FeeOrDefault(),
		PaymentStatus:   model.PaymentStatusPending,
	}

	if err := s.ledger.Reserve(ctx, apt); err != nil {
		if apperrors.IsCode(err, apperrors.ErrSlotConflict) {
			s.metrics.SlotConflicts.Inc()
		}
		return nil, err
	}

	s.metrics.BookingsCreated.Inc()
	s.notifyAdmin(ctx, "created", apt)

	return apt, nil
}

// GetAppointment returns one record with its chat transcript attached.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	messages, err := s.repo.ListChatMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat transcript: %w", err)
	}
	apt.ChatMessages = messages

	return apt, nil
}

// ListAppointments returns the actor's view: a patient sees their own
// bookings, a practitioner their assigned ones, an admin everything.
func (s *Service) ListAppointments(ctx context.Context, actor model.Actor, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	if filters == nil {
		filters = &model.AppointmentFilters{}
	}

	switch actor.Role {
	case model.RolePatient:
		filters.PatientID = actor.ID
	case model.RolePractitioner:
		filters.PractitionerID = actor.ID
	case model.RoleAdmin:
	default:
		return nil, apperrors.Authorization("unknown role")
	}

	appointments, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

// BookedLabels returns the time labels already booked with a practitioner on
// a date, for the public availability view. Results are served from a short
// read-through cache.
func (s *Service) BookedLabels(ctx context.Context, practitionerID uuid.UUID, date string) ([]string, error) {
	d, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	key := practitionerID.String() + "|" + d.Format("2006-01-02")
	if labels, found := s.availCache.Get(key); found {
		return labels.([]string), nil
	}

	labels, err := s.ledger.BookedLabels(ctx, practitionerID, d)
	if err != nil {
		return nil, err
	}
	s.availCache.Set(key, labels, cache.DefaultExpiration)
	return labels, nil
}

// UpdateStatus applies a transition from the status table. Transitioning to
// completed is rejected while the slot date is still in the future; a
// completed appointment with notes triggers a best-effort health-record
// side effect that never rolls back the transition.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, actor model.Actor, req *model.UpdateStatusRequest) (*model.Appointment, error) {
	if !req.Status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown status %q", req.Status), nil)
	}

	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := authorizeMutation(actor, apt); err != nil {
		return nil, err
	}

	if !model.CanTransition(apt.Status, req.Status) {
		return nil, apperrors.IllegalTransition(string(apt.Status), string(req.Status))
	}

	if req.Status == model.AppointmentStatusCompleted {
		if dateOnly(apt.Date).After(dateOnly(time.Now())) {
			return nil, apperrors.FutureCompletionDenied()
		}
	}

	wasParked := apt.Status == model.AppointmentStatusPendingApproval

	apt.Status = req.Status
	if req.Notes != nil {
		apt.Notes = *req.Notes
	}
	if req.Prescription != nil {
		apt.Prescription = *req.Prescription
	}

	if wasParked && apt.Active() {
		// The triple was released while the record sat in pending_approval,
		// so re-approval must win it back through the ledger.
		if err := s.ledger.Reactivate(ctx, apt); err != nil {
			if apperrors.IsCode(err, apperrors.ErrSlotConflict) {
				s.metrics.SlotConflicts.Inc()
			}
			return nil, err
		}
	} else if err := s.updateRecord(ctx, apt); err != nil {
		return nil, err
	}

	s.metrics.StatusChanges.WithLabelValues(string(req.Status)).Inc()

	if req.Status == model.AppointmentStatusCompleted && apt.Notes != "" {
		s.recordConsultation(ctx, apt)
	}
	if req.Status == model.AppointmentStatusCancelled {
		s.notifyAdmin(ctx, "cancelled", apt)
	}

	return apt, nil
}

// Reschedule moves an appointment to a new slot. A practitioner-initiated
// reschedule parks the record in pending_approval and overwrites the
// reschedule audit snapshot.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actor model.Actor, req *model.RescheduleRequest) (*model.Appointment, error) {
	newDate, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	if !model.ValidSlotLabel(req.Time) {
		return nil, apperrors.Validation(fmt.Sprintf("unknown time slot %q", req.Time), nil)
	}

	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := authorizeMutation(actor, apt); err != nil {
		return nil, err
	}

	if apt.Status.Terminal() || apt.Status == model.AppointmentStatusInProgress {
		return nil, apperrors.Validation(fmt.Sprintf("cannot reschedule a %s appointment", apt.Status), nil)
	}

	oldDate, oldTime := apt.Date, apt.TimeLabel

	apt.Date = newDate
	apt.TimeLabel = req.Time
	if req.Reason != nil {
		apt.Reason = *req.Reason
	}

	initiator := "patient"
	if actor.Role == model.RolePractitioner {
		initiator = "practitioner"
		apt.Status = model.AppointmentStatusPendingApproval
		apt.RescheduleInfo = &model.RescheduleInfo{
			OldDate:       oldDate,
			OldTime:       oldTime,
			NewDate:       newDate,
			NewTime:       req.Time,
			RescheduledBy: actor.ID,
			RescheduledAt: time.Now(),
		}
	}

	if err := s.ledger.Move(ctx, apt); err != nil {
		if apperrors.IsCode(err, apperrors.ErrSlotConflict) {
			s.metrics.SlotConflicts.Inc()
		}
		return nil, err
	}

	s.metrics.Reschedules.WithLabelValues(initiator).Inc()

	return apt, nil
}

// RespondToReschedule lets the owning patient resolve a pending_approval
// record: accept moves it to approved, decline cancels it.
func (s *Service) RespondToReschedule(ctx context.Context, id uuid.UUID, actor model.Actor, accept bool) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role != model.RolePatient || apt.PatientID != actor.ID {
		return nil, apperrors.Authorization("only the booking patient can respond to a reschedule")
	}

	if apt.Status != model.AppointmentStatusPendingApproval {
		return nil, apperrors.IllegalTransition(string(apt.Status), "reschedule response")
	}

	if accept {
		apt.Status = model.AppointmentStatusApproved
		// Accepting re-activates the record; the triple may have been
		// booked away while it was parked.
		if err := s.ledger.Reactivate(ctx, apt); err != nil {
			if apperrors.IsCode(err, apperrors.ErrSlotConflict) {
				s.metrics.SlotConflicts.Inc()
			}
			return nil, err
		}
	} else {
		apt.Status = model.AppointmentStatusCancelled
		if err := s.updateRecord(ctx, apt); err != nil {
			return nil, err
		}
	}

	s.metrics.StatusChanges.WithLabelValues(string(apt.Status)).Inc()

	return apt, nil
}

// StartConsultation moves an approved appointment to in-progress. Only the
// assigned practitioner may start.
func (s *Service) StartConsultation(ctx context.Context, id uuid.UUID, practitionerID uuid.UUID) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if apt.PractitionerID != practitionerID {
		return nil, apperrors.Authorization("appointment is not assigned to this practitioner")
	}

	if !model.CanTransition(apt.Status, model.AppointmentStatusInProgress) {
		return nil, apperrors.IllegalTransition(string(apt.Status), string(model.AppointmentStatusInProgress))
	}

	apt.Status = model.AppointmentStatusInProgress
	if err := s.updateRecord(ctx, apt); err != nil {
		return nil, err
	}

	s.metrics.StatusChanges.WithLabelValues(string(apt.Status)).Inc()

	return apt, nil
}

// CompleteConsultation ends a session: status becomes completed and the
// consultation notes are recorded. The chat transcript is already durable
// because every chat event goes through AddChatMessage.
func (s *Service) CompleteConsultation(ctx context.Context, id uuid.UUID, actor model.Actor, req *model.CompleteConsultationRequest) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := authorizeMutation(actor, apt); err != nil {
		return nil, err
	}

	if !model.CanTransition(apt.Status, model.AppointmentStatusCompleted) {
		return nil, apperrors.IllegalTransition(string(apt.Status), string(model.AppointmentStatusCompleted))
	}

	if dateOnly(apt.Date).After(dateOnly(time.Now())) {
		return nil, apperrors.FutureCompletionDenied()
	}

	apt.Status = model.AppointmentStatusCompleted
	if req != nil && req.ConsultationNotes != nil {
		apt.ConsultationNotes = *req.ConsultationNotes
	}

	if err := s.updateRecord(ctx, apt); err != nil {
		return nil, err
	}

	s.metrics.StatusChanges.WithLabelValues(string(apt.Status)).Inc()

	if apt.ConsultationNotes != "" {
		s.recordConsultation(ctx, apt)
	}

	return apt, nil
}

// UpdateConsultationNotes lets the assigned practitioner revise notes
// outside of completion.
func (s *Service) UpdateConsultationNotes(ctx context.Context, id uuid.UUID, practitionerID uuid.UUID, notes string) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if apt.PractitionerID != practitionerID {
		return nil, apperrors.Authorization("appointment is not assigned to this practitioner")
	}

	apt.ConsultationNotes = notes
	if err := s.updateRecord(ctx, apt); err != nil {
		return nil, err
	}
	return apt, nil
}

// DeleteAppointment hard-deletes a record. Patient-owner or admin only.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID, actor model.Actor) error {
	apt, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	switch actor.Role {
	case model.RoleAdmin:
	case model.RolePatient:
		if apt.PatientID != actor.ID {
			return apperrors.Authorization("appointment does not belong to this patient")
		}
	default:
		return apperrors.Authorization("only the booking patient or an admin can delete an appointment")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("appointment", err)
		}
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	return nil
}

// AddChatMessage is the single persistence path for chat: both the REST
// endpoint and the live session relay append through here, so the stored
// transcript never diverges from what participants saw.
func (s *Service) AddChatMessage(ctx context.Context, id uuid.UUID, actor model.Actor, message string) (*model.ChatMessage, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := participantOnly(actor, apt); err != nil {
		return nil, err
	}

	msg := &model.ChatMessage{
		ID:            uuid.New(),
		AppointmentID: id,
		SenderID:      actor.ID,
		SenderRole:    actor.Role,
		Message:       message,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.AppendChatMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append chat message: %w", err)
	}
	return msg, nil
}

// AuthorizeParticipant verifies that userID is the patient or the assigned
// practitioner of the appointment and that the record is in a joinable
// state. The session hub calls this before admitting a connection.
func (s *Service) AuthorizeParticipant(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*model.Appointment, string, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	var role string
	switch userID {
	case apt.PatientID:
		role = model.RolePatient
	case apt.PractitionerID:
		role = model.RolePractitioner
	default:
		return nil, "", apperrors.Authorization("not a participant of this appointment")
	}

	if apt.Status != model.AppointmentStatusApproved && apt.Status != model.AppointmentStatusInProgress {
		return nil, "", apperrors.Validation(fmt.Sprintf("consultation cannot be joined while the appointment is %s", apt.Status), nil)
	}

	return apt, role, nil
}

// CreatePaymentIntent asks the payment processor for an intent covering the
// consultation fee and stores the opaque ref on the record.
func (s *Service) CreatePaymentIntent(ctx context.Context, id uuid.UUID, actor model.Actor) (*payment.Intent, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role != model.RolePatient || apt.PatientID != actor.ID {
		return nil, apperrors.Authorization("only the booking patient can pay for an appointment")
	}

	intent, err := s.paySvc.CreateIntent(ctx, apt.ConsultationFee, "usd", apt.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	apt.ExternalPaymentRef = intent.Ref
	if err := s.updateRecord(ctx, apt); err != nil {
		return nil, err
	}

	return intent, nil
}

// ConfirmPayment records the processor's outcome for a previously created
// intent.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, actor model.Actor, req *model.ConfirmPaymentRequest) (*model.Appointment, error) {
	apt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role != model.RolePatient || apt.PatientID != actor.ID {
		return nil, apperrors.Authorization("only the booking patient can confirm a payment")
	}

	if apt.ExternalPaymentRef == "" || apt.ExternalPaymentRef != req.PaymentRef {
		return nil, apperrors.Validation("payment ref does not match this appointment", nil)
	}

	if req.Succeeded {
		apt.PaymentStatus = model.PaymentStatusPaid
	} else {
		apt.PaymentStatus = model.PaymentStatusFailed
	}

	if err := s.updateRecord(ctx, apt); err != nil {
		return nil, err
	}
	return apt, nil
}

// ExpireOverduePending demotes pending appointments whose date has passed to
// cancelled. Called by the reconciliation sweeper; the demotion is durable,
// not a display-time correction.
func (s *Service) ExpireOverduePending(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.repo.FindOverduePending(ctx, dateOnly(now))
	if err != nil {
		return 0, fmt.Errorf("failed to find overdue appointments: %w", err)
	}

	corrected := 0
	for _, apt := range overdue {
		apt.Status = model.AppointmentStatusCancelled
		if err := s.repo.Update(ctx, apt); err != nil {
			s.logger.Error(err, "failed to expire overdue appointment", "appointment_id", apt.ID)
			continue
		}
		corrected++
		s.metrics.SweeperCorrections.Inc()
	}
	return corrected, nil
}

func participantOnly(actor model.Actor, apt *model.Appointment) error {
	switch actor.Role {
	case model.RolePatient:
		if apt.PatientID != actor.ID {
			return apperrors.Authorization("appointment does not belong to this patient")
		}
	case model.RolePractitioner:
		if apt.PractitionerID != actor.ID {
			return apperrors.Authorization("appointment is not assigned to this practitioner")
		}
	default:
		return apperrors.Authorization("only appointment participants can send chat messages")
	}
	return nil
}

func (s *Service) updateRecord(ctx context.Context, apt *model.Appointment) error {
	if err := s.repo.Update(ctx, apt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("appointment", err)
		}
		// The partial unique index can still reject a write the ledger
		// did not mediate.
		if errors.Is(err, repository.ErrDuplicateSlot) {
			return apperrors.SlotConflict(err)
		}
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return nil
}

// recordConsultation is an at-least-once, non-transactional side effect:
// failures are logged and never roll back the status change.
func (s *Service) recordConsultation(ctx context.Context, apt *model.Appointment) {
	rec := &healthrecord.Record{
		AppointmentID:  apt.ID,
		PatientID:      apt.PatientID,
		PractitionerID: apt.PractitionerID,
		Notes:          apt.Notes,
		Prescription:   apt.Prescription,
		RecordedAt:     time.Now(),
	}
	if rec.Notes == "" {
		rec.Notes = apt.ConsultationNotes
	}
	if err := s.healthSvc.CreateConsultationRecord(ctx, rec); err != nil {
		s.logger.Error(err, "failed to create consultation record", "appointment_id", apt.ID)
	}
}

func (s *Service) notifyAdmin(ctx context.Context, event string, apt *model.Appointment) {
	if err := s.notifSvc.NotifyAdmin(ctx, event, apt); err != nil {
		s.logger.Error(err, "admin notification failed", "event", event, "appointment_id", apt.ID)
	}
}
