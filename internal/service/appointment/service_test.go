package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careslot/scheduling-api/internal/model"
	"github.com/careslot/scheduling-api/internal/repository"
	"github.com/careslot/scheduling-api/internal/service/healthrecord"
	"github.com/careslot/scheduling-api/internal/service/payment"
	"github.com/careslot/scheduling-api/internal/service/slot"
	apperrors "github.com/careslot/scheduling-api/pkg/errors"
	"github.com/careslot/scheduling-api/pkg/lock"
	"github.com/careslot/scheduling-api/pkg/logger"
	"github.com/careslot/scheduling-api/pkg/metrics"
)

type memoryRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*model.Appointment
	chat         map[uuid.UUID][]*model.ChatMessage
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		appointments: make(map[uuid.UUID]*model.Appointment),
		chat:         make(map[uuid.UUID][]*model.ChatMessage),
	}
}

func (r *memoryRepo) Create(ctx context.Context, apt *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *apt
	r.appointments[apt.ID] = &cp
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apt, ok := r.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *apt
	return &cp, nil
}

func (r *memoryRepo) Update(ctx context.Context, apt *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[apt.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *apt
	r.appointments[apt.ID] = &cp
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *memoryRepo) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Appointment
	for _, apt := range r.appointments {
		if filters != nil {
			if filters.PatientID != uuid.Nil && apt.PatientID != filters.PatientID {
				continue
			}
			if filters.PractitionerID != uuid.Nil && apt.PractitionerID != filters.PractitionerID {
				continue
			}
			if filters.Status != "" && apt.Status != filters.Status {
				continue
			}
		}
		cp := *apt
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryRepo) HasActiveBooking(ctx context.Context, practitionerID uuid.UUID, date time.Time, timeLabel string, excludeID *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, apt := range r.appointments {
		if excludeID != nil && apt.ID == *excludeID {
			continue
		}
		if apt.PractitionerID == practitionerID && apt.Date.Equal(date) &&
			apt.TimeLabel == timeLabel && apt.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) BookedLabels(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var labels []string
	for _, apt := range r.appointments {
		if apt.PractitionerID == practitionerID && apt.Date.Equal(date) && apt.Active() {
			labels = append(labels, apt.TimeLabel)
		}
	}
	return labels, nil
}

func (r *memoryRepo) FindOverduePending(ctx context.Context, before time.Time) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Appointment
	for _, apt := range r.appointments {
		if apt.Status == model.AppointmentStatusPending && apt.Date.Before(before) {
			cp := *apt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryRepo) AppendChatMessage(ctx context.Context, msg *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *msg
	r.chat[msg.AppointmentID] = append(r.chat[msg.AppointmentID], &cp)
	return nil
}

func (r *memoryRepo) ListChatMessages(ctx context.Context, appointmentID uuid.UUID) ([]*model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.ChatMessage(nil), r.chat[appointmentID]...), nil
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[uuid.UUID]*model.User)}
}

func (r *memoryUsers) add(u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *memoryUsers) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) NotifyAdmin(ctx context.Context, event string, apt *model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type fakeHealthRecords struct {
	mu      sync.Mutex
	records []*healthrecord.Record
}

func (h *fakeHealthRecords) CreateConsultationRecord(ctx context.Context, rec *healthrecord.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHealthRecords) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

type fakePayments struct {
	mu      sync.Mutex
	intents int
}

func (p *fakePayments) CreateIntent(ctx context.Context, amount float64, currency string, reference string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents++
	return &payment.Intent{Ref: "pi_" + reference, ClientSecret: "secret"}, nil
}

type fixture struct {
	svc          *Service
	repo         *memoryRepo
	users        *memoryUsers
	notifier     *fakeNotifier
	health       *fakeHealthRecords
	payments     *fakePayments
	patient      uuid.UUID
	practitioner uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemoryRepo()
	users := newMemoryUsers()
	notifier := &fakeNotifier{}
	health := &fakeHealthRecords{}
	payments := &fakePayments{}

	patient := uuid.New()
	practitioner := uuid.New()
	users.add(&model.User{
		Base: model.Base{ID: patient},
		Role: model.RolePatient,
	})
	users.add(&model.User{
		Base:            model.Base{ID: practitioner},
		Role:            model.RolePractitioner,
		ApprovalStatus:  model.ApprovalApproved,
		ConsultationFee: 150,
	})

	m := metrics.NewMetrics(prometheus.NewRegistry(), "test")
	svc := NewService(
		repo, users, slot.NewLedger(repo, lock.NewKeyMutex()),
		notifier, health, payments, m, logger.NewLogger(nil))

	return &fixture{
		svc:          svc,
		repo:         repo,
		users:        users,
		notifier:     notifier,
		health:       health,
		payments:     payments,
		patient:      patient,
		practitioner: practitioner,
	}
}

func (f *fixture) patientActor() model.Actor {
	return model.Actor{ID: f.patient, Role: model.RolePatient}
}

func (f *fixture) practitionerActor() model.Actor {
	return model.Actor{ID: f.practitioner, Role: model.RolePractitioner}
}

func (f *fixture) book(t *testing.T, date, timeLabel string) *model.Appointment {
	t.Helper()
	apt, err := f.svc.CreateAppointment(context.Background(), f.patient, &model.CreateAppointmentRequest{
		PractitionerID: f.practitioner.String(),
		Date:           date,
		Time:           timeLabel,
		Reason:         "checkup",
	})
	require.NoError(t, err)
	return apt
}

// bookWithStatus books and then forces the stored status, for tests that
// need an appointment mid-lifecycle.
func (f *fixture) bookWithStatus(t *testing.T, date, timeLabel string, status model.AppointmentStatus) *model.Appointment {
	t.Helper()
	apt := f.book(t, date, timeLabel)
	apt.Status = status
	require.NoError(t, f.repo.Update(context.Background(), apt))
	return apt
}

func futureDate() string {
	return time.Now().AddDate(0, 0, 7).Format("2006-01-02")
}

func pastDate() string {
	return time.Now().AddDate(0, 0, -7).Format("2006-01-02")
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)

	apt := f.book(t, futureDate(), "10:00")

	assert.Equal(t, model.AppointmentStatusPending, apt.Status)
	assert.Equal(t, model.PaymentStatusPending, apt.PaymentStatus)
	assert.Equal(t, 150.0, apt.ConsultationFee, "fee is snapshotted from the practitioner profile")
	assert.Equal(t, []string{"created"}, f.notifier.events)
}

func TestCreateAppointmentDefaultFee(t *testing.T) {
	f := newFixture(t)

	noFee := uuid.New()
	f.users.add(&model.User{
		Base:           model.Base{ID: noFee},
		Role:           model.RolePractitioner,
		ApprovalStatus: model.ApprovalApproved,
	})

	apt, err := f.svc.CreateAppointment(context.Background(), f.patient, &model.CreateAppointmentRequest{
		PractitionerID: noFee.String(),
		Date:           futureDate(),
		Time:           "10:00",
		Reason:         "checkup",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(model.DefaultConsultationFee), apt.ConsultationFee)
}

func TestCreateAppointmentUnapprovedPractitioner(t *testing.T) {
	f := newFixture(t)

	unapproved := uuid.New()
	f.users.add(&model.User{
		Base:           model.Base{ID: unapproved},
		Role:           model.RolePractitioner,
		ApprovalStatus: model.ApprovalPending,
	})

	_, err := f.svc.CreateAppointment(context.Background(), f.patient, &model.CreateAppointmentRequest{
		PractitionerID: unapproved.String(),
		Date:           futureDate(),
		Time:           "10:00",
		Reason:         "checkup",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestCreateAppointmentSlotConflict(t *testing.T) {
	f := newFixture(t)
	date := futureDate()

	f.book(t, date, "10:00")

	_, err := f.svc.CreateAppointment(context.Background(), uuid.New(), &model.CreateAppointmentRequest{
		PractitionerID: f.practitioner.String(),
		Date:           date,
		Time:           "10:00",
		Reason:         "checkup",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotConflict))
}

func TestCreateAppointmentInvalidSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointment(context.Background(), f.patient, &model.CreateAppointmentRequest{
		PractitionerID: f.practitioner.String(),
		Date:           futureDate(),
		Time:           "09:30",
		Reason:         "checkup",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestUpdateStatusApprove(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, futureDate(), "10:00")

	updated, err := f.svc.UpdateStatus(context.Background(), apt.ID, f.practitionerActor(),
		&model.UpdateStatusRequest{Status: model.AppointmentStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusApproved, updated.Status)
}

func TestUpdateStatusIllegalTransition(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, futureDate(), "10:00")

	_, err := f.svc.UpdateStatus(context.Background(), apt.ID, f.practitionerActor(),
		&model.UpdateStatusRequest{Status: model.AppointmentStatusCompleted})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrIllegalTransition))
}

func TestUpdateStatusTerminalIsFrozen(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusCancelled)

	_, err := f.svc.UpdateStatus(context.Background(), apt.ID, f.practitionerActor(),
		&model.UpdateStatusRequest{Status: model.AppointmentStatusApproved})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrIllegalTransition))
}

func TestUpdateStatusFutureCompletionDenied(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusInProgress)

	_, err := f.svc.UpdateStatus(context.Background(), apt.ID, f.practitionerActor(),
		&model.UpdateStatusRequest{Status: model.AppointmentStatusCompleted})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrFutureCompletion))
}

func TestUpdateStatusCompletedRecordsConsultation(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, pastDate(), "10:00", model.AppointmentStatusInProgress)

	notes := "follow up in two weeks"
	updated, err := f.svc.UpdateStatus(context.Background(), apt.ID, f.practitionerActor(),
		&model.UpdateStatusRequest{Status: model.AppointmentStatusCompleted, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, updated.Status)
	assert.Equal(t, 1, f.health.count())
}

func TestUpdateStatusAuthorization(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, futureDate(), "10:00")

	// A stranger patient cannot touch the record
	_, err := f.svc.UpdateStatus(context.Background(), apt.ID,
		model.Actor{ID: uuid.New(), Role: model.RolePatient},
		&model.UpdateStatusRequest{Status: model.AppointmentStatusCancelled})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	// Neither can an unassigned practitioner
	_, err = f.svc.UpdateStatus(context.Background(), apt.ID,
		model.Actor{ID: uuid.New(), Role: model.RolePractitioner},
		&model.UpdateStatusRequest{Status: model.AppointmentStatusApproved})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	// An admin is unconstrained
	_, err = f.svc.UpdateStatus(context.Background(), apt.ID,
		model.Actor{ID: uuid.New(), Role: model.RoleAdmin},
		&model.UpdateStatusRequest{Status: model.AppointmentStatusApproved})
	assert.NoError(t, err)
}

func TestPatientRescheduleKeepsStatus(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, futureDate(), "10:00")

	moved, err := f.svc.Reschedule(context.Background(), apt.ID, f.patientActor(),
		&model.RescheduleRequest{Date: futureDate(), Time: "14:00"})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, moved.Status)
	assert.Equal(t, "14:00", moved.TimeLabel)
	assert.Nil(t, moved.RescheduleInfo)
}

func TestPractitionerRescheduleNeedsApproval(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusApproved)

	moved, err := f.svc.Reschedule(context.Background(), apt.ID, f.practitionerActor(),
		&model.RescheduleRequest{Date: futureDate(), Time: "14:00"})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPendingApproval, moved.Status)
	require.NotNil(t, moved.RescheduleInfo)
	assert.Equal(t, "10:00", moved.RescheduleInfo.OldTime)
	assert.Equal(t, "14:00", moved.RescheduleInfo.NewTime)
	assert.Equal(t, f.practitioner, moved.RescheduleInfo.RescheduledBy)
}

func TestRescheduleOntoOccupiedSlot(t *testing.T) {
	f := newFixture(t)
	date := futureDate()
	f.book(t, date, "14:00")
	apt := f.book(t, date, "10:00")

	_, err := f.svc.Reschedule(context.Background(), apt.ID, f.patientActor(),
		&model.RescheduleRequest{Date: date, Time: "14:00"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotConflict))
}

func TestRescheduleTerminalRejected(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusCancelled)

	_, err := f.svc.Reschedule(context.Background(), apt.ID, f.patientActor(),
		&model.RescheduleRequest{Date: futureDate(), Time: "14:00"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestRespondToReschedule(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusApproved)

	_, err := f.svc.Reschedule(context.Background(), apt.ID, f.practitionerActor(),
		&model.RescheduleRequest{Date: futureDate(), Time: "14:00"})
	require.NoError(t, err)

	// Only the booking patient may respond
	_, err = f.svc.RespondToReschedule(context.Background(), apt.ID, f.practitionerActor(), true)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	accepted, err := f.svc.RespondToReschedule(context.Background(), apt.ID, f.patientActor(), true)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusApproved, accepted.Status)

	// A second response has nothing to resolve
	_, err = f.svc.RespondToReschedule(context.Background(), apt.ID, f.patientActor(), true)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrIllegalTransition))
}

func TestRespondToRescheduleDecline(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusApproved)

	_, err := f.svc.Reschedule(context.Background(), apt.ID, f.practitionerActor(),
		&model.RescheduleRequest{Date: futureDate(), Time: "14:00"})
	require.NoError(t, err)

	declined, err := f.svc.RespondToReschedule(context.Background(), apt.ID, f.patientActor(), false)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, declined.Status)
}

// A pending_approval record does not hold its triple, so accepting the
// reschedule must win the slot back through the ledger.
func TestRespondToRescheduleSlotTakenWhileParked(t *testing.T) {
	f := newFixture(t)
	date := futureDate()
	apt := f.bookWithStatus(t, date, "10:00", model.AppointmentStatusApproved)

	_, err := f.svc.Reschedule(context.Background(), apt.ID, f.practitionerActor(),
		&model.RescheduleRequest{Date: date, Time: "14:00"})
	require.NoError(t, err)

	// Another patient books the contested slot while the record is parked.
	rival := uuid.New()
	f.users.add(&model.User{Base: model.Base{ID: rival}, Role: model.RolePatient})
	_, err = f.svc.CreateAppointment(context.Background(), rival, &model.CreateAppointmentRequest{
		PractitionerID: f.practitioner.String(),
		Date:           date,
		Time:           "14:00",
		Reason:         "checkup",
	})
	require.NoError(t, err)

	_, err = f.svc.RespondToReschedule(context.Background(), apt.ID, f.patientActor(), true)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotConflict))

	labels, err := f.svc.BookedLabels(context.Background(), f.practitioner, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"14:00"}, labels, "only the rival booking holds the slot")
}

// The availability view is read-through cached; bookings written behind the
// cache stay invisible until the TTL lapses. Conflict checks are unaffected.
func TestBookedLabelsCached(t *testing.T) {
	f := newFixture(t)
	date := futureDate()
	f.book(t, date, "10:00")

	labels, err := f.svc.BookedLabels(context.Background(), f.practitioner, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, labels)

	f.book(t, date, "14:00")
	labels, err = f.svc.BookedLabels(context.Background(), f.practitioner, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, labels, "second lookup is served from the cache")
}

// The pending_approval clear can also go through the generic status update,
// which any authorized participant may use.
func TestPendingApprovalClearedViaUpdateStatus(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusPendingApproval)

	updated, err := f.svc.UpdateStatus(context.Background(), apt.ID, f.practitionerActor(),
		&model.UpdateStatusRequest{Status: model.AppointmentStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusApproved, updated.Status)
}

// The generic pending_approval → approved path is also a re-activation and
// must respect a slot booked away in the meantime.
func TestPendingApprovalReapprovalSlotTaken(t *testing.T) {
	f := newFixture(t)
	date := futureDate()
	apt := f.bookWithStatus(t, date, "10:00", model.AppointmentStatusPendingApproval)
	f.book(t, date, "10:00")

	_, err := f.svc.UpdateStatus(context.Background(), apt.ID, f.practitionerActor(),
		&model.UpdateStatusRequest{Status: model.AppointmentStatusApproved})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotConflict))
}

func TestStartConsultation(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusApproved)

	// Only the assigned practitioner can start
	_, err := f.svc.StartConsultation(context.Background(), apt.ID, uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	started, err := f.svc.StartConsultation(context.Background(), apt.ID, f.practitioner)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusInProgress, started.Status)

	// A pending appointment cannot be started
	pending := f.book(t, futureDate(), "11:00")
	_, err = f.svc.StartConsultation(context.Background(), pending.ID, f.practitioner)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrIllegalTransition))
}

func TestCompleteConsultation(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, pastDate(), "10:00", model.AppointmentStatusInProgress)

	notes := "prescribed rest"
	done, err := f.svc.CompleteConsultation(context.Background(), apt.ID, f.practitionerActor(),
		&model.CompleteConsultationRequest{ConsultationNotes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, done.Status)
	assert.Equal(t, notes, done.ConsultationNotes)
	assert.Equal(t, 1, f.health.count())
}

func TestChatTranscript(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusInProgress)

	_, err := f.svc.AddChatMessage(context.Background(), apt.ID, f.patientActor(), "hello doctor")
	require.NoError(t, err)
	_, err = f.svc.AddChatMessage(context.Background(), apt.ID, f.practitionerActor(), "hello")
	require.NoError(t, err)

	// Outsiders cannot write to the transcript
	_, err = f.svc.AddChatMessage(context.Background(), apt.ID,
		model.Actor{ID: uuid.New(), Role: model.RolePatient}, "eavesdropping")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	loaded, err := f.svc.GetAppointment(context.Background(), apt.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ChatMessages, 2)
	assert.Equal(t, "hello doctor", loaded.ChatMessages[0].Message)
	assert.Equal(t, model.RolePatient, loaded.ChatMessages[0].SenderRole)
}

func TestListAppointmentsRoleScoped(t *testing.T) {
	f := newFixture(t)
	f.book(t, futureDate(), "10:00")

	otherPatient := uuid.New()
	_, err := f.svc.CreateAppointment(context.Background(), otherPatient, &model.CreateAppointmentRequest{
		PractitionerID: f.practitioner.String(),
		Date:           futureDate(),
		Time:           "11:00",
		Reason:         "checkup",
	})
	require.NoError(t, err)

	mine, err := f.svc.ListAppointments(context.Background(), f.patientActor(), nil)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	assigned, err := f.svc.ListAppointments(context.Background(), f.practitionerActor(), nil)
	require.NoError(t, err)
	assert.Len(t, assigned, 2)

	all, err := f.svc.ListAppointments(context.Background(),
		model.Actor{ID: uuid.New(), Role: model.RoleAdmin}, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteAppointment(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, futureDate(), "10:00")

	// The practitioner cannot delete
	err := f.svc.DeleteAppointment(context.Background(), apt.ID, f.practitionerActor())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	require.NoError(t, f.svc.DeleteAppointment(context.Background(), apt.ID, f.patientActor()))

	_, err = f.svc.GetAppointment(context.Background(), apt.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestAuthorizeParticipant(t *testing.T) {
	f := newFixture(t)
	apt := f.bookWithStatus(t, futureDate(), "10:00", model.AppointmentStatusApproved)

	_, role, err := f.svc.AuthorizeParticipant(context.Background(), apt.ID, f.patient)
	require.NoError(t, err)
	assert.Equal(t, model.RolePatient, role)

	_, role, err = f.svc.AuthorizeParticipant(context.Background(), apt.ID, f.practitioner)
	require.NoError(t, err)
	assert.Equal(t, model.RolePractitioner, role)

	_, _, err = f.svc.AuthorizeParticipant(context.Background(), apt.ID, uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	// A pending appointment has no joinable session
	pending := f.book(t, futureDate(), "11:00")
	_, _, err = f.svc.AuthorizeParticipant(context.Background(), pending.ID, f.patient)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestPaymentFlow(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, futureDate(), "10:00")

	// Only the booking patient can pay
	_, err := f.svc.CreatePaymentIntent(context.Background(), apt.ID, f.practitionerActor())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	intent, err := f.svc.CreatePaymentIntent(context.Background(), apt.ID, f.patientActor())
	require.NoError(t, err)
	assert.NotEmpty(t, intent.Ref)

	// A mismatched ref is rejected
	_, err = f.svc.ConfirmPayment(context.Background(), apt.ID, f.patientActor(),
		&model.ConfirmPaymentRequest{PaymentRef: "pi_other", Succeeded: true})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	paid, err := f.svc.ConfirmPayment(context.Background(), apt.ID, f.patientActor(),
		&model.ConfirmPaymentRequest{PaymentRef: intent.Ref, Succeeded: true})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
}

func TestExpireOverduePending(t *testing.T) {
	f := newFixture(t)

	overdue := f.book(t, futureDate(), "10:00")
	overdue.Date = time.Now().AddDate(0, 0, -3)
	require.NoError(t, f.repo.Update(context.Background(), overdue))

	kept := f.book(t, futureDate(), "11:00")
	approved := f.bookWithStatus(t, futureDate(), "12:00", model.AppointmentStatusApproved)
	approved.Date = time.Now().AddDate(0, 0, -3)
	require.NoError(t, f.repo.Update(context.Background(), approved))

	corrected, err := f.svc.ExpireOverduePending(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	expired, err := f.svc.GetAppointment(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, expired.Status)

	// Future pending and overdue approved records are untouched
	still, err := f.svc.GetAppointment(context.Background(), kept.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, still.Status)

	untouched, err := f.svc.GetAppointment(context.Background(), approved.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusApproved, untouched.Status)
}
