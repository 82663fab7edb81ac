package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careslot/scheduling-api/internal/model"
	"github.com/careslot/scheduling-api/pkg/logger"
	"github.com/careslot/scheduling-api/pkg/messaging"
	"github.com/careslot/scheduling-api/pkg/metrics"
)

// Session event names, matching the real-time channel contract.
const (
	EventJoin         = "join-consultation"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventChatMessage  = "chat-message"
	EventLeave        = "leave-consultation"
	EventPeerJoined   = "peer-joined"
	EventPeerLeft     = "peer-left"
)

// Envelope is the wire format of one session event. Signaling payloads are
// opaque: they are relayed verbatim and never inspected or persisted.
type Envelope struct {
	Event   string          `json:"event"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type chatPayload struct {
	Message string `json:"message"`
}

// Authorizer gates room admission: only the appointment's patient or
// assigned practitioner may join, and only while the record is joinable.
type Authorizer interface {
	AuthorizeParticipant(ctx context.Context, appointmentID uuid.UUID, userID uuid.UUID) (*model.Appointment, string, error)
}

// ChatRecorder is the single chat persistence path shared with the REST
// endpoint.
type ChatRecorder interface {
	AddChatMessage(ctx context.Context, id uuid.UUID, actor model.Actor, message string) (*model.ChatMessage, error)
}

// Engine is the slice of the lifecycle service the hub needs.
type Engine interface {
	Authorizer
	ChatRecorder
}

type room struct {
	clients      map[*Client]struct{}
	lastActivity time.Time
	cancelFanout context.CancelFunc
}

// Hub coordinates the ephemeral consultation rooms, keyed by appointment id.
// A room exists from the first join until the last leave or disconnect.
// When a broker is configured, events fan out across processes through the
// session:<appointment-id> channel.
type Hub struct {
	engine  Engine
	broker  messaging.Broker
	metrics *metrics.Metrics
	logger  *logger.Logger
	idleTTL time.Duration

	// originID distinguishes this process's published events from remote
	// ones so fan-out does not echo.
	originID string

	mu    sync.RWMutex
	rooms map[uuid.UUID]*room
}

func NewHub(engine Engine, broker messaging.Broker, m *metrics.Metrics, log *logger.Logger, idleTTL time.Duration) *Hub {
	return &Hub{
		engine:   engine,
		broker:   broker,
		metrics:  m,
		logger:   log,
		idleTTL:  idleTTL,
		originID: uuid.NewString(),
		rooms:    make(map[uuid.UUID]*room),
	}
}

// Join admits a connection after verifying the caller is a participant of
// the appointment. The remaining room members are told a peer joined.
func (h *Hub) Join(ctx context.Context, appointmentID uuid.UUID, userID uuid.UUID, conn Conn) (*Client, error) {
	_, role, err := h.engine.AuthorizeParticipant(ctx, appointmentID, userID)
	if err != nil {
		return nil, err
	}

	client := &Client{
		UserID:        userID,
		Role:          role,
		AppointmentID: appointmentID,
		Send:          make(chan []byte, 64),
		conn:          conn,
		hub:           h,
	}

	h.mu.Lock()
	r, ok := h.rooms[appointmentID]
	if !ok {
		r = &room{clients: make(map[*Client]struct{})}
		h.rooms[appointmentID] = r
		h.metrics.ActiveRooms.Inc()
		if h.broker != nil {
			fanoutCtx, cancel := context.WithCancel(context.Background())
			r.cancelFanout = cancel
			go h.runFanout(fanoutCtx, appointmentID)
		}
	}
	r.clients[client] = struct{}{}
	r.lastActivity = time.Now()
	h.mu.Unlock()

	h.deliver(appointmentID, client, &Envelope{
		Event: EventPeerJoined,
		From:  userID.String(),
	})
	h.metrics.RelayedMessages.WithLabelValues(EventJoin).Inc()

	return client, nil
}

// Leave removes a client from its room and notifies the remaining members.
// It is called both for an explicit leave event and on abrupt disconnect.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[client.AppointmentID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := r.clients[client]; !member {
		h.mu.Unlock()
		return
	}
	delete(r.clients, client)
	close(client.Send)
	empty := len(r.clients) == 0
	if empty {
		if r.cancelFanout != nil {
			r.cancelFanout()
		}
		delete(h.rooms, client.AppointmentID)
		h.metrics.ActiveRooms.Dec()
	}
	h.mu.Unlock()

	if !empty {
		h.deliver(client.AppointmentID, client, &Envelope{
			Event: EventPeerLeft,
			From:  client.UserID.String(),
		})
	}
	h.metrics.RelayedMessages.WithLabelValues(EventLeave).Inc()
}

// HandleMessage processes one inbound envelope from a client: signaling
// events are relayed verbatim to the other room members, chat messages are
// persisted through the engine and then broadcast.
func (h *Hub) HandleMessage(ctx context.Context, client *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Malformed frames are dropped.
		return
	}
	env.From = client.UserID.String()

	switch env.Event {
	case EventOffer, EventAnswer, EventICECandidate:
		h.deliver(client.AppointmentID, client, &env)
		h.metrics.RelayedMessages.WithLabelValues(env.Event).Inc()

	case EventChatMessage:
		var chat chatPayload
		if err := json.Unmarshal(env.Payload, &chat); err != nil || chat.Message == "" {
			return
		}
		actor := model.Actor{ID: client.UserID, Role: client.Role}
		msg, err := h.engine.AddChatMessage(ctx, client.AppointmentID, actor, chat.Message)
		if err != nil {
			h.logger.Error(err, "failed to persist session chat message",
				"appointment_id", client.AppointmentID)
			return
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return
		}
		env.Payload = payload
		h.broadcast(client.AppointmentID, &env)
		h.metrics.RelayedMessages.WithLabelValues(env.Event).Inc()

	case EventLeave:
		h.Leave(client)
	}
}

// deliver sends an envelope to every room member except the sender.
// A peer whose buffer is full simply misses the message.
func (h *Hub) deliver(appointmentID uuid.UUID, sender *Client, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.send(appointmentID, sender, data)
	h.publish(appointmentID, env)
}

// broadcast sends an envelope to every room member including the sender.
func (h *Hub) broadcast(appointmentID uuid.UUID, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.send(appointmentID, nil, data)
	h.publish(appointmentID, env)
}

func (h *Hub) send(appointmentID uuid.UUID, skip *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[appointmentID]
	if !ok {
		return
	}
	r.lastActivity = time.Now()
	// Pushes stay inside the lock: Leave closes Send under the same lock,
	// so a member seen here cannot have a closed channel.
	for c := range r.clients {
		if c == skip {
			continue
		}
		select {
		case c.Send <- data:
		default:
			// Slow peer; drop rather than block the room.
		}
	}
}

// RoomSize returns the number of connected members for an appointment.
func (h *Hub) RoomSize(appointmentID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[appointmentID]
	if !ok {
		return 0
	}
	return len(r.clients)
}

// RunReaper closes rooms that have seen no activity for the idle TTL, so an
// abandoned session cannot hold a room open forever.
func (h *Hub) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reapIdle(time.Now())
		}
	}
}

func (h *Hub) reapIdle(now time.Time) {
	h.mu.Lock()
	var stale []*Client
	for id, r := range h.rooms {
		if now.Sub(r.lastActivity) < h.idleTTL {
			continue
		}
		for c := range r.clients {
			stale = append(stale, c)
		}
		h.logger.Info("reaping idle consultation room", "appointment_id", id)
		h.metrics.SessionsReaped.Inc()
	}
	h.mu.Unlock()

	for _, c := range stale {
		c.Close()
		h.Leave(c)
	}
}
