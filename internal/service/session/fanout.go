package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// fanoutMessage wraps an envelope published to the shared session channel.
// The origin field stops a process from replaying its own events.
type fanoutMessage struct {
	Origin   string   `json:"origin"`
	Envelope Envelope `json:"envelope"`
}

func sessionChannel(appointmentID uuid.UUID) string {
	return fmt.Sprintf("session:%s", appointmentID)
}

func (h *Hub) publish(appointmentID uuid.UUID, env *Envelope) {
	if h.broker == nil {
		return
	}
	msg := fanoutMessage{
		Origin:   h.originID,
		Envelope: *env,
	}
	if err := h.broker.Publish(context.Background(), sessionChannel(appointmentID), msg); err != nil {
		h.logger.Error(err, "session fan-out publish failed", "appointment_id", appointmentID)
	}
}

// runFanout delivers events published by other processes to this process's
// local room members. It lives for the lifetime of the local room.
func (h *Hub) runFanout(ctx context.Context, appointmentID uuid.UUID) {
	msgs, err := h.broker.Subscribe(ctx, sessionChannel(appointmentID))
	if err != nil {
		h.logger.Error(err, "session fan-out subscribe failed", "appointment_id", appointmentID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			var msg fanoutMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Origin == h.originID {
				continue
			}
			data, err := json.Marshal(&msg.Envelope)
			if err != nil {
				continue
			}
			h.send(appointmentID, nil, data)
		}
	}
}
