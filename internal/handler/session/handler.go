package session

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/careslot/scheduling-api/internal/middleware"
	"github.com/careslot/scheduling-api/internal/service/session"
	apperrors "github.com/careslot/scheduling-api/pkg/errors"
	"github.com/careslot/scheduling-api/pkg/httputil"
	"github.com/careslot/scheduling-api/pkg/logger"
)

type Handler struct {
	hub      *session.Hub
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *session.Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The token query parameter already authenticates the dial.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws/consultations/:id", h.Connect)
}

// Connect upgrades the request and admits the caller into the consultation
// room for the appointment. A caller the hub rejects gets a policy-violation
// close frame before the socket is dropped.
func (h *Handler) Connect(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("missing authentication"))
		return
	}

	appointmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid appointment ID", err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(err, "websocket upgrade failed", "appointment_id", appointmentID)
		return
	}

	client, err := h.hub.Join(c.Request.Context(), appointmentID, actor.ID, conn)
	if err != nil {
		h.logger.Info("consultation join rejected",
			"appointment_id", appointmentID, "user_id", actor.ID, "reason", err.Error())
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not authorized for this consultation"))
		_ = conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}
