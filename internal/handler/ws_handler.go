package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/middleware"
	"github.com/stemsi/gate-backend/internal/response"
	"github.com/stemsi/gate-backend/internal/service"
	ws "github.com/stemsi/gate-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live session and accepts intents over one socket.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	pingPeriod     time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		pingPeriod:     ws.PingPeriod,
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:id/stream?token=
// Pushes session events (state, submit_confirmation_requested, time_expired,
// completed) and applies intents sent by the client.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	// Subscribe before upgrading so a bad session gets a plain HTTP error.
	events, cancel, err := h.sessionService.Subscribe(claims.UserID, sessionID)
	if err != nil {
		fail(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Learner connected")

	replies := make(chan any, 8)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go h.writeLoop(conn, events, replies, done, writerDone, wsLog)

	ws.KeepAlive(conn)
	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var reply any
		if req.Action == ws.ActionPing {
			reply = ws.PongResponse{Event: ws.EventPong}
		} else if _, err := h.sessionService.Dispatch(c.Request.Context(), claims.UserID, sessionID, req.Intent()); err != nil {
			_, code := statusFor(err)
			reply = ws.NewError(string(code), response.GetMessage(code))
		}
		if reply == nil {
			continue
		}

		select {
		case replies <- reply:
		case <-writerDone:
		}
	}

	close(done)
	<-writerDone
}

// writeLoop is the connection's only writer.
func (h *WSHandler) writeLoop(conn *websocket.Conn, events <-chan service.SessionEvent, replies <-chan any, done <-chan struct{}, writerDone chan<- struct{}, log zerolog.Logger) {
	defer close(writerDone)

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(ws.WriteWait))
				// Unblocks the reader still waiting on the peer.
				_ = conn.Close()
				return
			}
			err = ws.WriteTyped(conn, ev)
		case r := <-replies:
			err = ws.WriteTyped(conn, r)
		case <-ticker.C:
			err = ws.WritePing(conn)
		}
		if err != nil {
			log.Debug().Err(err).Msg("Write failed")
			_ = conn.Close()
			return
		}
	}
}
