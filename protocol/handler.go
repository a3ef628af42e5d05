package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"

	"sketchsync/domain"
	"sketchsync/hub"
)

const defaultUserName = "Anonymous"

// Handler decodes inbound frames, dispatches them to the hub, and sends the
// direct replies. Presence and drawing fan-out to other members is the hub's
// job; the handler only ever writes back to the requesting connection.
type Handler struct {
	hub domain.SessionHub
}

func NewHandler(h domain.SessionHub) *Handler {
	return &Handler{hub: h}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("invalid message", "userId", conn.ID(), "error", err)
		return
	}

	switch env.Event {
	case domain.EventCreateSession:
		h.createSession(conn, env.Data)
	case domain.EventJoinSession:
		h.joinSession(conn, env.Data)
	case domain.EventLeaveSession:
		var ref domain.SessionRef
		if !h.decode(conn, env.Data, &ref) {
			return
		}
		h.hub.Leave(conn, ref.SessionID)
	case domain.EventGetWhiteboardState:
		h.whiteboardState(conn, env.Data)
	case domain.EventDrawing:
		var ev domain.DrawEvent
		if !h.decode(conn, env.Data, &ev) {
			return
		}
		h.hub.Drawing(conn, ev)
	case domain.EventClear:
		var ref domain.SessionRef
		if !h.decode(conn, env.Data, &ref) {
			return
		}
		h.hub.Clear(conn, ref.SessionID)
	default:
		slog.Debug("unknown event", "userId", conn.ID(), "event", env.Event)
	}
}

func (h *Handler) createSession(conn domain.Connection, data json.RawMessage) {
	var req domain.SessionRequest
	if !h.decode(conn, data, &req) {
		return
	}
	if req.SessionID == "" {
		h.reply(conn, domain.EventSessionError, domain.SessionError{Message: "Session ID is required"})
		return
	}
	if req.UserName == "" {
		req.UserName = defaultUserName
	}

	if err := h.hub.Create(conn, req.SessionID, req.UserName); err != nil {
		h.replyError(conn, err)
		return
	}

	h.reply(conn, domain.EventSessionCreated, domain.SessionAck{
		SessionID: req.SessionID,
		UserID:    conn.ID(),
		UserName:  req.UserName,
	})
	h.reply(conn, domain.EventUsersList, domain.UsersList{Users: h.hub.Members(req.SessionID)})
}

func (h *Handler) joinSession(conn domain.Connection, data json.RawMessage) {
	var req domain.SessionRequest
	if !h.decode(conn, data, &req) {
		return
	}
	if req.SessionID == "" {
		h.reply(conn, domain.EventSessionError, domain.SessionError{Message: "Session ID is required"})
		return
	}
	if req.UserName == "" {
		req.UserName = defaultUserName
	}

	if err := h.hub.Join(conn, req.SessionID, req.UserName); err != nil {
		h.replyError(conn, err)
		return
	}

	h.reply(conn, domain.EventSessionJoined, domain.SessionAck{
		SessionID: req.SessionID,
		UserID:    conn.ID(),
		UserName:  req.UserName,
	})
	h.reply(conn, domain.EventUsersList, domain.UsersList{Users: h.hub.Members(req.SessionID)})
}

func (h *Handler) whiteboardState(conn domain.Connection, data json.RawMessage) {
	var ref domain.SessionRef
	if !h.decode(conn, data, &ref) {
		return
	}
	state, ok := h.hub.State(ref.SessionID)
	if !ok {
		slog.Debug("state request for unknown session", "userId", conn.ID(), "session", ref.SessionID)
		return
	}
	h.reply(conn, domain.EventWhiteboardState, state)
}

func (h *Handler) decode(conn domain.Connection, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("invalid payload", "userId", conn.ID(), "error", err)
		return false
	}
	return true
}

func (h *Handler) reply(conn domain.Connection, event string, payload any) {
	data, err := domain.Encode(event, payload)
	if err != nil {
		slog.Warn("marshal error", "userId", conn.ID(), "event", event, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send error", "userId", conn.ID(), "event", event, "error", err)
	}
}

func (h *Handler) replyError(conn domain.Connection, err error) {
	msg := "Internal error"
	switch {
	case errors.Is(err, hub.ErrSessionExists):
		msg = "Session already exists"
	case errors.Is(err, hub.ErrSessionNotFound):
		msg = "Session not found"
	}
	h.reply(conn, domain.EventSessionError, domain.SessionError{Message: msg})
}
