package domain

import "encoding/json"

// Client -> hub events.
const (
	EventCreateSession      = "create_session"
	EventJoinSession        = "join_session"
	EventLeaveSession       = "leave_session"
	EventGetWhiteboardState = "get_whiteboard_state"
	EventDrawing            = "drawing"
	EventClear              = "clear"
)

// Hub -> client events.
const (
	EventSessionCreated  = "session_created"
	EventSessionJoined   = "session_joined"
	EventSessionError    = "session_error"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventUsersList       = "users_list"
	EventWhiteboardState = "whiteboard_state"
)

// Envelope frames every wire message: a named event plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionRequest is the payload of create_session and join_session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
}

// SessionRef references a session with no other payload. Used by
// leave_session, get_whiteboard_state and clear.
type SessionRef struct {
	SessionID string `json:"session_id"`
}

// SessionAck is the payload of session_created and session_joined. UserID is
// the connection-scoped identity the hub assigned to the requester; the
// client has no other way to learn it.
type SessionAck struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

// SessionError is the payload of session_error.
type SessionError struct {
	Message string `json:"message"`
}

// Member is one participant's record within a session.
type Member struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// UsersList is a wholesale membership snapshot for one session.
type UsersList struct {
	Users []Member `json:"users"`
}

// UserLeft is the payload of user_left.
type UserLeft struct {
	UserID string `json:"user_id"`
}

// DrawEvent is a single stroke segment with its styling. Immutable once
// created; the hub appends it to the session history in receipt order.
type DrawEvent struct {
	SessionID string  `json:"session_id"`
	X0        float64 `json:"x0"`
	Y0        float64 `json:"y0"`
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
	Color     string  `json:"color"`
	Size      int     `json:"size"`
}

// WhiteboardState carries the draw events accumulated since the last clear,
// in order, so a joiner can replay them onto a blank canvas.
type WhiteboardState struct {
	SessionID string      `json:"session_id"`
	Events    []DrawEvent `json:"events"`
}

// Encode wraps a payload in an Envelope and marshals the whole frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Connection is one client's send side as seen by the server.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// SessionHub owns the authoritative session/member/history state and fans
// events out to members. Fan-out always excludes the acting connection;
// senders apply their own actions optimistically.
type SessionHub interface {
	Create(conn Connection, sessionID, userName string) error
	Join(conn Connection, sessionID, userName string) error
	Leave(conn Connection, sessionID string)
	LeaveAll(conn Connection)
	Drawing(conn Connection, ev DrawEvent)
	Clear(conn Connection, sessionID string)
	State(sessionID string) (WhiteboardState, bool)
	Members(sessionID string) []Member
	Stats() (sessions, members int)
}

// MessageHandler consumes one inbound frame from a connection.
type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
