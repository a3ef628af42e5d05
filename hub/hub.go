package hub

import (
	"errors"
	"log/slog"
	"sync"

	"sketchsync/domain"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

type member struct {
	conn domain.Connection
	name string
}

type session struct {
	members map[string]member
	history []domain.DrawEvent
	defunct bool
	mu      sync.RWMutex
}

// Hub owns every session: its members and its draw history since the last
// clear. All mutation of a session happens under that session's lock;
// cross-session operations never block each other.
type Hub struct {
	sessions map[string]*session
	mu       sync.RWMutex
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
	}
}

// Create registers a new session with conn as its first member. Fails if the
// id is already taken; two concurrent creates for the same id cannot both
// succeed.
func (h *Hub) Create(conn domain.Connection, sessionID, userName string) error {
	h.mu.Lock()
	if _, exists := h.sessions[sessionID]; exists {
		h.mu.Unlock()
		return ErrSessionExists
	}
	s := &session{
		members: map[string]member{conn.ID(): {conn: conn, name: userName}},
	}
	h.sessions[sessionID] = s
	h.mu.Unlock()

	slog.Info("session created", "session", sessionID, "userId", conn.ID(), "userName", userName)
	return nil
}

// Join adds conn to an existing session and notifies the other members with
// a user_joined event.
func (h *Hub) Join(conn domain.Connection, sessionID, userName string) error {
	s, ok := h.find(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	if s.defunct {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.members[conn.ID()] = member{conn: conn, name: userName}
	others := s.othersLocked(conn.ID())
	count := len(s.members)
	s.mu.Unlock()

	slog.Info("user joined", "session", sessionID, "userId", conn.ID(), "userName", userName, "members", count)

	h.fanout(others, domain.EventUserJoined, domain.Member{UserID: conn.ID(), UserName: userName})
	return nil
}

// Leave removes conn from the session and notifies the remaining members
// with a user_left event. Not being a member is a silent no-op. The session
// is destroyed, history included, when its last member leaves.
func (h *Hub) Leave(conn domain.Connection, sessionID string) {
	s, ok := h.find(sessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, isMember := s.members[conn.ID()]; !isMember {
		s.mu.Unlock()
		return
	}
	delete(s.members, conn.ID())
	count := len(s.members)
	if count == 0 {
		s.defunct = true
	}
	remaining := s.othersLocked(conn.ID())
	s.mu.Unlock()

	slog.Info("user left", "session", sessionID, "userId", conn.ID(), "members", count)

	if count == 0 {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
		slog.Info("session removed", "session", sessionID)
		return
	}

	h.fanout(remaining, domain.EventUserLeft, domain.UserLeft{UserID: conn.ID()})
}

// LeaveAll removes conn from every session it belongs to. Called when a
// connection drops without an explicit leave.
func (h *Hub) LeaveAll(conn domain.Connection) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Leave(conn, id)
	}
}

// Drawing appends the event to the session history and fans it out to every
// member except the sender, who already applied it locally. Events from
// non-members are dropped.
func (h *Hub) Drawing(conn domain.Connection, ev domain.DrawEvent) {
	s, ok := h.find(ev.SessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, isMember := s.members[conn.ID()]; !isMember {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history, ev)
	others := s.othersLocked(conn.ID())
	s.mu.Unlock()

	h.fanout(others, domain.EventDrawing, ev)
}

// Clear truncates the session history and fans the clear out to every member
// except the sender. Joiners after a clear start from a blank canvas.
func (h *Hub) Clear(conn domain.Connection, sessionID string) {
	s, ok := h.find(sessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, isMember := s.members[conn.ID()]; !isMember {
		s.mu.Unlock()
		return
	}
	s.history = nil
	others := s.othersLocked(conn.ID())
	s.mu.Unlock()

	slog.Debug("session cleared", "session", sessionID, "userId", conn.ID())

	h.fanout(others, domain.EventClear, domain.SessionRef{SessionID: sessionID})
}

// State returns a snapshot of the draw events since the last clear.
func (h *Hub) State(sessionID string) (domain.WhiteboardState, bool) {
	s, ok := h.find(sessionID)
	if !ok {
		return domain.WhiteboardState{}, false
	}

	s.mu.RLock()
	events := make([]domain.DrawEvent, len(s.history))
	copy(events, s.history)
	s.mu.RUnlock()

	return domain.WhiteboardState{SessionID: sessionID, Events: events}, true
}

// Members returns the current membership of the session.
func (h *Hub) Members(sessionID string) []domain.Member {
	s, ok := h.find(sessionID)
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.Member, 0, len(s.members))
	for id, m := range s.members {
		users = append(users, domain.Member{UserID: id, UserName: m.name})
	}
	return users
}

func (h *Hub) Stats() (sessions, members int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions = len(h.sessions)
	for _, s := range h.sessions {
		s.mu.RLock()
		members += len(s.members)
		s.mu.RUnlock()
	}
	return sessions, members
}

func (h *Hub) find(sessionID string) (*session, bool) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	return s, ok
}

func (h *Hub) fanout(conns []domain.Connection, event string, payload any) {
	data, err := domain.Encode(event, payload)
	if err != nil {
		slog.Warn("marshal error", "event", event, "error", err)
		return
	}
	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			go func(c domain.Connection) {
				h.LeaveAll(c)
			}(conn)
		}
	}
}

// othersLocked snapshots every member connection except the given one.
// Callers must hold s.mu.
func (s *session) othersLocked(exclude string) []domain.Connection {
	conns := make([]domain.Connection, 0, len(s.members))
	for id, m := range s.members {
		if id == exclude {
			continue
		}
		conns = append(conns, m.conn)
	}
	return conns
}
