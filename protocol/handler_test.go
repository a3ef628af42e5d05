package protocol

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchsync/domain"
	"sketchsync/hub"
)

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) events(t *testing.T) []domain.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	envs := make([]domain.Envelope, 0, len(m.sent))
	for _, data := range m.sent {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		envs = append(envs, env)
	}
	return envs
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	data, err := domain.Encode(event, payload)
	require.NoError(t, err)
	return data
}

func lastError(t *testing.T, conn *mockConn) string {
	t.Helper()
	msg := ""
	for _, env := range conn.events(t) {
		if env.Event == domain.EventSessionError {
			var serr domain.SessionError
			require.NoError(t, json.Unmarshal(env.Data, &serr))
			msg = serr.Message
		}
	}
	return msg
}

func newHandler() (*Handler, *hub.Hub) {
	h := hub.New()
	return NewHandler(h), h
}

func TestHandler_CreateSession(t *testing.T) {
	handler, _ := newHandler()
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.EventCreateSession, domain.SessionRequest{SessionID: "ABC123", UserName: "Alice"}))

	envs := conn.events(t)
	require.Len(t, envs, 2)

	assert.Equal(t, domain.EventSessionCreated, envs[0].Event)
	var ack domain.SessionAck
	require.NoError(t, json.Unmarshal(envs[0].Data, &ack))
	assert.Equal(t, "ABC123", ack.SessionID)
	assert.Equal(t, "c1", ack.UserID)
	assert.Equal(t, "Alice", ack.UserName)

	assert.Equal(t, domain.EventUsersList, envs[1].Event)
	var list domain.UsersList
	require.NoError(t, json.Unmarshal(envs[1].Data, &list))
	assert.Equal(t, []domain.Member{{UserID: "c1", UserName: "Alice"}}, list.Users)
}

func TestHandler_SessionErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Handler)
		event   string
		payload domain.SessionRequest
		want    string
	}{
		{
			name: "create duplicate",
			setup: func(h *Handler) {
				h.Handle(&mockConn{id: "other"}, frame(t, domain.EventCreateSession, domain.SessionRequest{SessionID: "ABC123", UserName: "Alice"}))
			},
			event:   domain.EventCreateSession,
			payload: domain.SessionRequest{SessionID: "ABC123", UserName: "Bob"},
			want:    "Session already exists",
		},
		{
			name:    "join unknown session",
			setup:   func(h *Handler) {},
			event:   domain.EventJoinSession,
			payload: domain.SessionRequest{SessionID: "NOPE", UserName: "Bob"},
			want:    "Session not found",
		},
		{
			name:    "create without id",
			setup:   func(h *Handler) {},
			event:   domain.EventCreateSession,
			payload: domain.SessionRequest{UserName: "Bob"},
			want:    "Session ID is required",
		},
		{
			name:    "join without id",
			setup:   func(h *Handler) {},
			event:   domain.EventJoinSession,
			payload: domain.SessionRequest{UserName: "Bob"},
			want:    "Session ID is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, sessions := newHandler()
			tt.setup(handler)
			before, _ := sessions.Stats()
			conn := &mockConn{id: "c1"}

			handler.Handle(conn, frame(t, tt.event, tt.payload))

			assert.Equal(t, tt.want, lastError(t, conn))
			after, _ := sessions.Stats()
			assert.Equal(t, before, after, "failed request must not change hub state")
		})
	}
}

func TestHandler_AnonymousDefault(t *testing.T) {
	handler, _ := newHandler()
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.EventCreateSession, domain.SessionRequest{SessionID: "S1"}))

	var ack domain.SessionAck
	require.NoError(t, json.Unmarshal(conn.events(t)[0].Data, &ack))
	assert.Equal(t, "Anonymous", ack.UserName)
}

func TestHandler_InvalidJSON(t *testing.T) {
	handler, _ := newHandler()
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, []byte("not json"))

	assert.Empty(t, conn.events(t))
}

func TestHandler_UnknownEvent(t *testing.T) {
	handler, _ := newHandler()
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, "teleport", domain.SessionRef{SessionID: "S1"}))

	assert.Empty(t, conn.events(t))
}

func TestHandler_WhiteboardStateUnknownSession(t *testing.T) {
	handler, _ := newHandler()
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.EventGetWhiteboardState, domain.SessionRef{SessionID: "NOPE"}))

	assert.Empty(t, conn.events(t))
}

// Walks the whole exchange: Alice creates, Bob joins, Alice draws, Bob
// clears, and a state sync after the clear starts blank.
func TestHandler_SessionRoundTrip(t *testing.T) {
	handler, _ := newHandler()
	alice := &mockConn{id: "a"}
	bob := &mockConn{id: "b"}

	handler.Handle(alice, frame(t, domain.EventCreateSession, domain.SessionRequest{SessionID: "ABC123", UserName: "Alice"}))
	handler.Handle(bob, frame(t, domain.EventJoinSession, domain.SessionRequest{SessionID: "ABC123", UserName: "Bob"}))

	// Alice learns of Bob through the membership delta.
	var joined *domain.Member
	for _, env := range alice.events(t) {
		if env.Event == domain.EventUserJoined {
			joined = &domain.Member{}
			require.NoError(t, json.Unmarshal(env.Data, joined))
		}
	}
	require.NotNil(t, joined)
	assert.Equal(t, "Bob", joined.UserName)

	// Bob's snapshot contains both members.
	var list domain.UsersList
	for _, env := range bob.events(t) {
		if env.Event == domain.EventUsersList {
			require.NoError(t, json.Unmarshal(env.Data, &list))
		}
	}
	assert.ElementsMatch(t, []domain.Member{
		{UserID: "a", UserName: "Alice"},
		{UserID: "b", UserName: "Bob"},
	}, list.Users)

	alice.reset()
	bob.reset()

	// Alice draws: Bob receives it exactly once, Alice not at all.
	draw := domain.DrawEvent{SessionID: "ABC123", X0: 10, Y0: 10, X1: 20, Y1: 20, Color: "red", Size: 4}
	handler.Handle(alice, frame(t, domain.EventDrawing, draw))

	assert.Empty(t, alice.events(t))
	bobEvents := bob.events(t)
	require.Len(t, bobEvents, 1)
	require.Equal(t, domain.EventDrawing, bobEvents[0].Event)
	var got domain.DrawEvent
	require.NoError(t, json.Unmarshal(bobEvents[0].Data, &got))
	assert.Equal(t, draw, got)

	// Bob clears: Alice receives the clear, Bob does not, and a state sync
	// afterwards replays nothing.
	alice.reset()
	bob.reset()
	handler.Handle(bob, frame(t, domain.EventClear, domain.SessionRef{SessionID: "ABC123"}))

	aliceEvents := alice.events(t)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, domain.EventClear, aliceEvents[0].Event)
	assert.Empty(t, bob.events(t))

	bob.reset()
	handler.Handle(bob, frame(t, domain.EventGetWhiteboardState, domain.SessionRef{SessionID: "ABC123"}))

	bobEvents = bob.events(t)
	require.Len(t, bobEvents, 1)
	require.Equal(t, domain.EventWhiteboardState, bobEvents[0].Event)
	var state domain.WhiteboardState
	require.NoError(t, json.Unmarshal(bobEvents[0].Data, &state))
	assert.Equal(t, "ABC123", state.SessionID)
	assert.Empty(t, state.Events)
}

func TestHandler_LeaveSession(t *testing.T) {
	handler, sessions := newHandler()
	alice := &mockConn{id: "a"}
	bob := &mockConn{id: "b"}
	handler.Handle(alice, frame(t, domain.EventCreateSession, domain.SessionRequest{SessionID: "S1", UserName: "Alice"}))
	handler.Handle(bob, frame(t, domain.EventJoinSession, domain.SessionRequest{SessionID: "S1", UserName: "Bob"}))
	bob.reset()

	handler.Handle(alice, frame(t, domain.EventLeaveSession, domain.SessionRef{SessionID: "S1"}))

	bobEvents := bob.events(t)
	require.Len(t, bobEvents, 1)
	assert.Equal(t, domain.EventUserLeft, bobEvents[0].Event)

	_, members := sessions.Stats()
	assert.Equal(t, 1, members)
}
