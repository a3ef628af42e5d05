package client

import (
	"encoding/json"

	"sketchsync/domain"
)

// Phase is the client's position in the session lifecycle. A client is in
// exactly one phase at a time.
type Phase int

const (
	Disconnected Phase = iota
	Idle
	InSession
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Idle:
		return "idle"
	case InSession:
		return "in_session"
	}
	return "unknown"
}

// State is the session state machine's data. Members is the local cache of
// the hub's last pushed membership: rebuilt wholesale on users_list, patched
// on user_joined/user_left, never mutated from anywhere else.
type State struct {
	Phase     Phase
	SessionID string
	UserID    string
	UserName  string
	Members   map[string]string
	// Syncing is set on session entry and cleared once the whiteboard_state
	// reply has been applied. Drawing input is dropped while it is set, so
	// local strokes never land on a canvas about to be replaced by the
	// replay.
	Syncing bool
}

type effectKind int

const (
	effectSend effectKind = iota
	effectDraw
	effectClearCanvas
	effectError
	effectMembersChanged
	effectSessionChanged
)

// effect is an action the event loop carries out after a transition. The
// reducer itself performs no I/O.
type effect struct {
	kind    effectKind
	event   string           // effectSend
	payload any              // effectSend
	draw    domain.DrawEvent // effectDraw
	message string           // effectError
}

// transition applies one inbound hub event to the state. Pure: the input
// state is never mutated and everything observable comes back as effects.
func transition(s State, env domain.Envelope) (State, []effect) {
	switch env.Event {
	case domain.EventSessionCreated, domain.EventSessionJoined:
		var ack domain.SessionAck
		if err := json.Unmarshal(env.Data, &ack); err != nil || s.Phase != Idle {
			return s, nil
		}
		next := s
		next.Phase = InSession
		next.SessionID = ack.SessionID
		next.UserID = ack.UserID
		next.UserName = ack.UserName
		next.Members = map[string]string{ack.UserID: ack.UserName}
		next.Syncing = true
		// Sync the canvas before any drawing input is accepted.
		return next, []effect{
			{kind: effectSessionChanged},
			{kind: effectSend, event: domain.EventGetWhiteboardState, payload: domain.SessionRef{SessionID: ack.SessionID}},
		}

	case domain.EventSessionError:
		var serr domain.SessionError
		if err := json.Unmarshal(env.Data, &serr); err != nil {
			return s, nil
		}
		return s, []effect{{kind: effectError, message: serr.Message}}

	case domain.EventUsersList:
		var list domain.UsersList
		if err := json.Unmarshal(env.Data, &list); err != nil || s.Phase != InSession {
			return s, nil
		}
		next := s
		next.Members = make(map[string]string, len(list.Users))
		for _, u := range list.Users {
			next.Members[u.UserID] = u.UserName
		}
		return next, []effect{{kind: effectMembersChanged}}

	case domain.EventUserJoined:
		var m domain.Member
		if err := json.Unmarshal(env.Data, &m); err != nil || s.Phase != InSession {
			return s, nil
		}
		next := s
		next.Members = cloneMembers(s.Members)
		next.Members[m.UserID] = m.UserName
		return next, []effect{{kind: effectMembersChanged}}

	case domain.EventUserLeft:
		var left domain.UserLeft
		if err := json.Unmarshal(env.Data, &left); err != nil || s.Phase != InSession {
			return s, nil
		}
		next := s
		next.Members = cloneMembers(s.Members)
		delete(next.Members, left.UserID)
		return next, []effect{{kind: effectMembersChanged}}

	case domain.EventDrawing:
		var ev domain.DrawEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return s, nil
		}
		if s.Phase != InSession || ev.SessionID != s.SessionID {
			return s, nil
		}
		return s, []effect{{kind: effectDraw, draw: ev}}

	case domain.EventClear:
		var ref domain.SessionRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			return s, nil
		}
		if s.Phase != InSession || ref.SessionID != s.SessionID {
			return s, nil
		}
		return s, []effect{{kind: effectClearCanvas}}

	case domain.EventWhiteboardState:
		var state domain.WhiteboardState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			return s, nil
		}
		if s.Phase != InSession || state.SessionID != s.SessionID {
			return s, nil
		}
		next := s
		next.Syncing = false
		effects := make([]effect, 0, len(state.Events)+1)
		effects = append(effects, effect{kind: effectClearCanvas})
		for _, ev := range state.Events {
			effects = append(effects, effect{kind: effectDraw, draw: ev})
		}
		return next, effects
	}

	return s, nil
}

func cloneMembers(members map[string]string) map[string]string {
	clone := make(map[string]string, len(members))
	for id, name := range members {
		clone[id] = name
	}
	return clone
}
