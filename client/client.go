package client

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"sketchsync/domain"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyInSession = errors.New("already in a session")
	ErrSessionIDMissing = errors.New("session id is required")
	ErrUserNameMissing  = errors.New("user name is required")
)

// Client drives the session state machine over a Transport. A single
// goroutine consumes both UI commands and inbound frames, so state and canvas
// are only ever touched from one logical thread. Callbacks run on that loop
// and must not call back into blocking Client methods.
type Client struct {
	canvas   Canvas
	commands chan func()
	done     chan struct{}

	transport Transport
	closed    bool
	state     State
	brush     Brush
	stroke    StrokeBuilder

	// OnError surfaces hub rejections (session_error) and nothing else;
	// local validation failures are returned from the calling method.
	OnError func(message string)
	// OnMembers fires whenever the member cache changes, with a snapshot.
	OnMembers func(members []domain.Member)
	// OnSession fires on phase or session changes, with a state snapshot.
	OnSession func(state State)
}

// New creates a disconnected client drawing onto canvas and starts its event
// loop. Call Close when done with it.
func New(canvas Canvas) *Client {
	c := &Client{
		canvas:   canvas,
		commands: make(chan func(), 256),
		done:     make(chan struct{}),
		state:    State{Phase: Disconnected},
		brush:    Brush{Color: "#000000", Size: 4},
	}
	go c.run()
	return c
}

func (c *Client) run() {
	for {
		select {
		case fn := <-c.commands:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Client) post(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.done:
	}
}

func (c *Client) call(fn func()) {
	ran := make(chan struct{})
	c.post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-c.done:
	}
}

// Connect attaches a live transport and moves the client to Idle. Frames are
// consumed until the transport's receive channel closes, which resets the
// client to Disconnected with its member cache cleared.
func (c *Client) Connect(t Transport) {
	c.call(func() {
		c.transport = t
		c.setState(State{Phase: Idle})
	})
	go func() {
		for data := range t.Recv() {
			frame := data
			c.post(func() { c.handleFrame(t, frame) })
		}
		c.post(func() { c.handleDisconnect(t) })
	}()
}

// Close stops the event loop and closes the transport if one is attached.
func (c *Client) Close() {
	c.post(func() {
		if c.closed {
			return
		}
		c.closed = true
		if c.transport != nil {
			c.transport.Close()
			c.transport = nil
		}
		close(c.done)
	})
}

// CreateSession asks the hub to create a session. With an empty desiredID a
// fresh token is generated locally; collisions come back as session_error,
// never retried automatically. Returns the requested session id.
func (c *Client) CreateSession(desiredID, userName string) (string, error) {
	if strings.TrimSpace(userName) == "" {
		return "", ErrUserNameMissing
	}
	sessionID := desiredID
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	var err error
	c.call(func() {
		if err = c.requireIdle(); err != nil {
			return
		}
		c.send(domain.EventCreateSession, domain.SessionRequest{SessionID: sessionID, UserName: userName})
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// JoinSession asks the hub to add this client to an existing session.
func (c *Client) JoinSession(sessionID, userName string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionIDMissing
	}
	if strings.TrimSpace(userName) == "" {
		return ErrUserNameMissing
	}

	var err error
	c.call(func() {
		if err = c.requireIdle(); err != nil {
			return
		}
		c.send(domain.EventJoinSession, domain.SessionRequest{SessionID: sessionID, UserName: userName})
	})
	return err
}

// LeaveSession leaves the current session. Idempotent: when not in a session
// nothing is sent and nothing changes.
func (c *Client) LeaveSession() {
	c.call(func() {
		if c.state.Phase != InSession {
			return
		}
		c.send(domain.EventLeaveSession, domain.SessionRef{SessionID: c.state.SessionID})
		c.stroke.End()
		c.setState(State{Phase: Idle})
	})
}

// PointerDown starts a stroke at the given canvas point. Ignored outside a
// session and while the canvas is still syncing.
func (c *Client) PointerDown(x, y float64) {
	c.post(func() {
		if !c.canDraw() {
			return
		}
		c.stroke.Begin(x, y)
	})
}

// PointerMove extends the active stroke by one sample. The resulting segment
// is drawn locally right away and sent to the hub for fan-out to the other
// members; the hub never echoes it back.
func (c *Client) PointerMove(x, y float64) {
	c.post(func() {
		if !c.canDraw() {
			return
		}
		seg, ok := c.stroke.Move(x, y)
		if !ok {
			return
		}
		c.canvas.DrawSegment(seg.X0, seg.Y0, seg.X1, seg.Y1, c.brush.Color, c.brush.Size)
		c.send(domain.EventDrawing, domain.DrawEvent{
			SessionID: c.state.SessionID,
			X0:        seg.X0,
			Y0:        seg.Y0,
			X1:        seg.X1,
			Y1:        seg.Y1,
			Color:     c.brush.Color,
			Size:      c.brush.Size,
		})
	})
}

// PointerUp ends the active stroke.
func (c *Client) PointerUp() {
	c.post(func() {
		c.stroke.End()
	})
}

// Clear resets the local canvas immediately and asks the hub to clear the
// session for everyone else. Ignored outside a session and while syncing,
// since the pending replay would resurrect the cleared strokes locally.
func (c *Client) Clear() {
	c.post(func() {
		if !c.canDraw() {
			return
		}
		c.canvas.Clear()
		c.send(domain.EventClear, domain.SessionRef{SessionID: c.state.SessionID})
	})
}

func (c *Client) SetColor(color string) {
	c.post(func() {
		c.brush.Color = color
	})
}

// SetBrushSize sets the stroke width, clamped to the UI range.
func (c *Client) SetBrushSize(size int) {
	if size < minBrushSize {
		size = minBrushSize
	}
	if size > maxBrushSize {
		size = maxBrushSize
	}
	c.post(func() {
		c.brush.Size = size
	})
}

// Brush returns the current stroke styling.
func (c *Client) Brush() Brush {
	var b Brush
	c.call(func() { b = c.brush })
	return b
}

// State returns a snapshot of the session state.
func (c *Client) State() State {
	var s State
	c.call(func() { s = c.stateSnapshot() })
	return s
}

// Members returns a snapshot of the cached member list.
func (c *Client) Members() []domain.Member {
	var members []domain.Member
	c.call(func() { members = c.membersSnapshot() })
	return members
}

// canDraw reports whether drawing input may be accepted: in a session, with
// the whiteboard_state replay already applied.
func (c *Client) canDraw() bool {
	return c.state.Phase == InSession && !c.state.Syncing
}

func (c *Client) requireIdle() error {
	switch c.state.Phase {
	case Disconnected:
		return ErrNotConnected
	case InSession:
		return ErrAlreadyInSession
	}
	return nil
}

// handleFrame applies one inbound frame. Frames from a superseded transport
// are dropped; only the current connection may drive state transitions.
func (c *Client) handleFrame(t Transport, data []byte) {
	if c.transport != t {
		return
	}
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("invalid frame", "error", err)
		return
	}

	next, effects := transition(c.state, env)
	c.state = next
	c.apply(effects)
}

func (c *Client) handleDisconnect(t Transport) {
	if c.transport != t {
		return
	}
	c.transport = nil
	c.stroke.End()
	c.setState(State{Phase: Disconnected})
}

func (c *Client) apply(effects []effect) {
	for _, e := range effects {
		switch e.kind {
		case effectSend:
			c.send(e.event, e.payload)
		case effectDraw:
			c.canvas.DrawSegment(e.draw.X0, e.draw.Y0, e.draw.X1, e.draw.Y1, e.draw.Color, e.draw.Size)
		case effectClearCanvas:
			c.canvas.Clear()
		case effectError:
			if c.OnError != nil {
				c.OnError(e.message)
			}
		case effectMembersChanged:
			if c.OnMembers != nil {
				c.OnMembers(c.membersSnapshot())
			}
		case effectSessionChanged:
			if c.OnSession != nil {
				c.OnSession(c.stateSnapshot())
			}
		}
	}
}

// setState replaces the state wholesale and fires the projection callbacks.
func (c *Client) setState(next State) {
	membersChanged := len(c.state.Members) != 0 || len(next.Members) != 0
	c.state = next
	if c.OnSession != nil {
		c.OnSession(c.stateSnapshot())
	}
	if membersChanged && c.OnMembers != nil {
		c.OnMembers(c.membersSnapshot())
	}
}

func (c *Client) send(event string, payload any) {
	if c.transport == nil {
		return
	}
	data, err := domain.Encode(event, payload)
	if err != nil {
		slog.Warn("marshal error", "event", event, "error", err)
		return
	}
	if err := c.transport.Send(data); err != nil {
		slog.Warn("send error", "event", event, "error", err)
	}
}

// stateSnapshot copies the state so callers and callbacks never share the
// live member cache.
func (c *Client) stateSnapshot() State {
	s := c.state
	s.Members = cloneMembers(c.state.Members)
	return s
}

func (c *Client) membersSnapshot() []domain.Member {
	members := make([]domain.Member, 0, len(c.state.Members))
	for id, name := range c.state.Members {
		members = append(members, domain.Member{UserID: id, UserName: name})
	}
	return members
}

// NewSessionID produces a short, human-typable session token. Uniqueness is
// only best-effort; the hub rejects collisions on create.
func NewSessionID() string {
	return strings.ToUpper(shortuuid.New()[:8])
}
