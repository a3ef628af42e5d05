package client

// Canvas is the local drawing surface boundary. Implementations own the
// pixels; the client only ever asks for a segment or a full reset, and all
// calls arrive from the client's single event loop.
type Canvas interface {
	DrawSegment(x0, y0, x1, y1 float64, color string, size int)
	Clear()
}

const (
	minBrushSize = 1
	maxBrushSize = 20
)

// Brush holds the stroke styling stamped onto emitted segments.
type Brush struct {
	Color string
	Size  int
}

// Segment is one line piece of an in-progress stroke, in canvas coordinates.
type Segment struct {
	X0, Y0, X1, Y1 float64
}

// StrokeBuilder turns a stream of pointer samples into line segments.
// A stroke is active between Begin and End; Move yields the segment from the
// previous sample to the new one.
type StrokeBuilder struct {
	active       bool
	lastX, lastY float64
}

func (b *StrokeBuilder) Begin(x, y float64) {
	b.active = true
	b.lastX, b.lastY = x, y
}

func (b *StrokeBuilder) Move(x, y float64) (Segment, bool) {
	if !b.active {
		return Segment{}, false
	}
	seg := Segment{X0: b.lastX, Y0: b.lastY, X1: x, Y1: y}
	b.lastX, b.lastY = x, y
	return seg, true
}

func (b *StrokeBuilder) End() {
	b.active = false
}

func (b *StrokeBuilder) Active() bool {
	return b.active
}
