package client

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is the bidirectional ordered channel to the hub. Implementations
// deliver inbound frames on Recv and close that channel when the connection
// drops; the client treats the close as an implicit leave of all sessions.
type Transport interface {
	Send(data []byte) error
	Recv() <-chan []byte
	Close() error
}

// WSTransport carries frames over a gorilla websocket connection.
type WSTransport struct {
	conn *websocket.Conn
	recv chan []byte
	wmu  sync.Mutex
}

// Dial connects to the hub's websocket endpoint.
func Dial(url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	t := &WSTransport{
		conn: conn,
		recv: make(chan []byte, 256),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) readLoop() {
	defer close(t.recv)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		t.recv <- data
	}
}

func (t *WSTransport) Send(data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Recv() <-chan []byte {
	return t.recv
}

func (t *WSTransport) Close() error {
	return t.conn.Close()
}
