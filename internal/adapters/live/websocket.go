package live

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024
)

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSSink sends events as JSON text frames and heartbeats as pings.
type WSSink struct {
	conn     *websocket.Conn
	pongWait time.Duration

	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

// NewWSSink wraps an upgraded connection and starts its read pump. heartbeat
// is the ping period; a peer silent for two periods is dropped.
func NewWSSink(conn *websocket.Conn, heartbeat time.Duration) *WSSink {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	s := &WSSink{conn: conn, pongWait: 2 * heartbeat, done: make(chan struct{})}
	go s.readPump()
	return s
}

// readPump discards client messages and notices disconnects.
func (s *WSSink) readPump() {
	defer s.markDone()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *WSSink) markDone() { s.once.Do(func() { close(s.done) }) }

func (s *WSSink) Send(kind string, data []byte) error {
	frame, err := json.Marshal(wsFrame{Event: kind, Data: data})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *WSSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *WSSink) Done() <-chan struct{} { return s.done }

func (s *WSSink) Transport() string { return "websocket" }

// Close sends a close frame and releases the connection.
func (s *WSSink) Close() error {
	s.mu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.mu.Unlock()
	s.markDone()
	return s.conn.Close()
}
