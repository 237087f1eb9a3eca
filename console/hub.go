package console

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nvr-ai/go-vision-relay/wire"
	"github.com/sirupsen/logrus"
)

const writeWait = time.Second

// Upgrader upgrades viewer connections; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON form of a datagram sent to viewers.
type Message struct {
	Frame     uint32          `json:"frame"`
	Timestamp uint64          `json:"timestamp_us"`
	Objects   []ObjectMessage `json:"objects"`
}

// ObjectMessage is one object of a Message.
type ObjectMessage struct {
	Type        string  `json:"type"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Width       float32 `json:"width"`
	Height      float32 `json:"height"`
	Probability float32 `json:"probability"`
}

// NewMessage converts a datagram.
func NewMessage(d wire.Datagram) Message {
	m := Message{Frame: d.Frame, Timestamp: d.Timestamp, Objects: []ObjectMessage{}}
	for _, o := range d.Objects.Objects() {
		m.Objects = append(m.Objects, ObjectMessage{
			Type: o.Type.String(), X: o.X, Y: o.Y,
			Width: o.Width, Height: o.Height, Probability: o.Probability,
		})
	}
	return m
}

// Hub fans datagrams out to connected websocket viewers.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	log        *logrus.Entry
}

// NewHub creates a hub. Run must be started before viewers connect.
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every viewer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.WithField("viewers", n).Info("viewer connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.WithField("viewers", n).Info("viewer disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.WithError(err).Warn("dropping viewer")
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Broadcast queues d for every viewer. When viewers fall behind the message
// is dropped.
func (h *Hub) Broadcast(d wire.Datagram) {
	payload, err := json.Marshal(NewMessage(d))
	if err != nil {
		h.log.WithError(err).Error("encode message")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.WithField("frame", d.Frame).Debug("viewers behind, message dropped")
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades a viewer connection and keeps it registered until it
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade")
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Debug("viewer read")
			}
			return
		}
	}
}
