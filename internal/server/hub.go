package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stripled-controller/internal/core"
)

const (
	writeTimeout = 5 * time.Second
	// WebSocketTopic tags commands received from status feed clients.
	WebSocketTopic = "ws"
	maxFrameSize   = 1024
)

var hubEvents = []core.EventType{core.LightChangedEvent, core.CommandHandledEvent, core.ModeChangedEvent}

// Hub streams control loop events to websocket clients. New clients first receive the
// latest event of each type. Frames sent by clients are forwarded as commands.
type Hub struct {
	bus        *core.EventBus
	commands   chan<- core.Message
	sub        core.Subscriber
	clients    map[*websocket.Conn]bool
	last       map[core.EventType]core.Event
	mu         sync.Mutex
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}

	upgrader       websocket.Upgrader
	allowedOrigins []string
	httpServer     *http.Server
	log            logrus.FieldLogger
}

// NewHub creates a hub subscribed to bus. Events are forwarded once Run starts. commands
// may be nil, making the feed read-only.
func NewHub(bus *core.EventBus, commands chan<- core.Message, addr string, allowedOrigins []string, log logrus.FieldLogger) *Hub {
	h := &Hub{
		bus:            bus,
		commands:       commands,
		clients:        make(map[*websocket.Conn]bool),
		last:           make(map[core.EventType]core.Event),
		register:       make(chan *websocket.Conn),
		unregister:     make(chan *websocket.Conn),
		done:           make(chan struct{}),
		allowedOrigins: allowedOrigins,
		log:            log.WithField("component", "status"),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	h.sub = bus.Subscribe(hubEvents...)

	r := mux.NewRouter()
	r.HandleFunc("/ws", h.handleWebSocket)
	h.httpServer = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return h
}

// Handler exposes the websocket route.
func (h *Hub) Handler() http.Handler {
	return h.httpServer.Handler
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	h.log.WithField("origin", origin).Warn("websocket origin blocked")
	return false
}

// Run forwards bus events to clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.bus.Unsubscribe(h.sub, hubEvents...)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			for _, ev := range h.last {
				h.write(conn, ev)
			}
			h.mu.Unlock()
			h.log.Debug("client connected")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.log.Debug("client disconnected")
			}
			h.mu.Unlock()
		case ev := <-h.sub:
			h.mu.Lock()
			h.last[ev.Type] = ev
			for conn := range h.clients {
				h.write(conn, ev)
			}
			h.mu.Unlock()
		}
	}
}

// write must be called with h.mu held.
func (h *Hub) write(conn *websocket.Conn, ev core.Event) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		h.log.WithError(err).Debug("broadcast error")
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade error")
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

	conn.SetReadLimit(maxFrameSize)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			h.forward(data)
		}
	}
}

func (h *Hub) forward(data []byte) {
	if h.commands == nil {
		return
	}
	select {
	case h.commands <- core.Message{Topic: WebSocketTopic, Payload: data}:
	default:
		h.log.Warn("command queue full, dropping websocket command")
	}
}

func (h *Hub) ListenAndServe() error {
	h.log.WithField("addr", h.httpServer.Addr).Info("status feed listening")
	err := h.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (h *Hub) Shutdown(ctx context.Context) error {
	return h.httpServer.Shutdown(ctx)
}
