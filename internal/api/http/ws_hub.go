package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"magnetstream/internal/domain"
	"magnetstream/internal/metrics"
	"magnetstream/internal/registry"
)

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// clientCommand is what clients send: {"type": "add-torrent", "data": {...}}.
type clientCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type addTorrentCommand struct {
	Magnet string `json:"magnet"`
}

type infoEventPayload struct {
	InfoHash domain.InfoHash    `json:"infoHash"`
	Files    []domain.FileEntry `json:"files"`
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
	sub  *registry.Subscriber
}

type wsHub struct {
	registry   *registry.Registry
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	logger     *slog.Logger
}

func newWSHub(reg *registry.Registry, logger *slog.Logger) *wsHub {
	return &wsHub{
		registry:   reg,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				client.sub.Close()
				delete(h.clients, client)
			}
			metrics.WSConnections.Set(0)
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			metrics.WSConnections.Set(float64(len(h.clients)))
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.sub.Close()
				metrics.WSConnections.Set(float64(len(h.clients)))
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					client.sub.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

// Close signals the hub to stop and disconnect all clients.
func (h *wsHub) Close() {
	close(h.done)
}

// Broadcast sends a typed JSON message to all connected clients.
func (h *wsHub) Broadcast(msgType string, data interface{}) {
	msg := wsMessage{Type: msgType, Data: data}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// Broadcast channel full, skip this update.
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.sub.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleCommand(raw)
	}
}

func (c *wsClient) handleCommand(raw []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.enqueue(wsMessage{Type: string(registry.EventError), Data: "malformed message"})
		return
	}

	switch cmd.Type {
	case "add-torrent":
		var add addTorrentCommand
		if err := json.Unmarshal(cmd.Data, &add); err != nil {
			c.enqueue(wsMessage{Type: string(registry.EventError), Data: "malformed add-torrent payload"})
			return
		}
		magnet := strings.TrimSpace(add.Magnet)
		if !strings.HasPrefix(magnet, "magnet:") {
			c.enqueue(wsMessage{Type: string(registry.EventError), Data: "invalid magnet link"})
			return
		}
		// Resolution can take up to the metadata timeout; never block the
		// read loop on it. Failures come back through the subscriber.
		go func() {
			if _, err := c.hub.registry.Add(context.Background(), magnet, c.sub); err != nil {
				c.hub.logger.Warn("add torrent failed",
					slog.String("magnet", magnet), slog.Any("error", err))
			}
		}()
	default:
		c.enqueue(wsMessage{Type: string(registry.EventError), Data: "unknown message type"})
	}
}

// forwardEvents translates subscriber events into wire messages until the
// subscriber is closed.
func (c *wsClient) forwardEvents() {
	for {
		select {
		case <-c.sub.Done():
			return
		case ev := <-c.sub.Events():
			msg := wsMessage{Type: string(ev.Type)}
			switch ev.Type {
			case registry.EventInfo:
				msg.Data = infoEventPayload{InfoHash: ev.InfoHash, Files: ev.Files}
			case registry.EventProgress:
				msg.Data = ev.Snapshot
			case registry.EventDone:
				// done and error carry bare values on the wire, not objects.
				msg.Data = string(ev.InfoHash)
			case registry.EventError:
				msg.Data = ev.Message
			default:
				continue
			}
			c.enqueue(msg)
		}
	}
}

func (c *wsClient) enqueue(msg wsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case <-c.sub.Done():
	case c.send <- payload:
	default:
		// Slow consumer, drop rather than stall the event pipeline.
	}
}
