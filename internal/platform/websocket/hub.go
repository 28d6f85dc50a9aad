// Package websocket pushes workspace change notifications to connected
// clients. Every client belongs to one owner and only ever receives events
// from that owner's stores; within the owner it subscribes to domains.
package websocket

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/platform/metrics"
	"github.com/ehr/workspace/internal/store"
)

// AllDomains subscribes a client to every domain of its owner.
const AllDomains = "*"

// EventCollectionChanged is the only event type emitted today.
const EventCollectionChanged = "collection.changed"

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event is the JSON frame sent to clients.
type Event struct {
	Type      string    `json:"type"`
	Domain    string    `json:"domain"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound frame that changes a client's subscriptions.
type ClientMessage struct {
	Action  string   `json:"action"`
	Domains []string `json:"domains"`
}

// Client is one connected feed consumer.
type Client struct {
	ID      string
	Owner   string
	Domains []string
	Send    chan []byte
}

func topic(owner, domain string) string { return kv.Key(owner, domain) }

// Hub tracks clients by owner-scoped topic.
type Hub struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
}

func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		log:     logger.With().Str("component", "feed").Logger(),
		metrics: m,
		now:     time.Now,
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds a client and subscribes it to its initial domains.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; ok {
		return
	}
	h.all[c] = struct{}{}
	for _, d := range c.Domains {
		h.addLocked(c, d)
	}
	if h.metrics != nil {
		h.metrics.FeedClients.Inc()
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for _, d := range c.Domains {
		h.removeLocked(c, d)
	}
	delete(h.all, c)
	close(c.Send)
	if h.metrics != nil {
		h.metrics.FeedClients.Dec()
	}
}

// Subscribe adds domains to a registered client. Already subscribed domains
// are ignored.
func (h *Hub) Subscribe(c *Client, domains []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" || slices.Contains(c.Domains, d) {
			continue
		}
		h.addLocked(c, d)
		c.Domains = append(c.Domains, d)
	}
}

// Unsubscribe removes domains from a registered client.
func (h *Hub) Unsubscribe(c *Client, domains []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for _, d := range domains {
		h.removeLocked(c, strings.TrimSpace(d))
	}
	c.Domains = slices.DeleteFunc(c.Domains, func(d string) bool {
		return slices.ContainsFunc(domains, func(r string) bool { return strings.TrimSpace(r) == d })
	})
}

// ProcessMessage applies a subscribe or unsubscribe frame. Unknown actions
// are ignored.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Domains)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Domains)
	}
}

// Publish fans a store change out to the owner's subscribers. It never
// blocks: a client whose buffer is full misses the event.
func (h *Hub) Publish(change store.Change) {
	data, err := json.Marshal(Event{
		Type:      EventCollectionChanged,
		Domain:    change.Domain,
		Version:   change.Version,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal feed event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, t := range []string{topic(change.Owner, change.Domain), topic(change.Owner, AllDomains)} {
		for c := range h.clients[t] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.Send <- data:
			default:
				if h.metrics != nil {
					h.metrics.FeedDropped.Inc()
				}
				h.log.Debug().Str("client", c.ID).Str("domain", change.Domain).Msg("feed buffer full; event dropped")
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of the owner's clients subscribed to domain.
func (h *Hub) TopicCount(owner, domain string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic(owner, domain)])
}

func (h *Hub) addLocked(c *Client, domain string) {
	t := topic(c.Owner, domain)
	if h.clients[t] == nil {
		h.clients[t] = make(map[*Client]struct{})
	}
	h.clients[t][c] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, domain string) {
	t := topic(c.Owner, domain)
	if subs, ok := h.clients[t]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, t)
		}
	}
}

// Handler upgrades authenticated requests to a change feed connection.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds a Handler that accepts browser connections from the
// given origins. A "*" entry accepts any origin; requests without an Origin
// header are always accepted.
func NewHandler(hub *Hub, origins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
			},
		},
	}
}

// RegisterRoutes mounts GET /events on the workspace group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/events", h.Connect, auth.RequireRole(auth.ReadRoles...))
}

// Connect serves GET /events?domains=patients,appointments. Without a
// domains parameter the client follows every domain.
func (h *Handler) Connect(c echo.Context) error {
	owner := auth.UserIDFromContext(c.Request().Context())
	if owner == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no workspace owner")
	}
	domains := []string{AllDomains}
	if raw := c.QueryParam("domains"); raw != "" {
		domains = nil
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" && !slices.Contains(domains, d) {
				domains = append(domains, d)
			}
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		return nil
	}

	client := &Client{
		ID:      uuid.NewString(),
		Owner:   owner,
		Domains: domains,
		Send:    make(chan []byte, sendBuffer),
	}
	h.hub.Register(client)
	h.hub.log.Debug().Str("client", client.ID).Str("owner", owner).Strs("domains", domains).Msg("feed client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		_ = ws.Close()
	}()
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
