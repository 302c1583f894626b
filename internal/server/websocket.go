package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/livemetrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// upgrader keeps gorilla's same-origin check.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Message types pushed to the browser.
const (
	msgCard     = "card"
	msgResponse = "response"
	msgReload   = "reload"
)

// serverMessage is a frame sent to the browser.
type serverMessage struct {
	Type     string                `json:"type"`
	BlockID  string                `json:"blockID,omitempty"`
	HTML     string                `json:"html,omitempty"`
	Snapshot *livemetrics.Snapshot `json:"snapshot,omitempty"`
	Meta     map[string]any        `json:"meta,omitempty"`
	Page     string                `json:"page,omitempty"`
}

// client is one open socket. Every write goes through the write pump so
// the connection has a single writer. Card updates are coalesced per block:
// a slow client skips intermediate states but always gets the latest one.
type client struct {
	conn   *websocket.Conn
	slug   string
	send   chan []byte
	cancel context.CancelFunc
	logger *zap.Logger

	mu      sync.Mutex
	cards   map[string][]byte
	order   []string
	cardsCh chan struct{}
}

func newClient(conn *websocket.Conn, slug string, cancel context.CancelFunc, logger *zap.Logger) *client {
	return &client{
		conn:    conn,
		slug:    slug,
		send:    make(chan []byte, sendBuffer),
		cancel:  cancel,
		logger:  logger,
		cards:   make(map[string][]byte),
		cardsCh: make(chan struct{}, 1),
	}
}

func (c *client) enqueue(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	if msg.Type == msgCard && msg.BlockID != "" {
		c.mu.Lock()
		if _, ok := c.cards[msg.BlockID]; !ok {
			c.order = append(c.order, msg.BlockID)
		}
		c.cards[msg.BlockID] = data
		c.mu.Unlock()
		select {
		case c.cardsCh <- struct{}{}:
		default:
		}
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("dropping message for slow client", zap.String("type", msg.Type), zap.String("block", msg.BlockID))
	}
}

// takeCards returns the pending card frames in first-update order.
func (c *client) takeCards() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.cards[id])
	}
	c.order = c.order[:0]
	clear(c.cards)
	return out
}

func (c *client) write(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.cancel()
		return err
	}
	return nil
}

func (c *client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return err
			}
		case <-c.cardsCh:
			for _, data := range c.takeCards() {
				if err := c.write(data); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.cancel()
				return err
			}
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil
		}
	}
}

// hub tracks open sockets for reload broadcasts.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast sends msg to clients viewing slug, or to every client when
// slug is empty.
func (h *hub) broadcast(slug string, msg serverMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if slug == "" || c.slug == slug {
			c.enqueue(msg)
			n++
		}
	}
	return n
}

// closeAll ends every session.
func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.cancel()
	}
}

// serveWebSocket runs one viewer's live session: cards push rendered HTML
// as they change, and dropdown selections arrive as MessageEnvelopes.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	page, status, err := s.buildPage(r, slug)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	session := s.newSession(page)
	if err := applySelections(session, r.URL.Query()); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newClient(conn, slug, cancel, s.logger.With(zap.String("page", slug), zap.String("session", session.ID)))
	s.hub.add(c)
	defer s.hub.remove(c)
	c.logger.Debug("session opened", zap.Int("connections", s.hub.len()))

	configs := make(map[string]livemetrics.CardConfig)
	for _, card := range session.Cards() {
		configs[card.ID()] = card.Config()
	}
	session.OnUpdate(func(snap livemetrics.Snapshot) {
		var buf bytes.Buffer
		if err := s.renderer.Card(&buf, snap, configs[snap.BlockID]); err != nil {
			c.logger.Warn("failed to render card", zap.String("block", snap.BlockID), zap.Error(err))
			return
		}
		c.enqueue(serverMessage{Type: msgCard, BlockID: snap.BlockID, HTML: buf.String(), Snapshot: &snap})
	})

	var g errgroup.Group
	g.Go(func() error { return c.writePump(ctx) })
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks the read loop.
		return conn.SetReadDeadline(time.Now())
	})

	s.readLoop(c, blockdown.NewMessageRouter(session))
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("session ended", zap.Error(err))
	}
	c.logger.Debug("session closed")
}

// readLoop routes client actions until the socket closes.
func (s *Server) readLoop(c *client, router *blockdown.MessageRouter) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		c.enqueue(handleMessage(router, data))
	}
}

// handleMessage decodes and routes one envelope.
func handleMessage(router *blockdown.MessageRouter, data []byte) serverMessage {
	var env blockdown.MessageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return serverMessage{
			Type: msgResponse,
			Meta: map[string]any{"success": false, "error": "invalid message: " + err.Error()},
		}
	}
	resp, err := router.Route(&env)
	if err != nil {
		return serverMessage{
			Type:    msgResponse,
			BlockID: env.BlockID,
			Meta:    map[string]any{"success": false, "error": err.Error()},
		}
	}
	return serverMessage{Type: msgResponse, BlockID: resp.BlockID, Meta: resp.Meta}
}

// BroadcastReload asks every browser viewing slug to reload. An empty slug
// reaches every browser.
func (s *Server) BroadcastReload(slug string) {
	n := s.hub.broadcast(slug, serverMessage{Type: msgReload, Page: slug})
	if n > 0 {
		s.logger.Info("broadcast reload", zap.String("page", slug), zap.Int("connections", n))
	}
}
