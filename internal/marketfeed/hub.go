// Package marketfeed broadcasts tick-level rotation and telemetry events to
// connected operator clients over a websocket, adapted from the teacher's
// internal/websocket (price_feed.go/wallet_monitor.go: handler-registration
// pattern, mutex-guarded subscriber maps) but inverted from an inbound
// Solana RPC subscription client into an outbound local event broadcaster.
package marketfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/rotation"
)

// EventType discriminates the payloads a client receives.
type EventType string

const (
	EventRotation  EventType = "rotation"
	EventTick      EventType = "tick"
	EventPriceTick EventType = "price"
)

// Event is the envelope written to every connected client.
type Event struct {
	Type EventType   `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data"`
}

// RotationPayload mirrors a rotation.Decision for wire transport.
type RotationPayload struct {
	Action          rotation.Action `json:"action"`
	Mint            chain.Mint      `json:"mint"`
	ReplacementMint chain.Mint      `json:"replacement_mint,omitempty"`
	ReasonCode      string          `json:"reason_code"`
	RankDelta       float64         `json:"rank_delta"`
}

// TickPayload is a compact per-tick health summary.
type TickPayload struct {
	DurationMs       int64 `json:"duration_ms"`
	PositionsCount   int   `json:"positions_count"`
	CandidatesCount  int   `json:"candidates_count"`
	DeadlineExceeded bool  `json:"deadline_exceeded"`
}

// PricePayload is a single mint's last observed price.
type PricePayload struct {
	Mint  chain.Mint `json:"mint"`
	Price float64    `json:"price"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out Event values to every connected subscriber. The zero value
// is not ready to use; construct with NewHub.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// NewHub builds an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]struct{})}
}

// ServeHTTP upgrades the connection and registers it as a subscriber until
// the client disconnects. Wire it into the signal server's mux, e.g.
// mux.Get("/ws/feed", adaptor.HTTPHandlerFunc(hub.ServeHTTP)).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("marketfeed upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 32)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	h.readPump(sub)
}

func (h *Hub) readPump(sub *subscriber) {
	defer h.unregister(sub)
	sub.conn.SetReadLimit(4096)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	sub.conn.Close()
}

// broadcast marshals an Event and fans it out to every subscriber,
// dropping slow readers rather than blocking the tick loop.
func (h *Hub) broadcast(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("marketfeed marshal failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- body:
		default:
			log.Warn().Msg("marketfeed subscriber slow, dropping event")
		}
	}
}

// PublishRotation broadcasts a rotation decision to all connected clients.
func (h *Hub) PublishRotation(d rotation.Decision, at time.Time) {
	h.broadcast(Event{Type: EventRotation, At: at, Data: RotationPayload{
		Action: d.Action, Mint: d.Mint, ReplacementMint: d.ReplacementMint,
		ReasonCode: d.ReasonCode, RankDelta: d.RankDelta,
	}})
}

// PublishTick broadcasts a tick health summary.
func (h *Hub) PublishTick(durationMs int64, positions, candidates int, deadlineExceeded bool, at time.Time) {
	h.broadcast(Event{Type: EventTick, At: at, Data: TickPayload{
		DurationMs: durationMs, PositionsCount: positions,
		CandidatesCount: candidates, DeadlineExceeded: deadlineExceeded,
	}})
}

// PublishPrice broadcasts a single mint's latest observed price.
func (h *Hub) PublishPrice(mint chain.Mint, price float64, at time.Time) {
	h.broadcast(Event{Type: EventPriceTick, At: at, Data: PricePayload{Mint: mint, Price: price}})
}

// SubscriberCount returns the number of currently connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
