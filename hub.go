package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"i4.energy/across/atlink/modem"
)

// EventMessage is the JSON form of a modem event sent to subscribers.
type EventMessage struct {
	Kind    string              `json:"kind"`
	Time    time.Time           `json:"time"`
	Number  string              `json:"number,omitempty"`
	Storage string              `json:"storage,omitempty"`
	Index   int                 `json:"index,omitempty"`
	USSD    *modem.USSDResponse `json:"ussd,omitempty"`
	Raw     string              `json:"raw"`
}

func newEventMessage(ev modem.Event) EventMessage {
	return EventMessage{
		Kind:    ev.Kind.String(),
		Time:    ev.Time,
		Number:  ev.Number,
		Storage: ev.Storage,
		Index:   ev.Index,
		USSD:    ev.USSD,
		Raw:     ev.Raw,
	}
}

// Hub fans modem events out to subscribers.
type Hub struct {
	pool map[chan []byte]struct{}
	sync.RWMutex

	Logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{pool: make(map[chan []byte]struct{}), Logger: logger}
}

// Broadcast sends msg to all subscribers without blocking. A subscriber
// whose buffer is full misses the message.
func (h *Hub) Broadcast(msg []byte) {
	h.RLock()
	defer h.RUnlock()

	for ch := range h.pool {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe returns a channel receiving broadcast messages and a function
// that removes the subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan []byte, buffer)

	h.Lock()
	h.pool[ch] = struct{}{}
	h.Unlock()

	return ch, func() {
		h.Lock()
		defer h.Unlock()
		if _, ok := h.pool[ch]; ok {
			delete(h.pool, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.pool)
}

// Run broadcasts every event from events until it is closed or ctx is
// cancelled. On return all subscriptions are closed.
func (h *Hub) Run(ctx context.Context, events <-chan modem.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := json.Marshal(newEventMessage(ev))
			if err != nil {
				h.Logger.Error("Failed to encode event", "error", err, "kind", ev.Kind)
				continue
			}
			h.Logger.Debug("Broadcasting event", "kind", ev.Kind, "subscribers", h.Subscribers())
			h.Broadcast(msg)
		}
	}
}

func (h *Hub) closeAll() {
	h.Lock()
	defer h.Unlock()
	for ch := range h.pool {
		delete(h.pool, ch)
		close(ch)
	}
}
