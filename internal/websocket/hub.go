// Package websocket fans event bus traffic out to connected operator
// consoles.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"drive-relay/internal/event"
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	bus        event.Bus
	sizeReq    chan chan int
	done       chan struct{}
}

func NewHub(bus event.Bus) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		bus:        bus,
		sizeReq:    make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled. Slow clients whose send
// buffer is full are dropped instead of blocking the broadcast.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	defer close(h.done)
	defer func() {
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case reply := <-h.sizeReq:
			reply <- len(h.clients)
		case e, ok := <-events:
			if !ok {
				return
			}
			message, err := json.Marshal(e)
			if err != nil {
				slog.Error("failed to marshal event", "event_type", e.Type, "error", err)
				continue
			}
			for client := range h.clients {
				if !client.wants(e.Type) {
					continue
				}
				select {
				case client.send <- message:
				default:
					slog.Warn("dropping slow websocket client", "remote", client.remote)
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Clients reports how many consoles are connected. It blocks until Run
// answers or ctx ends.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.sizeReq <- reply:
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-ctx.Done():
		return 0
	}
}
