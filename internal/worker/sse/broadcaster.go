// Package sse provides the Server-Sent Events feed behind the live dashboard.
package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	once    sync.Once
	writeMu sync.Mutex
}

// close marks the client done. Holding writeMu guarantees no write is in
// flight once the handler returns.
func (c *Client) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.once.Do(func() { close(c.Done) })
}

func (c *Client) send(message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.Done:
		return errClosed
	default:
	}
	if _, err := io.WriteString(c.Writer, message); err != nil {
		return err
	}
	c.Flusher.Flush()
	return nil
}

var errClosed = errors.New("client closed")

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient greets a new SSE client with a connected event and registers it.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	if err := client.send(fmt.Sprintf("event: connected\ndata: {\"clientId\":%q}\n\n", client.ID)); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient removes a client connection.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	client.close()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// Broadcast sends an event to all connected clients. Clients whose write
// fails are dropped.
func (b *Broadcaster) Broadcast(event string, data any) {
	payload, err := json.Marshal(map[string]any{"type": event, "data": data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal SSE data")
		return
	}
	message := fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		if err := client.send(message); errors.Is(err, errClosed) {
			continue
		} else if err != nil {
			log.Debug().Str("clientId", client.ID).Err(err).Msg("Failed to write to SSE client, removing")
			b.RemoveClient(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*Client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// HandleSSE handles an SSE connection request.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
