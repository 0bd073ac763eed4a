package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfieapp/shelfie/internal/id"
)

// Emitter is implemented by anything that accepts events.
type Emitter interface {
	Emit(event any)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

// Emit implements Emitter as a no-op.
func (NoopEmitter) Emit(any) {}

// Client is a connected listener.
type Client struct {
	ConnectedAt time.Time
	Events      chan Event
	Done        chan struct{}
	ID          string
	// UserID filters delivery; empty receives everything.
	UserID string
}

// Bus queues events and broadcasts them to connected clients.
type Bus struct {
	clients map[string]*Client
	events  chan Event
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex

	shutdownMu sync.RWMutex
	shutdown   bool
}

// NewBus creates a bus. Call Start to begin delivery.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		clients: make(map[string]*Client),
		events:  make(chan Event, 256),
		logger:  logger,
	}
}

// Start runs the broadcast loop until ctx is done.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	defer b.wg.Done()

	for {
		select {
		case event, ok := <-b.events:
			if !ok {
				return
			}
			b.broadcast(event)
		case <-ctx.Done():
			b.closeAllClients()
			return
		}
	}
}

// Shutdown stops accepting events, drains what is queued and waits for the loop.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.shutdownMu.Lock()
	if b.shutdown {
		b.shutdownMu.Unlock()
		return nil
	}
	b.shutdown = true
	close(b.events)
	b.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		for event := range b.events {
			b.broadcast(event)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("event drain timeout, some events may be lost")
	}

	b.closeAllClients()
	return nil
}

// Emit queues an event. Values that are not an Event are rejected.
func (b *Bus) Emit(event any) {
	evt, ok := event.(Event)
	if !ok {
		b.logger.Error("invalid event type emitted")
		return
	}

	b.shutdownMu.RLock()
	defer b.shutdownMu.RUnlock()
	if b.shutdown {
		return
	}

	select {
	case b.events <- evt:
	default:
		b.logger.Error("event queue full, dropping event", slog.String("event_type", string(evt.Type)))
	}
}

// Connect registers a client. An empty userID receives every event.
func (b *Bus) Connect(userID string) (*Client, error) {
	clientID, err := id.Generate("evt")
	if err != nil {
		return nil, err
	}

	client := &Client{
		ID:          clientID,
		UserID:      userID,
		Events:      make(chan Event, 64),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	b.mu.Unlock()

	b.logger.Debug("event client connected", slog.String("client_id", clientID), slog.String("user_id", userID))
	return client, nil
}

// Disconnect removes a client and closes its channels. Unknown ids are ignored.
func (b *Bus) Disconnect(clientID string) {
	b.mu.Lock()
	client, ok := b.clients[clientID]
	if ok {
		delete(b.clients, clientID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	close(client.Done)
	close(client.Events)
}

// ClientCount returns the number of connected clients.
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Bus) broadcast(event Event) {
	var delivered, dropped int

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, client := range b.clients {
		if event.UserID != "" && client.UserID != "" && event.UserID != client.UserID {
			continue
		}

		// Non-blocking send (drop if client is slow/stuck).
		select {
		case client.Events <- event:
			delivered++
		default:
			dropped++
			b.logger.Warn("dropped event for slow client",
				slog.String("client_id", client.ID),
				slog.String("event_type", string(event.Type)))
		}
	}

	b.logger.Debug("event broadcast",
		slog.String("event_type", string(event.Type)),
		slog.Group("stats",
			slog.Int("delivered", delivered),
			slog.Int("dropped", dropped)))
}

func (b *Bus) closeAllClients() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, client := range b.clients {
		close(client.Done)
		close(client.Events)
	}
	b.clients = make(map[string]*Client)
}
