package sse

import (
	"context"
	"ms-booking/internal/models"
	"sync"
)

type client struct {
	actor models.Actor
	ch    chan models.Notification
}

// NotificationEmitter manages SSE connections and routes notifications to
// the clients in each notification's audience.
type NotificationEmitter struct {
	clients     map[chan models.Notification]client
	clientMutex sync.RWMutex
	bufferSize  int
}

// NewNotificationEmitter creates a new SSE event emitter for booking notifications
func NewNotificationEmitter() *NotificationEmitter {
	return &NotificationEmitter{
		clients:    make(map[chan models.Notification]client),
		bufferSize: 16,
	}
}

// Subscribe registers a client for actor until ctx is done
func (e *NotificationEmitter) Subscribe(ctx context.Context, actor models.Actor) <-chan models.Notification {
	clientChan := make(chan models.Notification, e.bufferSize)

	e.clientMutex.Lock()
	e.clients[clientChan] = client{actor: actor, ch: clientChan}
	e.clientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeClient(clientChan)
	}()

	return clientChan
}

// Deliver broadcasts n to every subscribed client in its audience. Slow
// clients whose buffer is full miss the notification rather than blocking
// the emitter.
func (e *NotificationEmitter) Deliver(ctx context.Context, n models.Notification) error {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()

	for _, c := range e.clients {
		if !n.Audience.Includes(c.actor) {
			continue
		}
		select {
		case c.ch <- n:
		default:
		}
	}
	return nil
}

func (e *NotificationEmitter) removeClient(clientChan chan models.Notification) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	if _, ok := e.clients[clientChan]; ok {
		delete(e.clients, clientChan)
		close(clientChan)
	}
}

// ClientCount returns the number of connected clients for a user
func (e *NotificationEmitter) ClientCount(userID string) int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()

	count := 0
	for _, c := range e.clients {
		if c.actor.ID == userID {
			count++
		}
	}
	return count
}
