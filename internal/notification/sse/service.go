// Package sse provides Server-Sent Events support for real-time notifications.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"wacrm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventLeadHot      EventType = "lead_hot"
	EventLeadCooled   EventType = "lead_cooled"
	EventLeadAssigned EventType = "lead_assigned"
	EventLeadIngested EventType = "lead_ingested"
)

// Event represents an SSE event payload
type Event struct {
	Type    EventType   `json:"type"`
	DealID  uuid.UUID   `json:"dealId,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	userID uuid.UUID
	orgID  uuid.UUID
	events chan Event
}

// Service manages SSE connections and event broadcasting
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client // userID -> clients
	orgs    map[uuid.UUID][]*client // orgID -> clients
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		orgs:    make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c.userID] = append(s.clients[c.userID], c)
	if c.orgID != uuid.Nil {
		s.orgs[c.orgID] = append(s.orgs[c.orgID], c)
	}
}

// removeClient unregisters a client connection. It is a no-op after Close.
func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	s.clients[c.userID], found = without(s.clients[c.userID], c)
	if len(s.clients[c.userID]) == 0 {
		delete(s.clients, c.userID)
	}
	s.orgs[c.orgID], _ = without(s.orgs[c.orgID], c)
	if len(s.orgs[c.orgID]) == 0 {
		delete(s.orgs, c.orgID)
	}

	if found {
		close(c.events)
	}
}

func without(list []*client, c *client) ([]*client, bool) {
	for i, cl := range list {
		if cl == c {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

// Publish sends an event to every connection of a user.
func (s *Service) Publish(userID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.send(s.clients[userID], event)
}

// PublishToOrganization broadcasts an event to every connection of an organization.
func (s *Service) PublishToOrganization(orgID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.send(s.orgs[orgID], event)
}

// send must be called with the read lock held so no channel is closed mid-send.
func (s *Service) send(clients []*client, event Event) {
	for _, c := range clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("SSE: event buffer full", "user_id", c.userID, "type", event.Type)
		}
	}
}

// ClientCount returns the number of open connections.
func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.clients {
		n += len(list)
	}
	return n
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler(getUserID func(*gin.Context) (uuid.UUID, bool), getOrgID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := getUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		orgID, ok := getOrgID(c)
		if !ok {
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			userID: userID,
			orgID:  orgID,
			events: make(chan Event, 32),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"userId": userID, "orgId": orgID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
	s.orgs = make(map[uuid.UUID][]*client)
}
