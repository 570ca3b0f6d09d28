package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

const (
	defaultRingSize   = 100
	defaultSendBuffer = 64
)

// Subscriber abstracts a streaming client connection.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Filter selects which events a subscriber receives. Empty sets match all.
type Filter struct {
	Types  map[string]struct{}
	Levels map[string]struct{}
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(event domain.StreamEvent) bool {
	if len(f.Types) > 0 {
		if _, ok := f.Types[event.Type]; !ok {
			return false
		}
	}
	if len(f.Levels) > 0 && event.Type == domain.EventLog {
		if _, ok := f.Levels[event.Level]; !ok {
			return false
		}
	}
	return true
}

// Hub fans deployment events out to subscribers. Each deployment keeps a
// bounded ring of recent events with monotonically increasing sequence
// numbers so reconnecting clients can resync with no gap or duplicate.
type Hub struct {
	mu         sync.Mutex
	streams    map[string]*eventStream
	ringSize   int
	sendBuffer int
	logger     *slog.Logger
	now        func() time.Time
}

type eventStream struct {
	seq  uint64
	ring []domain.StreamEvent
	subs map[*Subscription]struct{}
}

// Subscription is one registered subscriber on a deployment stream.
type Subscription struct {
	hub          *Hub
	deploymentID string
	filter       Filter
	client       Subscriber
	ch           chan domain.StreamEvent
}

// NewHub creates an initialized Hub.
func NewHub(ringSize, sendBuffer int, logger *slog.Logger) *Hub {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		streams:    make(map[string]*eventStream),
		ringSize:   ringSize,
		sendBuffer: sendBuffer,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish appends the event to the deployment's ring and pushes it to every
// matching subscriber. A subscriber whose buffer is full is dropped rather
// than allowed to block publication.
func (h *Hub) Publish(deploymentID string, eventType, level string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("failed to marshal stream payload", "deployment_id", deploymentID, "error", err)
		}
		return
	}

	h.mu.Lock()
	s := h.streams[deploymentID]
	if s == nil {
		s = &eventStream{subs: make(map[*Subscription]struct{})}
		h.streams[deploymentID] = s
	}
	s.seq++
	event := domain.StreamEvent{
		Seq:          s.seq,
		DeploymentID: deploymentID,
		Type:         eventType,
		Level:        level,
		Timestamp:    h.now().UTC(),
		Payload:      data,
	}
	s.ring = append(s.ring, event)
	if len(s.ring) > h.ringSize {
		s.ring = s.ring[len(s.ring)-h.ringSize:]
	}
	var dropped []*Subscription
	for sub := range s.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		h.removeLocked(s, sub)
		if h.logger != nil {
			h.logger.Warn("dropping slow subscriber", "deployment_id", deploymentID)
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a client, replaying buffered events with Seq > fromSeq
// before live delivery. Replay and registration happen under one lock so the
// replay/live boundary has no gap and no duplicate.
func (h *Hub) Subscribe(deploymentID string, client Subscriber, filter Filter, fromSeq uint64) *Subscription {
	h.mu.Lock()
	s := h.streams[deploymentID]
	if s == nil {
		s = &eventStream{subs: make(map[*Subscription]struct{})}
		h.streams[deploymentID] = s
	}
	var replay []domain.StreamEvent
	for _, event := range s.ring {
		if event.Seq > fromSeq && filter.Matches(event) {
			replay = append(replay, event)
		}
	}
	sub := &Subscription{
		hub:          h,
		deploymentID: deploymentID,
		filter:       filter,
		client:       client,
		ch:           make(chan domain.StreamEvent, h.sendBuffer+len(replay)),
	}
	for _, event := range replay {
		sub.ch <- event
	}
	s.subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.writeLoop()
	return sub
}

// Unsubscribe removes a subscription and closes its client.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if s := h.streams[sub.deploymentID]; s != nil {
		h.removeLocked(s, sub)
	}
	h.mu.Unlock()
}

// Retire disconnects all subscribers of a deployment and forgets its buffer.
// Called after the final status event of a terminal deployment is published.
func (h *Hub) Retire(deploymentID string) {
	h.mu.Lock()
	s := h.streams[deploymentID]
	if s != nil {
		for sub := range s.subs {
			h.removeLocked(s, sub)
		}
		delete(h.streams, deploymentID)
	}
	h.mu.Unlock()
}

// LastSeq returns the highest sequence number assigned for a deployment.
func (h *Hub) LastSeq(deploymentID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.streams[deploymentID]; s != nil {
		return s.seq
	}
	return 0
}

func (h *Hub) removeLocked(s *eventStream, sub *Subscription) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
}

func (sub *Subscription) writeLoop() {
	for event := range sub.ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := sub.client.Send(payload); err != nil {
			sub.hub.Unsubscribe(sub)
			break
		}
	}
	sub.client.Close()
}
