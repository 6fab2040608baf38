package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/persistence/middleware"
	"github.com/aretw0/marionette/pkg/ports"
)

// Checkpoint event kinds.
const (
	EventSaved   = "saved"
	EventDeleted = "deleted"
)

// Event is broadcast on /events.
type Event struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// StreamManager fans checkpoint events out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	logger      *slog.Logger
}

// NewStreamManager creates an empty hub.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[chan Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a listener. The returned function unsubscribes and closes the channel.
func (sm *StreamManager) Subscribe() (<-chan Event, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Event, 10)
	sm.subscribers[ch] = struct{}{}
	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subscribers[ch]; ok {
			delete(sm.subscribers, ch)
			close(ch)
		}
	}
}

// Broadcast delivers ev to every subscriber, dropping it for full buffers.
func (sm *StreamManager) Broadcast(ev Event) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch := range sm.subscribers {
		select {
		case ch <- ev:
		default:
			sm.logger.Warn("sse client buffer full, dropping event", "kind", ev.Kind, "id", ev.ID)
		}
	}
}

// Middleware wraps a store so successful saves and deletes are broadcast.
func (sm *StreamManager) Middleware() middleware.Middleware {
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &notifyingStore{CheckpointStore: next, sm: sm}
	}
}

type notifyingStore struct {
	ports.CheckpointStore
	sm *StreamManager
}

func (n *notifyingStore) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if err := n.CheckpointStore.Save(ctx, cp); err != nil {
		return err
	}
	n.sm.Broadcast(Event{Kind: EventSaved, ID: cp.ID, Label: cp.Label})
	return nil
}

func (n *notifyingStore) Delete(ctx context.Context, id string) error {
	if err := n.CheckpointStore.Delete(ctx, id); err != nil {
		return err
	}
	n.sm.Broadcast(Event{Kind: EventDeleted, ID: id})
	return nil
}

// subscribeEvents streams checkpoint events as SSE. ?kind=saved,deleted filters.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var kinds map[string]bool
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kinds = make(map[string]bool)
		for _, k := range strings.Split(raw, ",") {
			kinds[strings.TrimSpace(k)] = true
		}
	}

	ch, cancel := s.streams.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if kinds != nil && !kinds[ev.Kind] {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
