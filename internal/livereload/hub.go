// Package livereload broadcasts reload messages to connected browsers over
// Server-Sent Events.
package livereload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spachava753/assetpipe/internal/ids"
	"github.com/spachava753/assetpipe/internal/obs"
)

// Kind tells the client what to do with a message.
type Kind string

const (
	// KindReload reloads the page.
	KindReload Kind = "reload"
	// KindCSS swaps the named stylesheets without a page reload.
	KindCSS Kind = "css"
	// KindError shows a build error banner.
	KindError Kind = "error"
)

// Message is one broadcast event.
type Message struct {
	ID    string    `json:"id"`
	Kind  Kind      `json:"kind"`
	Paths []string  `json:"paths,omitempty"`
	Text  string    `json:"message,omitempty"`
	Time  time.Time `json:"time"`
}

// Hub fans messages out to every subscriber. Reloads are throttled: calls
// arriving faster than the configured interval are merged into one trailing
// broadcast.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Message

	pendingMu sync.Mutex
	pending   map[string]bool
	timer     *time.Timer
	limiter   *rate.Limiter
	interval  time.Duration
}

// NewHub creates a hub that broadcasts at most one reload per interval.
// A non-positive interval disables throttling.
func NewHub(interval time.Duration) *Hub {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Hub{
		subs:     make(map[string]chan Message),
		pending:  make(map[string]bool),
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Subscribe registers a browser session and returns its id and a channel
// receiving messages. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) (string, <-chan Message) {
	id := ids.Session()
	ch := make(chan Message, 16)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	obs.ReloadClients(1)
	slog.Debug("live reload client connected", "session", id)

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
		obs.ReloadClients(-1)
		slog.Debug("live reload client disconnected", "session", id)
	}()

	return id, ch
}

// Clients returns the number of connected sessions.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish sends msg to all subscribers, stamping its id and time. A slow
// subscriber misses the message rather than blocking the broadcast.
func (h *Hub) Publish(msg Message) {
	if msg.ID == "" {
		msg.ID = ids.Event()
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	obs.ReloadBroadcast(string(msg.Kind))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			slog.Debug("dropping live reload message for slow client", "session", id)
		}
	}
}

// Reload asks browsers to pick up changed paths. Stylesheet-only changes
// are hot swapped; anything else reloads the page.
func (h *Hub) Reload(paths ...string) {
	h.pendingMu.Lock()
	for _, p := range paths {
		h.pending[p] = true
	}
	if len(paths) == 0 {
		h.pending[""] = true
	}
	if h.timer != nil {
		h.pendingMu.Unlock()
		return
	}
	if h.limiter.Allow() {
		msg := h.takePending()
		h.pendingMu.Unlock()
		h.Publish(msg)
		return
	}
	h.timer = time.AfterFunc(h.interval, h.flush)
	h.pendingMu.Unlock()
}

func (h *Hub) flush() {
	h.pendingMu.Lock()
	h.timer = nil
	if len(h.pending) == 0 {
		h.pendingMu.Unlock()
		return
	}
	// Consume the token so the next immediate reload waits a full interval.
	h.limiter.Allow()
	msg := h.takePending()
	h.pendingMu.Unlock()
	h.Publish(msg)
}

// takePending must be called with pendingMu held.
func (h *Hub) takePending() Message {
	paths := make([]string, 0, len(h.pending))
	kind := KindCSS
	for p := range h.pending {
		if p == "" {
			kind = KindReload
			continue
		}
		paths = append(paths, p)
		if path.Ext(p) != ".css" {
			kind = KindReload
		}
	}
	sort.Strings(paths)
	clear(h.pending)
	return Message{Kind: kind, Paths: paths}
}

// Notice shows message to connected browsers immediately.
func (h *Hub) Notice(message string) {
	h.Publish(Message{Kind: KindError, Text: message})
}

// ServeHTTP streams messages to one browser as Server-Sent Events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, ch := h.Subscribe(ctx)

	// Send an initial comment to establish the stream.
	fmt.Fprintf(w, "retry: 1000\n: session %s\n\n", session)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Kind, payload)
			flusher.Flush()
		}
	}
}
