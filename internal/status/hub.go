package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/internal/session"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// Hub fans status reports out to websocket subscribers. New subscribers
// immediately receive the most recent report. A subscriber that cannot keep
// up loses reports rather than slowing the session down.
type Hub struct {
	buffer  int
	origins []string
	metrics *observe.Metrics

	mu   sync.Mutex
	subs map[chan session.Status]struct{}
	last *session.Status
}

var _ session.StatusSink = (*Hub)(nil)

// HubConfig configures a [Hub].
type HubConfig struct {
	// Buffer is the per-subscriber queue length. Default: 16.
	Buffer int

	// OriginPatterns are host patterns allowed to connect cross-origin.
	OriginPatterns []string

	// Metrics, if set, tracks the subscriber count.
	Metrics *observe.Metrics
}

// NewHub returns an empty Hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	return &Hub{
		buffer:  cfg.Buffer,
		origins: cfg.OriginPatterns,
		metrics: cfg.Metrics,
		subs:    make(map[chan session.Status]struct{}),
	}
}

// Status implements [session.StatusSink].
func (h *Hub) Status(st session.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &st
	for ch := range h.subs {
		select {
		case ch <- st:
		default:
			slog.Debug("status subscriber lagging, report dropped")
		}
	}
}

// Last returns the most recent report.
func (h *Hub) Last() (session.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return session.Status{}, false
	}
	return *h.last, true
}

// Subscribe registers a subscriber. The returned cancel function must be
// called to unsubscribe; it closes the channel.
func (h *Hub) Subscribe() (<-chan session.Status, func()) {
	ch := make(chan session.Status, h.buffer)

	h.mu.Lock()
	if h.last != nil {
		ch <- *h.last
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.StatusSubscribers.Add(context.Background(), 1)
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.StatusSubscribers.Add(context.Background(), -1)
			}
		})
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams status reports
// as JSON text messages until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("status websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ch, cancel := h.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case st := <-ch:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, st)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("status websocket write failed", "error", err)
				}
				return
			}
		}
	}
}
