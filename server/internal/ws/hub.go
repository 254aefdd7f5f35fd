package ws

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trackbuf/trackbuf/server/internal/api"
	"github.com/trackbuf/trackbuf/server/internal/store"
)

// Stream events.
const (
	EventSnapshot = "snapshot"
	EventHits     = "hits"
	EventStats    = "stats"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10

	// backlog is how many undelivered messages a watcher may queue before
	// it is disconnected.
	backlog = 16

	// snapshotHits caps the hits replayed on connect.
	snapshotHits = 20

	// maxPushHits caps one hits message; the remainder goes out on the
	// next push.
	maxPushHits = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	// Dev tool: any origin may watch the stream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is one frame on /ws/hits. Hits are oldest first. Cursor is the
// highest Seq the watcher has been sent so far.
type Message struct {
	Event  string             `json:"event"`
	Cursor int64              `json:"cursor"`
	Hits   []api.HitResponse  `json:"hits,omitempty"`
	Stats  *api.StatsResponse `json:"stats,omitempty"`
}

// Hub fans stored hits out to WebSocket watchers. Each watcher carries its
// own filter and cursor, so a push only contains hits that watcher has not
// seen and that match its filter.
type Hub struct {
	store    *store.Store
	interval time.Duration
	wake     chan struct{}

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

type watcher struct {
	conn   *websocket.Conn
	filter store.Filter
	cursor int64 // guarded by Hub.mu
	out    chan Message
}

// New creates a Hub over st. Every interval watchers are caught up and sent
// the current stats.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		wake:     make(chan struct{}, 1),
		watchers: make(map[*watcher]struct{}),
	}
}

// Notify asks the hub to push new hits. Calls coalesce and never block.
func (h *Hub) Notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run pushes until ctx is cancelled, then disconnects every watcher.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-h.wake:
			h.pushHits()
		case <-tick.C:
			h.pushHits()
			h.pushStats()
		}
	}
}

// ServeHTTP upgrades the request and streams hits matching the tid, t and
// cid query parameters. The first message is a snapshot of the newest
// matching hits. It blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{TrackingID: q.Get("tid"), Type: q.Get("t"), ClientID: q.Get("cid")}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wt := &watcher{conn: conn, filter: filter, out: make(chan Message, backlog)}
	wt.out <- h.snapshot(wt)
	h.mu.Lock()
	h.watchers[wt] = struct{}{}
	h.mu.Unlock()

	go wt.write()
	wt.read()
	h.drop(wt)
}

// Count returns the number of connected watchers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// snapshot builds the connect message and positions the cursor after it.
// Hits stored later arrive through pushHits exactly once.
func (h *Hub) snapshot(wt *watcher) Message {
	f := wt.filter
	f.Limit = snapshotHits
	recent := h.store.List(f)
	slices.Reverse(recent)

	msg := renderHits(EventSnapshot, recent)
	if n := len(recent); n > 0 {
		wt.cursor = recent[n-1].Seq
	}
	msg.Cursor = wt.cursor
	stats := api.ToStatsResponse(h.store.Stats())
	msg.Stats = &stats
	return msg
}

func (h *Hub) pushHits() {
	h.mu.Lock()
	defer h.mu.Unlock()

	more := false
	for wt := range h.watchers {
		f := wt.filter
		f.Limit = maxPushHits
		hits := h.store.Since(wt.cursor, f)
		if len(hits) == 0 {
			continue
		}
		wt.cursor = hits[len(hits)-1].Seq
		msg := renderHits(EventHits, hits)
		msg.Cursor = wt.cursor
		if !h.offer(wt, msg) {
			continue
		}
		more = more || len(hits) == maxPushHits
	}
	if more {
		h.Notify()
	}
}

func (h *Hub) pushStats() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.watchers) == 0 {
		return
	}
	stats := api.ToStatsResponse(h.store.Stats())
	for wt := range h.watchers {
		h.offer(wt, Message{Event: EventStats, Cursor: wt.cursor, Stats: &stats})
	}
}

// offer queues msg for wt, disconnecting it when its backlog is full.
// h.mu must be held.
func (h *Hub) offer(wt *watcher, msg Message) bool {
	select {
	case wt.out <- msg:
		return true
	default:
		delete(h.watchers, wt)
		close(wt.out)
		return false
	}
}

func (h *Hub) drop(wt *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[wt]; ok {
		delete(h.watchers, wt)
		close(wt.out)
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for wt := range h.watchers {
		delete(h.watchers, wt)
		close(wt.out)
	}
}

func renderHits(event string, hits []store.Hit) Message {
	out := make([]api.HitResponse, len(hits))
	for i, hit := range hits {
		out[i] = api.ToHitResponse(hit)
	}
	return Message{Event: event, Hits: out}
}

// write sends queued messages and keepalive pings until out is closed or a
// write fails.
func (wt *watcher) write() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer wt.conn.Close()

	for {
		select {
		case msg, ok := <-wt.out:
			wt.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				wt.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := wt.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(writeTimeout)
			if err := wt.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// read discards client frames and returns once the peer goes away.
func (wt *watcher) read() {
	wt.conn.SetReadLimit(512)
	wt.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	wt.conn.SetPongHandler(func(string) error {
		return wt.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := wt.conn.NextReader(); err != nil {
			return
		}
	}
}
