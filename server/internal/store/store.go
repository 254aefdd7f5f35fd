package store

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"
)

// Hit is one accepted measurement, as parsed by the receiver.
type Hit struct {
	Seq        int64
	TrackingID string
	ClientID   string
	Type       string
	Params     map[string]string
	ReceivedAt time.Time
}

// Filter narrows List. Zero fields match everything; Limit <= 0 means no limit.
type Filter struct {
	TrackingID string
	Type       string
	ClientID   string
	Limit      int
}

func (f Filter) match(h Hit) bool {
	return (f.TrackingID == "" || h.TrackingID == f.TrackingID) &&
		(f.Type == "" || h.Type == f.Type) &&
		(f.ClientID == "" || h.ClientID == f.ClientID)
}

// Stats summarises the live hits.
type Stats struct {
	Total      int
	ByType     map[string]int
	ByTracking map[string]int
	Clients    int
	Last       time.Time
}

// Store is a thread-safe in-memory hit log. A background goroutine (Run)
// periodically evicts hits older than the configured TTL.
type Store struct {
	mu   sync.RWMutex
	hits []Hit // ascending Seq
	seq  int64
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// TTL returns the configured retention.
func (s *Store) TTL() time.Duration { return s.ttl }

// Add appends hits, stamping each with a sequence number and receive time.
// The stamped hits are returned. Params maps are copied.
func (s *Store) Add(hits ...Hit) []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Hit, len(hits))
	for i, h := range hits {
		s.seq++
		h.Seq = s.seq
		h.ReceivedAt = now
		h.Params = maps.Clone(h.Params)
		s.hits = append(s.hits, h)
		out[i] = h
	}
	return out
}

// List returns live hits matching f, newest first.
func (s *Store) List(f Filter) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	var out []Hit
	for i := len(s.hits) - 1; i >= 0; i-- {
		h := s.hits[i]
		if !h.ReceivedAt.After(cutoff) || !f.match(h) {
			continue
		}
		out = append(out, h)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Since returns live hits matching f with Seq greater than after, oldest
// first. Limit keeps the oldest ones so a caller can page forward by Seq.
func (s *Store) Since(after int64, f Filter) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	start := sort.Search(len(s.hits), func(i int) bool { return s.hits[i].Seq > after })
	var out []Hit
	for _, h := range s.hits[start:] {
		if !h.ReceivedAt.After(cutoff) || !f.match(h) {
			continue
		}
		out = append(out, h)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Stats computes counts over the live hits.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	st := Stats{ByType: map[string]int{}, ByTracking: map[string]int{}}
	clients := map[string]struct{}{}
	for _, h := range s.hits {
		if !h.ReceivedAt.After(cutoff) {
			continue
		}
		st.Total++
		st.ByType[h.Type]++
		st.ByTracking[h.TrackingID]++
		clients[h.ClientID] = struct{}{}
		if h.ReceivedAt.After(st.Last) {
			st.Last = h.ReceivedAt
		}
	}
	st.Clients = len(clients)
	return st
}

// Count returns the number of hits held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hits)
}

// Evict removes hits whose ReceivedAt is not after now minus TTL and returns
// how many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	kept := s.hits[:0]
	for _, h := range s.hits {
		if h.ReceivedAt.After(cutoff) {
			kept = append(kept, h)
		}
	}
	removed := len(s.hits) - len(kept)
	clear(s.hits[len(kept):])
	s.hits = kept
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale hits", "count", n)
			}
		}
	}
}
