package record

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// Record is one buffered analytics hit. The zero value is not useful; build
// records with Generator.New.
type Record struct {
	ID      int64             `json:"id"`
	Payload map[string]string `json:"payload"`
}

// Same reports whether r and o carry the same identity.
func (r Record) Same(o Record) bool {
	return r.ID == o.ID
}

// Get returns the payload value for key.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.Payload[key]
	return v, ok
}

// Keys returns the payload keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Payload))
	for k := range r.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Generator hands out strictly increasing record identities.
type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time // injectable for deterministic tests
}

// NewGenerator returns a Generator backed by the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// NextID returns an identity greater than every identity previously returned
// by g. It follows the clock when the clock moves forward and otherwise
// increments the last value.
func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixNano()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// Observe raises g's floor so every later NextID is greater than the largest
// identity in records, whatever the wall clock says.
func (g *Generator) Observe(records []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range records {
		if r.ID > g.last {
			g.last = r.ID
		}
	}
}

// New builds a Record with a fresh identity. The payload is copied so later
// changes to the caller's map do not leak into the queued record.
func (g *Generator) New(payload map[string]string) Record {
	p := make(map[string]string, len(payload))
	maps.Copy(p, payload)
	return Record{ID: g.NextID(), Payload: p}
}

// Difference returns the records in list whose identity does not appear in
// remove, preserving the order of list.
func Difference(list, remove []Record) []Record {
	if len(remove) == 0 {
		out := make([]Record, len(list))
		copy(out, list)
		return out
	}
	drop := make(map[int64]struct{}, len(remove))
	for _, r := range remove {
		drop[r.ID] = struct{}{}
	}
	out := make([]Record, 0, len(list))
	for _, r := range list {
		if _, ok := drop[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// Prefix returns a copy of the first n records of list, or all of them when
// list is shorter.
func Prefix(list []Record, n int) []Record {
	n = min(n, len(list))
	if n <= 0 {
		return nil
	}
	out := make([]Record, n)
	copy(out, list[:n])
	return out
}
