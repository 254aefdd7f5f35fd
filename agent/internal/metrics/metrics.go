package metrics

import (
	"bytes"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric family names exposed on /metrics.
const (
	NameRecordsEnqueued  = "trackbuf_records_enqueued_total"
	NameRecordsDelivered = "trackbuf_records_delivered_total"
	NameUploads          = "trackbuf_uploads_total"
	NamePersistFailures  = "trackbuf_persist_failures_total"
	NameStoreCorruptions = "trackbuf_store_corruptions_total"
	NameQueueDepth       = "trackbuf_queue_depth"
)

// Counters tracks reporter activity. All methods are safe for concurrent use.
type Counters struct {
	enqueued         atomic.Int64
	delivered        atomic.Int64
	persistFailures  atomic.Int64
	storeCorruptions atomic.Int64

	mu      sync.Mutex
	uploads map[string]int64 // keyed by outcome

	depth atomic.Pointer[func() int]
}

// New returns zeroed Counters.
func New() *Counters {
	return &Counters{uploads: make(map[string]int64)}
}

func (c *Counters) RecordEnqueued()          { c.enqueued.Add(1) }
func (c *Counters) RecordsDelivered(n int)   { c.delivered.Add(int64(n)) }
func (c *Counters) PersistFailed()           { c.persistFailures.Add(1) }
func (c *Counters) StoreCorrupted(err error) { c.storeCorruptions.Add(1) }

// UploadAttempt counts one upload attempt under its outcome label.
func (c *Counters) UploadAttempt(outcome string) {
	c.mu.Lock()
	c.uploads[outcome]++
	c.mu.Unlock()
}

// Uploads returns the attempt count recorded for outcome.
func (c *Counters) Uploads(outcome string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads[outcome]
}

// SetQueueDepth registers the function sampled for the queue depth gauge.
func (c *Counters) SetQueueDepth(fn func() int) {
	c.depth.Store(&fn)
}

// Gather snapshots every metric as Prometheus metric families, sorted by name.
// The uploads family is omitted until the first attempt is counted.
func (c *Counters) Gather() []*dto.MetricFamily {
	fams := []*dto.MetricFamily{
		counter(NameRecordsEnqueued, "Records accepted into the queue.", c.enqueued.Load()),
		counter(NameRecordsDelivered, "Records confirmed delivered to the collector.", c.delivered.Load()),
		counter(NamePersistFailures, "Failed writes of the pending-record file.", c.persistFailures.Load()),
		counter(NameStoreCorruptions, "Unreadable pending-record files discarded at load.", c.storeCorruptions.Load()),
	}
	// The text format rejects families without samples.
	if up := c.uploadFamily(); len(up.Metric) > 0 {
		fams = append(fams, up)
	}

	var depth float64
	if fn := c.depth.Load(); fn != nil {
		depth = float64((*fn)())
	}
	fams = append(fams, &dto.MetricFamily{
		Name:   ptr(NameQueueDepth),
		Help:   ptr("Records currently waiting for delivery."),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(depth)}}},
	})

	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

func (c *Counters) uploadFamily() *dto.MetricFamily {
	c.mu.Lock()
	outcomes := make([]string, 0, len(c.uploads))
	for o := range c.uploads {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	metrics := make([]*dto.Metric, 0, len(outcomes))
	for _, o := range outcomes {
		metrics = append(metrics, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: ptr("outcome"), Value: ptr(o)}},
			Counter: &dto.Counter{Value: ptr(float64(c.uploads[o]))},
		})
	}
	c.mu.Unlock()

	return &dto.MetricFamily{
		Name:   ptr(NameUploads),
		Help:   ptr("Upload attempts by outcome."),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: metrics,
	}
}

// ServeHTTP writes the text exposition format.
func (c *Counters) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	for _, mf := range c.Gather() {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	_, _ = w.Write(buf.Bytes())
}

func counter(name, help string, v int64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(float64(v))}}},
	}
}

func ptr[T any](v T) *T { return &v }
