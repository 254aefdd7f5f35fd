package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trackbuf/trackbuf/agent/internal/config"
	"github.com/trackbuf/trackbuf/agent/internal/metrics"
	"github.com/trackbuf/trackbuf/agent/internal/record"
	"github.com/trackbuf/trackbuf/agent/internal/uploader"
)

// Store is the durable copy of the pending list.
type Store interface {
	Load() []record.Record
	Save(records []record.Record) error
}

// Uploader delivers one batch per call and reports whether a call is in flight.
type Uploader interface {
	Upload(ctx context.Context, batch []record.Record) uploader.Result
	Busy() bool
}

// Options tunes batching and triggering.
type Options struct {
	// MaxBatchSize caps the records handed to one Upload call.
	MaxBatchSize int
	// FlushInterval is the period of the timer trigger.
	FlushInterval time.Duration
	// StorageCeiling is the backlog length that triggers an immediate upload.
	StorageCeiling int
	// IDs, when set, observes every record loaded by Start.
	IDs *record.Generator
}

// DefaultOptions returns the stock batching settings.
func DefaultOptions() Options {
	return Options{
		MaxBatchSize:   config.DefaultMaxBatchSize,
		FlushInterval:  config.DefaultFlushInterval,
		StorageCeiling: config.DefaultStorageCeiling,
	}
}

// OptionsFromConfig extracts the batching settings from cfg.
func OptionsFromConfig(cfg config.AgentConfig) Options {
	return Options{
		MaxBatchSize:   cfg.MaxBatchSize,
		FlushInterval:  cfg.FlushInterval,
		StorageCeiling: cfg.StorageCeiling,
	}
}

// Manager owns the pending-record list. Enqueue may be called from any
// goroutine and never blocks on I/O. Uploads are driven by a single worker
// goroutine started by Start, which owns both the flush timer and the
// backlog-ceiling trigger.
type Manager struct {
	store    Store
	up       Uploader
	opts     Options
	logger   *slog.Logger
	counters *metrics.Counters

	mu      sync.Mutex
	records []record.Record

	// persistMu orders snapshot+save pairs so an older snapshot can never
	// be renamed over a newer one.
	persistMu sync.Mutex

	kick     chan struct{}
	interval chan time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager. Nothing is loaded or started until Start.
func New(st Store, up Uploader, opts Options, logger *slog.Logger, counters *metrics.Counters) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.New()
	}
	m := &Manager{
		store:    st,
		up:       up,
		opts:     opts,
		logger:   logger,
		counters: counters,
		kick:     make(chan struct{}, 1),
		interval: make(chan time.Duration, 1),
	}
	counters.SetQueueDepth(m.Len)
	return m
}

// Start seeds the list from the store and launches the trigger worker.
// Records enqueued before Start are kept behind the loaded ones.
func (m *Manager) Start(ctx context.Context) {
	loaded := m.store.Load()
	if m.opts.IDs != nil {
		m.opts.IDs.Observe(loaded)
	}

	m.mu.Lock()
	m.records = append(loaded, m.records...)
	n := len(m.records)
	m.mu.Unlock()

	m.logger.Info("queue: started",
		"pending", n,
		"max_batch_size", m.opts.MaxBatchSize,
		"flush_interval", m.opts.FlushInterval,
		"storage_ceiling", m.opts.StorageCeiling,
	)

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)

	if n >= m.opts.StorageCeiling {
		m.signalCeiling()
	}
}

// Stop halts the worker and waits for it to exit. An upload in flight is
// abandoned through its context; its records stay queued.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Enqueue appends r to the list. It never blocks on upload or persistence.
func (m *Manager) Enqueue(r record.Record) {
	m.mu.Lock()
	m.records = append(m.records, r)
	n := len(m.records)
	m.mu.Unlock()

	m.counters.RecordEnqueued()
	if n >= m.opts.StorageCeiling {
		m.signalCeiling()
	}
}

// Len returns the number of pending records.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Snapshot returns a copy of the pending list in queue order.
func (m *Manager) Snapshot() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Remove drops every record whose identity appears in batch. Records not
// present are ignored, so removing the same batch twice is a no-op.
func (m *Manager) Remove(batch []record.Record) {
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	m.records = record.Difference(m.records, batch)
	m.mu.Unlock()
}

// TriggerUpload sends the first MaxBatchSize records. Delivered batches are
// removed and the list persisted; on failure the list is left
// untouched for the next trigger.
func (m *Manager) TriggerUpload(ctx context.Context) uploader.Result {
	m.mu.Lock()
	batch := record.Prefix(m.records, m.opts.MaxBatchSize)
	m.mu.Unlock()

	res := m.up.Upload(ctx, batch)
	if res.Outcome != uploader.Skipped {
		m.counters.UploadAttempt(res.Outcome.String())
	}

	switch res.Outcome {
	case uploader.Delivered:
		m.Remove(res.Records)
		m.counters.RecordsDelivered(len(res.Records))
		m.logger.Debug("queue: batch delivered", "records", len(res.Records), "pending", m.Len())
		m.Persist()

	case uploader.Failed:
		m.logger.Warn("queue: upload failed, will retry on next trigger",
			"records", len(res.Records), "status", res.Status, "err", res.Err)
	}
	return res
}

// Flush uploads batches back to back until the list is empty or an attempt
// does not deliver. It returns the last attempt's result.
func (m *Manager) Flush(ctx context.Context) uploader.Result {
	var res uploader.Result
	for m.Len() > 0 && ctx.Err() == nil {
		res = m.TriggerUpload(ctx)
		if res.Outcome != uploader.Delivered {
			break
		}
	}
	return res
}

// Persist writes the current list to the store. A failed write is logged
// and counted; the in-memory list stays authoritative.
func (m *Manager) Persist() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	snap := m.Snapshot()
	if err := m.store.Save(snap); err != nil {
		m.counters.PersistFailed()
		m.logger.Warn("queue: persist failed", "records", len(snap), "err", err)
		return
	}
	m.logger.Debug("queue: persisted", "records", len(snap))
}

// OnSuspend is called by the host when the application moves to the
// background. It persists the list; no upload is attempted.
func (m *Manager) OnSuspend() {
	m.logger.Debug("queue: suspend, persisting")
	m.Persist()
}

// OnShutdown is called by the host before the process exits. It persists
// the list; no upload is attempted.
func (m *Manager) OnShutdown() {
	m.logger.Debug("queue: shutdown, persisting")
	m.Persist()
}

// SetFlushInterval changes the timer trigger period of a running Manager.
func (m *Manager) SetFlushInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	for {
		select {
		case m.interval <- d:
			return
		default:
		}
		// Replace a pending, not yet applied value.
		select {
		case <-m.interval:
		default:
		}
	}
}

func (m *Manager) signalCeiling() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// run is the single trigger context; timer and ceiling uploads never overlap.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case d := <-m.interval:
			ticker.Reset(d)
			m.logger.Info("queue: flush interval changed", "flush_interval", d)

		case <-m.kick:
			if m.Len() < m.opts.StorageCeiling || m.up.Busy() {
				continue
			}
			res := m.TriggerUpload(ctx)
			// Keep draining while the backlog stays above the ceiling.
			if res.Outcome == uploader.Delivered && m.Len() >= m.opts.StorageCeiling {
				m.signalCeiling()
			}

		case <-ticker.C:
			if m.Len() == 0 || m.up.Busy() {
				continue
			}
			m.TriggerUpload(ctx)
		}
	}
}
