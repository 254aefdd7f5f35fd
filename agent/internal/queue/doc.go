// Package queue is the upload manager: it owns the in-memory list of pending
// records, decides when to upload, and keeps the durable store in step.
//
// Triggers:
//   - ceiling: Enqueue signals the worker once the list reaches
//     StorageCeiling; the worker uploads if no upload is in flight and keeps
//     signalling itself while the backlog stays at or above the ceiling.
//   - timer: every FlushInterval the worker uploads if the list is non-empty
//     and no upload is in flight.
//
// A batch is a copy of the first MaxBatchSize records taken under the lock;
// the network call happens outside it. Delivered batches are removed by
// identity and the list is persisted. Failed batches, whatever the status,
// stay queued. OnSuspend and OnShutdown persist without uploading.
package queue
