// Package ws implements the live hit stream of the collector, mounted at
// /ws/hits.
//
// A watcher may narrow the stream with the same tid, t and cid query
// parameters as GET /api/v1/hits. Frames are JSON Message values:
//
//	snapshot  on connect: the newest matching hits (up to 20) plus stats
//	hits      matching hits stored since the watcher's cursor, oldest first
//	stats     every stream interval: current store statistics
//
// Each watcher has its own cursor (the highest Seq it has been sent), so
// every stored hit reaches a watcher at most once. The receiver calls
// Hub.Notify after storing hits. The interval tick also catches watchers up.
// A watcher that falls more than 16 messages behind is disconnected.
package ws
