// Package store is the durable, file-backed copy of the pending-record list.
//
// Save writes a whole-list snapshot as a versioned JSON envelope
// ({"version":1,"records":[...]}), optionally wrapped in a zstd frame, via a
// temp file and rename. Load never fails: an absent or empty file is an empty
// list, and an undecodable one is logged, deleted and recreated empty.
package store
