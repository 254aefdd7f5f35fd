// Package receiver implements the collector's ingestion endpoints.
//
// Collect serves GET and POST /collect (one hit). Batch serves POST /batch
// (one hit per line, at most Limits.MaxBatchHits). Every hit must carry
// non-empty v, tid, cid and t parameters; anything else is a 400. Oversized
// hits or bodies are a 413. A batch is stored only if every line is valid.
//
// Debug serves /debug/collect and /debug/batch: the same input is validated
// and a JSON report of errors and warnings per hit is returned; nothing is
// stored.
//
// Accepted requests get a 200 with a 1x1 GIF. Authentication is enforced
// upstream by the auth middleware.
package receiver
