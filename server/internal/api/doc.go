// Package api implements the collector's read-only REST API.
//
// New(store) returns an http.Handler that serves:
//
//	GET /api/v1/health    status, live and held hit counts, hit TTL
//	GET /api/v1/hits      live hits, newest first; filters ?tid= ?t= ?cid= ?limit=
//	GET /api/v1/stats     counts by hit type and tracking id, distinct clients
//	GET /api/v1/snapshot  stats plus the 20 most recent hits
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. JSON types are defined in types.go.
package api
