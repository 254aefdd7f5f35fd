// Package store keeps received hits in memory for inspection, with TTL
// eviction and simple filtered queries.
package store
