// Package metrics counts reporter activity and exposes it in the Prometheus
// text exposition format for the agent's admin endpoint.
package metrics
