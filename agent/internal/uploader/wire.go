package uploader

import (
	"net/url"
	"strings"

	"github.com/trackbuf/trackbuf/agent/internal/record"
)

// Collector paths, relative to the configured collector URL.
const (
	collectPath = "collect"
	batchPath   = "batch"
)

// EncodeQuery renders payload as k1=v1&k2=v2 with keys in sorted order.
// Keys and values are percent-encoded; spaces become %20 rather than '+'.
func EncodeQuery(payload map[string]string) string {
	r := record.Record{Payload: payload}
	var b strings.Builder
	for i, k := range r.Keys() {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(escape(payload[k]))
	}
	return b.String()
}

// BatchBody renders one encoded query string per record, joined by '\n'.
func BatchBody(batch []record.Record) string {
	lines := make([]string, len(batch))
	for i, r := range batch {
		lines[i] = EncodeQuery(r.Payload)
	}
	return strings.Join(lines, "\n")
}

// escape is QueryEscape with %20 for spaces. QueryEscape already encodes a
// literal '+' as %2B, so every remaining '+' stands for a space.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
