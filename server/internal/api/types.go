package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status   string `json:"status"`
	LiveHits int    `json:"live_hits"`
	HeldHits int    `json:"held_hits"`
	HitTTL   string `json:"hit_ttl"`
}

// HitResponse is one hit in GET /api/v1/hits.
type HitResponse struct {
	Seq        int64             `json:"seq"`
	TrackingID string            `json:"tid"`
	ClientID   string            `json:"cid"`
	Type       string            `json:"t"`
	Params     map[string]string `json:"params"`
	ReceivedAt string            `json:"received_at"` // RFC3339Nano
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Total      int            `json:"total"`
	Clients    int            `json:"clients"`
	ByType     map[string]int `json:"by_type"`
	ByTracking map[string]int `json:"by_tracking_id"`
	LastHitAt  string         `json:"last_hit_at,omitempty"` // RFC3339Nano
}

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Stats       StatsResponse `json:"stats"`
	Recent      []HitResponse `json:"recent"`
	GeneratedAt string        `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
