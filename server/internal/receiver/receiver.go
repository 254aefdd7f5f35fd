package receiver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/trackbuf/trackbuf/server/internal/config"
	"github.com/trackbuf/trackbuf/server/internal/store"
)

// requiredParams must be present and non-empty in every hit.
var requiredParams = []string{"v", "tid", "cid", "t"}

// ErrInvalidHit is wrapped by every ParseHit validation failure.
var ErrInvalidHit = errors.New("invalid hit")

// pixel is a 1x1 transparent GIF, the conventional /collect response body.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Limits bounds what a single request may carry.
type Limits struct {
	MaxBatchHits  int
	MaxHitBytes   int
	MaxBatchBytes int
}

// LimitsFromConfig extracts the request limits from cfg.
func LimitsFromConfig(cfg config.CollectorConfig) Limits {
	return Limits{
		MaxBatchHits:  cfg.MaxBatchHits,
		MaxHitBytes:   cfg.MaxHitBytes,
		MaxBatchBytes: cfg.MaxBatchBytes,
	}
}

// Receiver accepts hits over HTTP and stores them.
type Receiver struct {
	store  *store.Store
	limits Limits
	logger *slog.Logger

	// OnStored, if set, is called with every accepted group of hits.
	OnStored func(hits []store.Hit)
}

// New creates a Receiver that writes accepted hits to st.
func New(st *store.Store, limits Limits, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{store: st, limits: limits, logger: logger}
}

// ParseHit decodes one k=v&k=v line into a Hit. Only the first value of a
// repeated key is kept.
func ParseHit(line string) (store.Hit, error) {
	values, err := url.ParseQuery(line)
	if err != nil {
		return store.Hit{}, fmt.Errorf("%w: %v", ErrInvalidHit, err)
	}
	params := make(map[string]string, len(values))
	for k, vs := range values {
		params[k] = vs[0]
	}
	for _, k := range requiredParams {
		if params[k] == "" {
			return store.Hit{}, fmt.Errorf("%w: missing %q", ErrInvalidHit, k)
		}
	}
	return store.Hit{
		TrackingID: params["tid"],
		ClientID:   params["cid"],
		Type:       params["t"],
		Params:     params,
	}, nil
}

// Collect handles GET and POST /collect. GET carries the hit in the query
// string, POST in the body.
func (r *Receiver) Collect(w http.ResponseWriter, req *http.Request) {
	var payload string
	switch req.Method {
	case http.MethodGet:
		payload = req.URL.RawQuery
	case http.MethodPost:
		body, ok := r.readBody(w, req, r.limits.MaxHitBytes)
		if !ok {
			return
		}
		payload = strings.TrimSpace(body)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if len(payload) > r.limits.MaxHitBytes {
		jsonErr(w, http.StatusRequestEntityTooLarge, "hit too large")
		return
	}
	h, err := ParseHit(payload)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	stored := r.store.Add(h)
	r.logger.Debug("receiver: hit stored", "tid", h.TrackingID, "type", h.Type, "seq", stored[0].Seq)
	r.stored(stored)
	writePixel(w)
}

// Batch handles POST /batch: one hit per line. The batch is accepted or
// rejected as a whole.
func (r *Receiver) Batch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, ok := r.readBody(w, req, r.limits.MaxBatchBytes)
	if !ok {
		return
	}

	var lines []string
	for _, l := range strings.Split(body, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		jsonErr(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(lines) > r.limits.MaxBatchHits {
		jsonErr(w, http.StatusBadRequest,
			fmt.Sprintf("batch has %d hits, limit is %d", len(lines), r.limits.MaxBatchHits))
		return
	}

	hits := make([]store.Hit, 0, len(lines))
	for i, l := range lines {
		if len(l) > r.limits.MaxHitBytes {
			jsonErr(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("hit %d too large", i+1))
			return
		}
		h, err := ParseHit(l)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("hit %d: %v", i+1, err))
			return
		}
		hits = append(hits, h)
	}

	stored := r.store.Add(hits...)
	r.logger.Debug("receiver: batch stored", "hits", len(stored))
	r.stored(stored)
	writePixel(w)
}

func (r *Receiver) stored(hits []store.Hit) {
	if r.OnStored != nil {
		r.OnStored(hits)
	}
}

// readBody reads at most limit bytes. On failure it has already written the
// response and returns false.
func (r *Receiver) readBody(w http.ResponseWriter, req *http.Request, limit int) (string, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, int64(limit)))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
			return "", false
		}
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return "", false
	}
	return string(data), true
}

func writePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixel)
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}
