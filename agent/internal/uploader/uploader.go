package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/trackbuf/trackbuf/agent/internal/config"
	"github.com/trackbuf/trackbuf/agent/internal/record"
)

// maxDrainBytes bounds how much of a response body is read before closing,
// so keep-alive connections can be reused without trusting the peer.
const maxDrainBytes = 64 << 10

// Outcome classifies a single upload attempt.
type Outcome int

const (
	// Skipped means no request was issued: the batch was empty or another
	// upload was already in flight.
	Skipped Outcome = iota
	// Delivered means the collector accepted the whole batch.
	Delivered
	// Failed means a transport error or any non-2xx status; the batch
	// stays queued.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result reports what happened to one batch. Records is the batch that was
// sent, set for every outcome except Skipped.
type Result struct {
	Outcome Outcome
	Records []record.Record
	Status  int
	Err     error
}

// Uploader turns a batch into one request against the collector.
// At most one Upload is in flight at a time; concurrent callers get Skipped.
type Uploader struct {
	base   *url.URL
	client *http.Client
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// New creates an Uploader for cfg.CollectorURL with auth and TLS settings
// taken from cfg.
func New(cfg config.AgentConfig, logger *slog.Logger) (*Uploader, error) {
	base, err := url.Parse(cfg.CollectorURL)
	if err != nil {
		return nil, fmt.Errorf("uploader: parse collector url: %w", err)
	}
	client, err := buildHTTPClient(cfg.CollectorAuth, cfg.TLS, cfg.UploadTimeout)
	if err != nil {
		return nil, fmt.Errorf("uploader: build http client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		base:   base,
		client: client,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}, nil
}

// Busy reports whether an upload is currently in flight. The answer may be
// stale by the time the caller acts on it; Upload itself is the authority.
func (u *Uploader) Busy() bool {
	if u.sem.TryAcquire(1) {
		u.sem.Release(1)
		return false
	}
	return true
}

// Upload sends batch as a single request. A one-record batch is sent as a
// GET to /collect with the payload in the query string; larger batches are
// POSTed to /batch, one encoded payload per line.
//
// The in-flight slot is released when the request completes, fails or ctx
// is cancelled.
func (u *Uploader) Upload(ctx context.Context, batch []record.Record) Result {
	if len(batch) == 0 {
		return Result{Outcome: Skipped}
	}
	if !u.sem.TryAcquire(1) {
		u.logger.Debug("uploader: upload already in flight, skipping", "batch", len(batch))
		return Result{Outcome: Skipped}
	}
	defer u.sem.Release(1)

	req, err := u.newRequest(ctx, batch)
	if err != nil {
		return Result{Outcome: Failed, Records: batch, Err: err}
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return Result{Outcome: Failed, Records: batch, Err: fmt.Errorf("uploader: %s %s: %w", req.Method, req.URL.Path, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	res := Result{Outcome: classify(resp.StatusCode), Records: batch, Status: resp.StatusCode}
	if res.Outcome != Delivered {
		res.Err = fmt.Errorf("uploader: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	u.logger.Debug("uploader: batch sent",
		"records", len(batch),
		"status", resp.StatusCode,
		"outcome", res.Outcome.String(),
	)
	return res
}

func (u *Uploader) newRequest(ctx context.Context, batch []record.Record) (*http.Request, error) {
	if len(batch) == 1 {
		target := u.base.JoinPath(collectPath)
		target.RawQuery = EncodeQuery(batch[0].Payload)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("uploader: build collect request: %w", err)
		}
		return req, nil
	}

	target := u.base.JoinPath(batchPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(BatchBody(batch)))
	if err != nil {
		return nil, fmt.Errorf("uploader: build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return req, nil
}

// classify maps an HTTP status to an Outcome. Only 2xx delivers; every
// other status, 4xx included, leaves the batch queued.
func classify(status int) Outcome {
	if status >= 200 && status < 300 {
		return Delivered
	}
	return Failed
}
