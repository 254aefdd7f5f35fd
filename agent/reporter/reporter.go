package reporter

import (
	"errors"
	"log/slog"
	"maps"
	"strconv"

	"github.com/trackbuf/trackbuf/agent/internal/envinfo"
	"github.com/trackbuf/trackbuf/agent/internal/record"
)

// ErrMissingTrackingID is returned by New when no tracking id is given.
var ErrMissingTrackingID = errors.New("reporter: tracking id is required (UA-XXXXX-XX)")

// Hit types sent in the t parameter.
const (
	HitScreenView = "screenView"
	HitEvent      = "event"
	HitTiming     = "timing"
	HitException  = "exception"
)

const protocolVersion = "1"

// Sink accepts finished records. Enqueue must not block on I/O.
type Sink interface {
	Enqueue(r record.Record)
}

// Reporter builds hit records. It is safe for concurrent use.
type Reporter struct {
	trackingID string
	env        envinfo.Info
	sink       Sink
	gen        *record.Generator
	logger     *slog.Logger
	level      *slog.LevelVar
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger used for per-hit diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithLevel shares a level variable with the rest of the process so that
// SetQuiet changes logging everywhere at once.
func WithLevel(lv *slog.LevelVar) Option {
	return func(r *Reporter) { r.level = lv }
}

// WithGenerator overrides the record id source.
func WithGenerator(g *record.Generator) Option {
	return func(r *Reporter) { r.gen = g }
}

// New returns a Reporter for trackingID. Quiet mode starts on.
func New(trackingID string, env envinfo.Info, sink Sink, opts ...Option) (*Reporter, error) {
	if trackingID == "" {
		return nil, ErrMissingTrackingID
	}
	r := &Reporter{
		trackingID: trackingID,
		env:        env,
		sink:       sink,
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.gen == nil {
		r.gen = record.NewGenerator()
	}
	if r.level == nil {
		r.level = new(slog.LevelVar)
		r.level.Set(slog.LevelWarn)
	}
	return r, nil
}

// SetQuiet toggles diagnostic logging: WARN and above when quiet, DEBUG
// otherwise.
func (r *Reporter) SetQuiet(quiet bool) {
	r.level.Set(LevelFor(quiet))
}

// Quiet reports whether diagnostics are suppressed.
func (r *Reporter) Quiet() bool {
	return r.level.Level() > slog.LevelDebug
}

// LevelFor maps the quiet flag to a log level.
func LevelFor(quiet bool) slog.Level {
	if quiet {
		return slog.LevelWarn
	}
	return slog.LevelDebug
}

// ScreenView reports that the screen name was shown.
func (r *Reporter) ScreenView(name string, params map[string]string) {
	r.Send(HitScreenView, withFields(params, map[string]string{"cd": name}))
}

// Event reports a user interaction.
func (r *Reporter) Event(category, action, label string, params map[string]string) {
	r.Send(HitEvent, withFields(params, map[string]string{
		"ec": category,
		"ea": action,
		"el": label,
	}))
}

// Timing reports a measured duration. The value goes in params as utt.
func (r *Reporter) Timing(category, name, label string, params map[string]string) {
	r.Send(HitTiming, withFields(params, map[string]string{
		"utc": category,
		"utv": name,
		"utl": label,
	}))
}

// Exception reports an error seen by the app.
func (r *Reporter) Exception(description string, fatal bool, params map[string]string) {
	r.Send(HitException, withFields(params, map[string]string{
		"exd": description,
		"exf": strconv.FormatBool(fatal),
	}))
}

// Send builds a hit of hitType from the base fields and params and hands it
// to the sink. Keys in params override base fields. It returns the record.
func (r *Reporter) Send(hitType string, params map[string]string) record.Record {
	payload := r.baseFields(hitType)
	if _, ok := params["v"]; !ok {
		payload["v"] = protocolVersion
	}
	maps.Copy(payload, params)

	rec := r.gen.New(payload)
	r.sink.Enqueue(rec)
	r.logger.Debug("reporter: hit enqueued", "type", payload["t"], "id", rec.ID)
	return rec
}

func (r *Reporter) baseFields(hitType string) map[string]string {
	return map[string]string{
		"tid": r.trackingID,
		"aid": r.env.AppID,
		"cid": r.env.ClientID,
		"an":  r.env.AppName,
		"av":  r.env.FormattedVersion(),
		"ua":  r.env.UserAgent,
		"ul":  r.env.Language,
		"sr":  r.env.ScreenResolution,
		"t":   hitType,
	}
}

// withFields returns params with fields layered on top. params is not modified.
func withFields(params, fields map[string]string) map[string]string {
	out := make(map[string]string, len(params)+len(fields))
	maps.Copy(out, params)
	maps.Copy(out, fields)
	return out
}
