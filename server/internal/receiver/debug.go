package receiver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// knownHitTypes are the t values the collector understands.
var knownHitTypes = map[string]bool{
	"pageview": true, "screenview": true, "screenView": true, "event": true,
	"transaction": true, "item": true, "social": true, "exception": true, "timing": true,
}

// ParserMessage is one finding about a hit or request.
type ParserMessage struct {
	// MessageType is "ERROR", "WARN" or "INFO".
	MessageType string `json:"messageType"`
	Description string `json:"description"`
	// MessageCode is a stable machine-readable identifier.
	MessageCode string `json:"messageCode,omitempty"`
	Parameter   string `json:"parameter,omitempty"`
}

// HitResult is the validation verdict for one hit.
type HitResult struct {
	Valid         bool            `json:"valid"`
	ParserMessage []ParserMessage `json:"parserMessage"`
	Hit           string          `json:"hit"`
}

// DebugResponse is the body of /debug/collect and /debug/batch.
type DebugResponse struct {
	HitParsingResult []HitResult    `json:"hitParsingResult"`
	ParserMessage    []ParserMessage `json:"parserMessage"`
}

// Debug validates hits without storing them. It serves GET and POST
// /debug/collect (one hit) and POST /debug/batch (one hit per line) and
// always answers 200 with a DebugResponse.
func (r *Receiver) Debug(w http.ResponseWriter, req *http.Request) {
	var lines []string
	switch {
	case req.Method == http.MethodGet:
		lines = []string{req.URL.RawQuery}
	case req.Method == http.MethodPost:
		body, ok := r.readBody(w, req, r.limits.MaxBatchBytes)
		if !ok {
			return
		}
		for _, l := range strings.Split(body, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		if !strings.HasSuffix(req.URL.Path, "/batch") && len(lines) > 1 {
			lines = lines[:1]
		}
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := DebugResponse{HitParsingResult: make([]HitResult, 0, len(lines))}
	for _, l := range lines {
		resp.HitParsingResult = append(resp.HitParsingResult, r.validate(l))
	}
	resp.ParserMessage = append(resp.ParserMessage, ParserMessage{
		MessageType: "INFO",
		Description: fmt.Sprintf("Found %d hit(s) in the request.", len(lines)),
	})
	if len(lines) > r.limits.MaxBatchHits {
		resp.ParserMessage = append(resp.ParserMessage, ParserMessage{
			MessageType: "ERROR",
			Description: fmt.Sprintf("A batch may carry at most %d hits.", r.limits.MaxBatchHits),
			MessageCode: "BATCH_TOO_LARGE",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// validate derives findings for one hit. Errors come first, then warnings.
func (r *Receiver) validate(line string) HitResult {
	var errs, warns []ParserMessage
	add := func(list *[]ParserMessage, typ, code, param, desc string) {
		*list = append(*list, ParserMessage{MessageType: typ, MessageCode: code, Parameter: param, Description: desc})
	}

	if len(line) > r.limits.MaxHitBytes {
		add(&errs, "ERROR", "HIT_TOO_LARGE", "",
			fmt.Sprintf("The hit is %d bytes; the limit is %d.", len(line), r.limits.MaxHitBytes))
	}

	values, err := url.ParseQuery(line)
	if err != nil {
		add(&errs, "ERROR", "MALFORMED_QUERY", "",
			fmt.Sprintf("The hit could not be decoded: %v.", err))
	}

	for _, k := range requiredParams {
		if values.Get(k) == "" {
			add(&errs, "ERROR", "VALUE_REQUIRED", k,
				fmt.Sprintf("A value is required for parameter '%s'.", k))
		}
	}
	if v := values.Get("v"); v != "" && v != "1" {
		add(&errs, "ERROR", "VALUE_INVALID", "v",
			fmt.Sprintf("The value provided for parameter 'v' is invalid: '%s'. Please see the protocol reference.", v))
	}
	if t := values.Get("t"); t != "" && !knownHitTypes[t] {
		add(&warns, "WARN", "VALUE_UNKNOWN", "t",
			fmt.Sprintf("Hit type '%s' is not recognised; the hit will be stored but not aggregated.", t))
	}
	if values.Get("aid") != "" && values.Get("an") == "" {
		add(&warns, "WARN", "VALUE_RECOMMENDED", "an",
			"App hits should carry an app name ('an').")
	}
	if exf := values.Get("exf"); exf != "" {
		switch exf {
		case "true", "false", "1", "0":
		default:
			add(&warns, "WARN", "VALUE_INVALID", "exf",
				fmt.Sprintf("Parameter 'exf' should be a boolean, got '%s'.", exf))
		}
	}
	for k, vs := range values {
		if len(vs) > 1 {
			add(&warns, "WARN", "VALUE_DUPLICATED", k,
				fmt.Sprintf("Parameter '%s' appears %d times; only the first value is kept.", k, len(vs)))
		}
	}

	msgs := append(errs, warns...)
	if msgs == nil {
		msgs = []ParserMessage{}
	}
	return HitResult{
		Valid:         len(errs) == 0,
		ParserMessage: msgs,
		Hit:           "/collect?" + line,
	}
}
