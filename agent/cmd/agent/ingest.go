package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/trackbuf/trackbuf/agent/reporter"
)

// inputHit is one line of -stdin input, for example
//
//	{"type":"event","category":"ui","action":"tap","label":"buy"}
//	{"type":"screenView","name":"Home","params":{"cd1":"beta"}}
type inputHit struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Action      string            `json:"action"`
	Label       string            `json:"label"`
	Description string            `json:"description"`
	Fatal       bool              `json:"fatal"`
	Params      map[string]string `json:"params"`
}

// ingest reads JSON-lines hits from r until EOF or ctx is done and reports
// each through rep. Malformed lines are logged and skipped. It returns the
// number of hits reported.
func ingest(ctx context.Context, r io.Reader, rep *reporter.Reporter, logger *slog.Logger) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	n, line := 0, 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var h inputHit
		if err := json.Unmarshal(raw, &h); err != nil {
			logger.Warn("ingest: skipping malformed line", "line", line, "err", err)
			continue
		}
		if err := report(rep, h); err != nil {
			logger.Warn("ingest: skipping line", "line", line, "err", err)
			continue
		}
		n++
	}
	return n, sc.Err()
}

func report(rep *reporter.Reporter, h inputHit) error {
	switch h.Type {
	case reporter.HitScreenView:
		rep.ScreenView(h.Name, h.Params)
	case reporter.HitEvent:
		rep.Event(h.Category, h.Action, h.Label, h.Params)
	case reporter.HitTiming:
		rep.Timing(h.Category, h.Name, h.Label, h.Params)
	case reporter.HitException:
		rep.Exception(h.Description, h.Fatal, h.Params)
	case "":
		return fmt.Errorf("missing type")
	default:
		rep.Send(h.Type, h.Params)
	}
	return nil
}
