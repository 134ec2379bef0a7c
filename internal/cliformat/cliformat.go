// Package cliformat renders a queue turn's streamed responses for a
// foreground invocation (spec §7 "User-visible behavior"): text mode prints
// one line per event, ndjson mode emits the raw response envelopes, quiet
// mode suppresses everything, errors included. Modeled on
// marmos91-dittofs's internal/cli/output.Printer, narrowed to the three
// modes the spec names instead of table/json/yaml.
package cliformat

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/acpx/acpx/internal/queueproto"
	"github.com/acpx/acpx/internal/stringutil"
)

// maxFallbackLineLen bounds a raw-JSON fallback line in text mode so an
// oversized or unrecognized update shape doesn't flood the terminal.
const maxFallbackLineLen = 2000

// Mode is one of the three output modes spec §7 names.
type Mode string

const (
	ModeText   Mode = "text"
	ModeNDJSON Mode = "ndjson"
	ModeQuiet  Mode = "quiet"
)

// ParseMode parses a string into a Mode, defaulting to ModeText.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return ModeText, nil
	case "ndjson", "json":
		return ModeNDJSON, nil
	case "quiet":
		return ModeQuiet, nil
	default:
		return "", fmt.Errorf("invalid output mode: %q (valid: text, ndjson, quiet)", s)
	}
}

// Printer renders the responses a queueclient call streams back.
type Printer struct {
	out  io.Writer
	mode Mode
}

// NewPrinter creates a Printer writing to out in the given mode.
func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{out: out, mode: mode}
}

// OnUpdate handles a non-terminal session_update or client_operation event.
func (p *Printer) OnUpdate(resp queueproto.Response) {
	switch p.mode {
	case ModeNDJSON:
		p.emitJSON(resp)
	case ModeText:
		switch resp.Type {
		case queueproto.ResponseSessionUpdate:
			fmt.Fprintln(p.out, renderSessionUpdate(resp.Notification))
		case queueproto.ResponseClientOperation:
			fmt.Fprintln(p.out, renderClientOperation(resp.Operation))
		}
	case ModeQuiet:
		// suppressed
	}
}

// OnTerminal handles the final done/result/error response for a call.
func (p *Printer) OnTerminal(resp queueproto.Response) {
	if resp.Type == queueproto.ResponseError {
		p.OnError(resp)
		return
	}
	switch p.mode {
	case ModeNDJSON:
		p.emitJSON(resp)
	case ModeText:
		if resp.Type == queueproto.ResponseDone && resp.StopReason != "" {
			fmt.Fprintf(p.out, "[done: %s]\n", resp.StopReason)
		}
	case ModeQuiet:
		// suppressed
	}
}

// OnError renders a terminal error response (spec §7: text prints one line,
// ndjson emits an error event, quiet suppresses).
func (p *Printer) OnError(resp queueproto.Response) {
	switch p.mode {
	case ModeNDJSON:
		p.emitJSON(resp)
	case ModeText:
		fmt.Fprintf(p.out, "error: %s (%s)\n", resp.Message, resp.DetailCode)
	case ModeQuiet:
		// suppressed
	}
}

func (p *Printer) emitJSON(resp queueproto.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(p.out, `{"type":"error","message":%q}`+"\n", err.Error())
		return
	}
	p.out.Write(b)
	fmt.Fprintln(p.out)
}

func renderSessionUpdate(notification any) string {
	m, ok := notification.(map[string]any)
	if !ok {
		return truncatedJSON(notification)
	}
	if kind, ok := m["sessionUpdate"].(string); ok {
		return fmt.Sprintf("[%s]", kind)
	}
	return truncatedJSON(m)
}

func renderClientOperation(operation any) string {
	m, ok := operation.(map[string]any)
	if !ok {
		return truncatedJSON(operation)
	}
	if kind, ok := m["kind"].(string); ok {
		return fmt.Sprintf("[operation: %s]", kind)
	}
	return truncatedJSON(m)
}

func truncatedJSON(v any) string {
	b, _ := json.Marshal(v)
	return stringutil.TruncateStringWithEllipsis(string(b), maxFallbackLineLen)
}
