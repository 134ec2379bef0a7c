package cliformat

import (
	"bytes"
	"strings"
	"testing"

	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/queueproto"
)

func TestParseModeDefaultsToText(t *testing.T) {
	mode, err := ParseMode("")
	if err != nil || mode != ModeText {
		t.Fatalf("expected text, got %q err=%v", mode, err)
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	if _, err := ParseMode("xml"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestTextPrinterRendersDoneAndError(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeText)

	p.OnTerminal(queueproto.Response{Type: queueproto.ResponseDone, StopReason: "end_turn"})
	if !strings.Contains(buf.String(), "end_turn") {
		t.Fatalf("expected stop reason in output, got %q", buf.String())
	}

	buf.Reset()
	p.OnError(queueproto.Response{Type: queueproto.ResponseError, Message: "boom", DetailCode: "QUEUE_RUNTIME_PROMPT_FAILED"})
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("expected error message in output, got %q", buf.String())
	}
}

func TestNDJSONPrinterEmitsRawEnvelope(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeNDJSON)
	p.OnTerminal(queueproto.Response{Type: queueproto.ResponseResult, RequestID: "r1"})
	if !strings.Contains(buf.String(), `"requestId":"r1"`) {
		t.Fatalf("expected json envelope, got %q", buf.String())
	}
}

func TestQuietPrinterSuppressesOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeQuiet)
	p.OnUpdate(queueproto.Response{Type: queueproto.ResponseSessionUpdate})
	p.OnError(queueproto.Response{Type: queueproto.ResponseError, Message: "boom"})
	if buf.Len() != 0 {
		t.Fatalf("expected no output in quiet mode, got %q", buf.String())
	}
}

func TestTextPrinterTruncatesOversizedFallbackPayload(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeText)

	huge := strings.Repeat("x", maxFallbackLineLen*2)
	p.OnUpdate(queueproto.Response{
		Type:         queueproto.ResponseSessionUpdate,
		Notification: map[string]any{"blob": huge},
	})
	if got := buf.Len(); got >= len(huge) {
		t.Fatalf("expected truncated output, got %d bytes", got)
	}
	if !strings.Contains(buf.String(), "...") {
		t.Fatalf("expected ellipsis marker in truncated output, got %q", buf.String())
	}
}

func TestExitCodeForResponse(t *testing.T) {
	cases := []struct {
		name string
		resp queueproto.Response
		want int
	}{
		{"success result", queueproto.Response{Type: queueproto.ResponseResult}, constants.ExitSuccess},
		{"refusal", queueproto.Response{Type: queueproto.ResponseDone, StopReason: "refusal"}, constants.ExitPermissionDenied},
		{"not accepting", queueproto.Response{Type: queueproto.ResponseError, DetailCode: queueproto.DetailNotAcceptingRequests}, constants.ExitTimeout},
		{"generic error", queueproto.Response{Type: queueproto.ResponseError, DetailCode: "QUEUE_RUNTIME_PROMPT_FAILED"}, constants.ExitGenericError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCodeForResponse(tc.resp); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
