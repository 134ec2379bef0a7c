package queueproto

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTripRequest(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)
	req := Request{Type: RequestSubmitPrompt, RequestID: "r1", Message: "hello", WaitForCompletion: true}
	if err := w.WriteRequest(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewLineReader(&buf)
	got, err := r.ReadRequest()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != req {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, req)
	}
}

func TestReadRequestEOF(t *testing.T) {
	r := NewLineReader(bytes.NewReader(nil))
	if _, err := r.ReadRequest(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadRequestInvalidJSON(t *testing.T) {
	r := NewLineReader(bytes.NewBufferString("not json\n"))
	if _, err := r.ReadRequest(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMultipleResponsesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)
	_ = w.WriteResponse(Accepted("r1"))
	cancelled := true
	_ = w.WriteResponse(Response{Type: ResponseCancelResult, RequestID: "r1", Cancelled: &cancelled})

	r := NewLineReader(&buf)
	first, err := r.ReadResponse()
	if err != nil || first.Type != ResponseAccepted {
		t.Fatalf("first response: %+v, err %v", first, err)
	}
	second, err := r.ReadResponse()
	if err != nil || second.Type != ResponseCancelResult || !*second.Cancelled {
		t.Fatalf("second response: %+v, err %v", second, err)
	}
}
