package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSend(t *testing.T) {
	t.Parallel()

	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "sidekick-alerts", nil)
	if err := c.Send(context.Background(), "Meeting booked ✅"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotPath != "/sidekick-alerts" || gotType != "text/plain" || gotBody != "Meeting booked ✅" {
		t.Fatalf("unexpected request path=%q type=%q body=%q", gotPath, gotType, gotBody)
	}
}

func TestSendNotConfigured(t *testing.T) {
	t.Parallel()

	c := New("", "", nil)
	if err := c.Send(context.Background(), "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	out, err := c.Tool().Call(context.Background(), json.RawMessage(`{"text":"hi"}`))
	if err != nil || out != "error: NTFY_TOPIC not configured" {
		t.Fatalf("unexpected tool output %q err=%v", out, err)
	}
}

func TestToolReportsSuccessAndHTTPFailure(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	tool := New(srv.URL, "topic", nil).Tool()
	out, _ := tool.Call(context.Background(), json.RawMessage(`{"text":"done"}`))
	if out != "success" {
		t.Fatalf("expected success, got %q", out)
	}

	status.Store(http.StatusTooManyRequests)
	out, _ = tool.Call(context.Background(), json.RawMessage(`{"text":"again"}`))
	if out == "success" {
		t.Fatal("expected failure text for 429")
	}
}
