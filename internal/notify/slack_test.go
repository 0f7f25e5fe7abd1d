package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNotify_SendsPayload(t *testing.T) {
	var got payload
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "#chp")
	s.Notify(context.Background(), Alert{
		PostID:    5,
		Permalink: " https://news.example.com/a-story ",
		Title:     "A <b>bold</b> story",
		Error:     "Chp response status: 500",
		ImageID:   42,
		Response:  map[string]any{"status": 500},
	})

	if calls.Load() != 1 {
		t.Fatalf("webhook called %d times, want 1", calls.Load())
	}
	if got.Channel != "#chp" || got.Username != "chpbot" || got.IconEmoji != ":-1:" {
		t.Errorf("payload = %+v", got)
	}
	want := `CHP error: <https://news.example.com/a-story|A bold story> - Chp response status: 500 - IMG ID: 42 {"status":500}`
	if got.Text != want {
		t.Errorf("text =\n%s\nwant\n%s", got.Text, want)
	}
}

func TestNotify_Unconfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	NewSlack(srv.URL, "").Notify(context.Background(), Alert{})
	NewSlack("", "#chp").Notify(context.Background(), Alert{})

	if calls.Load() != 0 {
		t.Errorf("webhook called %d times, want 0", calls.Load())
	}
}

func TestNotify_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "#chp")
	// Must not panic or block.
	s.Notify(context.Background(), Alert{ImageID: 1})

	if err := s.send(context.Background(), Alert{ImageID: 1}); err == nil {
		t.Error("send: expected error for HTTP 500")
	}
}

func TestMessage_EmptyResponse(t *testing.T) {
	s := NewSlack("", "")
	got := s.Message(Alert{Permalink: "u", Title: "T", Error: "No CHP asset_id", ImageID: 3, Response: ""})
	want := `CHP error: <u|T> - No CHP asset_id - IMG ID: 3 ""`
	if got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}
