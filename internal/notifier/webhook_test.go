package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type capturedRequest struct {
	header http.Header
	body   []byte
}

func startReceiver(status int) (*httptest.Server, *capturedRequest, *sync.Mutex) {
	captured := &capturedRequest{}
	mu := &sync.Mutex{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		captured.header = r.Header.Clone()
		captured.body = body
		mu.Unlock()
		w.WriteHeader(status)
	}))
	return srv, captured, mu
}

func TestHTTPSender_Send(t *testing.T) {
	srv, captured, mu := startReceiver(http.StatusOK)
	defer srv.Close()

	sender := NewHTTPSender()
	req := WebhookRequest{
		URL:    srv.URL,
		Secret: "s3cret",
		Event:  EventRunCompleted,
		Payload: WebhookPayload{
			Event:       EventRunCompleted,
			RunID:       "0d9c8a52-6a2f-4a4e-b7a0-000000000001",
			ScheduleID:  "0d9c8a52-6a2f-4a4e-b7a0-000000000002",
			ResultCount: 7,
			OccurredAt:  "2024-03-01T06:00:00Z",
		},
	}

	result := sender.Send(context.Background(), req)
	if !result.IsSuccess() {
		t.Fatalf("Send failed: status=%d err=%v", result.StatusCode, result.Error)
	}

	mu.Lock()
	defer mu.Unlock()

	if got := captured.header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := captured.header.Get("X-ComunicaSync-Event"); got != EventRunCompleted {
		t.Errorf("event header = %q", got)
	}
	if got := captured.header.Get("X-ComunicaSync-Run-ID"); got != req.Payload.RunID {
		t.Errorf("run id header = %q", got)
	}

	sig := captured.header.Get("X-ComunicaSync-Signature")
	if !VerifySignature("s3cret", captured.body, sig) {
		t.Error("signature does not verify against the delivered body")
	}
	if VerifySignature("wrong-secret", captured.body, sig) {
		t.Error("signature must not verify under a different secret")
	}

	var payload WebhookPayload
	if err := json.Unmarshal(captured.body, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload.ResultCount != 7 {
		t.Errorf("delivered result count = %d, want 7", payload.ResultCount)
	}
}

func TestHTTPSender_NonSuccessStatus(t *testing.T) {
	srv, _, _ := startReceiver(http.StatusServiceUnavailable)
	defer srv.Close()

	result := NewHTTPSender().Send(context.Background(), WebhookRequest{URL: srv.URL})
	if result.IsSuccess() {
		t.Error("503 must not count as success")
	}
	if result.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", result.StatusCode)
	}
}

func TestHTTPSender_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	result := NewHTTPSender().Send(context.Background(), WebhookRequest{
		URL:     srv.URL,
		Timeout: 50 * time.Millisecond,
	})
	if result.Error == nil {
		t.Error("expected a timeout error")
	}
}

func TestHTTPSender_UnreachableEndpoint(t *testing.T) {
	result := NewHTTPSender().Send(context.Background(), WebhookRequest{
		URL:     "http://127.0.0.1:0/hook",
		Timeout: time.Second,
	})
	if result.Error == nil {
		t.Error("expected a transport error")
	}
}

func TestComputeSignature_Deterministic(t *testing.T) {
	body := []byte(`{"event":"run.completed"}`)
	a := ComputeSignature("secret", body)
	b := ComputeSignature("secret", body)
	if a != b {
		t.Error("same secret and body must produce the same signature")
	}
	if c := ComputeSignature("other", body); c == a {
		t.Error("different secrets must produce different signatures")
	}
}
