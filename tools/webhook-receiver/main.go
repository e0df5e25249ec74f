// webhook-receiver is a local sink for comunicasync webhook deliveries.
// Point a webhook endpoint at http://localhost:8080/hook and inspect
// what arrives via /stats. Set WEBHOOK_SECRET to verify signatures.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type request struct {
	Timestamp      string            `json:"timestamp"`
	Event          string            `json:"event,omitempty"`
	RunID          string            `json:"run_id,omitempty"`
	SignatureValid *bool             `json:"signature_valid,omitempty"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
}

type stats struct {
	Count        int64     `json:"count"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	lastRequests []request
	since        time.Time
	maxStored    = 50
	secret       string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("WEBHOOK_SECRET")

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	if secret != "" {
		log.Println("webhook-receiver: verifying X-ComunicaSync-Signature")
	}
	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     r.Header.Get("X-ComunicaSync-Event"),
		RunID:     r.Header.Get("X-ComunicaSync-Run-ID"),
		Headers:   headers,
		Body:      string(body),
	}

	if secret != "" {
		valid := verifySignature(secret, body, r.Header.Get("X-ComunicaSync-Signature"))
		req.SignatureValid = &valid
		if !valid {
			log.Printf("webhook-receiver: BAD SIGNATURE on %s run=%s", req.Event, req.RunID)
		}
	}

	mu.Lock()
	count++
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("hook received #%d %s run=%s: %s", current, req.Event, req.RunID, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
