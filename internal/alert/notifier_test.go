package alert_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/alert"
)

func TestNotify_deliversSignedEvent(t *testing.T) {
	type received struct {
		body      []byte
		signature string
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, signature: r.Header.Get("X-Ledger-Signature")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	secret := "0badc0de"
	n := alert.NewNotifier([]alert.Target{{URL: srv.URL, Secret: secret}}, zap.NewNop())

	n.Notify(context.Background(), "flight.tampered", map[string]string{
		"mission_id":             "OP-9",
		"first_divergence_index": "17",
	})

	var rec received
	select {
	case rec = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never arrived")
	}

	var event alert.Event
	if err := json.Unmarshal(rec.body, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Type != "flight.tampered" {
		t.Errorf("event type = %q, want flight.tampered", event.Type)
	}
	if event.Payload["mission_id"] != "OP-9" {
		t.Errorf("payload mission_id = %q", event.Payload["mission_id"])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rec.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if rec.signature != want {
		t.Errorf("signature = %q, want %q", rec.signature, want)
	}
}

func TestNotify_fansOutToAllTargets(t *testing.T) {
	hits := make(chan string, 2)
	mkServer := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits <- name
			w.WriteHeader(http.StatusOK)
		}))
	}
	a := mkServer("a")
	defer a.Close()
	b := mkServer("b")
	defer b.Close()

	n := alert.NewNotifier([]alert.Target{
		{URL: a.URL, Secret: "s1"},
		{URL: b.URL, Secret: "s2"},
	}, zap.NewNop())

	n.Notify(context.Background(), "flight.verify_error", map[string]string{"mission_id": "OP-1"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-hits:
			seen[name] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 2 deliveries arrived", i)
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("deliveries = %v, want both targets", seen)
	}
}

func TestNotify_retriesAfterShortDelay(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	outcomes := make(chan bool, 4)
	n := alert.NewNotifier([]alert.Target{{URL: srv.URL, Secret: "s"}}, zap.NewNop())
	n.SetMetricsRecorder(func(success bool) { outcomes <- success })

	n.Notify(context.Background(), "flight.tampered", map[string]string{"mission_id": "OP-3"})

	want := []bool{false, true}
	for i, wantOK := range want {
		select {
		case ok := <-outcomes:
			if ok != wantOK {
				t.Errorf("attempt %d success = %v, want %v", i+1, ok, wantOK)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("attempt %d never happened", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	// The first retry backs off one second, not the longer later delay.
	if gap := attempts[1].Sub(attempts[0]); gap < 500*time.Millisecond || gap > 3*time.Second {
		t.Errorf("first retry after %v, want about 1s", gap)
	}
}

func TestNotify_noTargetsIsNoop(t *testing.T) {
	n := alert.NewNotifier(nil, zap.NewNop())
	// Must not panic or block.
	n.Notify(context.Background(), "flight.tampered", nil)
}

func TestNotify_recordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	outcomes := make(chan bool, 1)
	n := alert.NewNotifier([]alert.Target{{URL: srv.URL, Secret: "s"}}, zap.NewNop())
	n.SetMetricsRecorder(func(success bool) { outcomes <- success })

	n.Notify(context.Background(), "flight.tampered", map[string]string{"mission_id": "OP-2"})

	select {
	case ok := <-outcomes:
		if !ok {
			t.Error("delivery recorded as failure, want success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("metrics callback never fired")
	}
}
