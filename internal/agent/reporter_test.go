package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/fleetguard/internal/models"
)

type fakeSender struct {
	mu         sync.Mutex
	heartbeats []*models.Heartbeat
	err        error
}

func (f *fakeSender) SendHeartbeat(ctx context.Context, hb *models.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.heartbeats = append(f.heartbeats, hb)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeats)
}

func TestSendOnceBuildsHeartbeat(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(sender, NewCollector(), "machine-001", "2.4.1", time.Minute, zerolog.Nop())

	if err := r.SendOnce(context.Background()); err != nil {
		t.Fatalf("send once: %v", err)
	}

	if sender.count() != 1 {
		t.Fatalf("expected 1 heartbeat, got %d", sender.count())
	}
	hb := sender.heartbeats[0]
	if hb.UniqueIdentifier != "machine-001" {
		t.Errorf("unexpected identifier %q", hb.UniqueIdentifier)
	}
	if hb.Status != models.DeviceStatusOnline {
		t.Errorf("unexpected status %q", hb.Status)
	}
	if hb.AppVersion != "2.4.1" {
		t.Errorf("unexpected app version %q", hb.AppVersion)
	}
	if hb.Metrics == nil {
		t.Fatal("expected metrics to be collected")
	}
}

func TestSendOnceRecordsLatency(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(sender, NewCollector(), "machine-001", "", time.Minute, zerolog.Nop())

	if err := r.SendOnce(context.Background()); err != nil {
		t.Fatalf("first send: %v", err)
	}
	// Latency from the first round trip shows up on the second heartbeat.
	if sender.heartbeats[0].Metrics.LatencyMs != 0 {
		t.Errorf("first heartbeat should have zero latency, got %f", sender.heartbeats[0].Metrics.LatencyMs)
	}

	if err := r.SendOnce(context.Background()); err != nil {
		t.Fatalf("second send: %v", err)
	}

	r.mu.Lock()
	recorded := r.lastLatency
	r.mu.Unlock()
	if recorded <= 0 {
		t.Error("expected round-trip latency to be recorded")
	}
}

func TestClientSendHeartbeat(t *testing.T) {
	var gotKey string
	var gotBody models.Heartbeat
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/heartbeat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "fg_test_key")
	hb := &models.Heartbeat{
		UniqueIdentifier: "machine-001",
		Status:           models.DeviceStatusOnline,
	}
	if err := client.SendHeartbeat(context.Background(), hb); err != nil {
		t.Fatalf("send heartbeat: %v", err)
	}

	if gotKey != "fg_test_key" {
		t.Errorf("expected API key header, got %q", gotKey)
	}
	if gotBody.UniqueIdentifier != "machine-001" {
		t.Errorf("unexpected identifier %q", gotBody.UniqueIdentifier)
	}
}

func TestClientSendHeartbeatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device is blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	hb := &models.Heartbeat{UniqueIdentifier: "machine-001", Status: models.DeviceStatusOnline}
	if err := client.SendHeartbeat(context.Background(), hb); err == nil {
		t.Fatal("expected error on 403 response")
	}
}
