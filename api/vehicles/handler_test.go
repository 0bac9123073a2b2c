package vehicles

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kilianp07/vda5050/core/protocol"
	vehiclestatus "github.com/kilianp07/vda5050/core/vehiclestatus"
	"github.com/kilianp07/vda5050/model"
)

func seeded() *vehiclestatus.MemoryStore {
	store := vehiclestatus.NewMemoryStore()
	now := time.Now()
	store.SetConnection(protocol.Identity{Manufacturer: "acme", SerialNumber: "v1"}, protocol.ConnectionOnline, now)
	store.UpdateState(protocol.Identity{Manufacturer: "acme", SerialNumber: "v1"}, protocol.Header{HeaderID: 3}, model.State{OrderID: "o1"}, now)
	store.SetConnection(protocol.Identity{Manufacturer: "other", SerialNumber: "v2"}, protocol.ConnectionOffline, now)
	return store
}

func get(t *testing.T, h http.Handler, url string) []vehiclestatus.Status {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var out []vehiclestatus.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestStatusHandler_Basic(t *testing.T) {
	out := get(t, NewStatusHandler(seeded()), StatusPath)
	if len(out) != 2 || out[0].SerialNumber != "v1" || out[0].OrderID != "o1" || out[0].LastHeaderID != 3 {
		t.Fatalf("unexpected output %#v", out)
	}
}

func TestStatusHandler_Filter(t *testing.T) {
	h := NewStatusHandler(seeded())
	out := get(t, h, StatusPath+"?manufacturer=other")
	if len(out) != 1 || out[0].SerialNumber != "v2" {
		t.Fatalf("unexpected filter result %#v", out)
	}
	out = get(t, h, StatusPath+"?connection=ONLINE")
	if len(out) != 1 || out[0].SerialNumber != "v1" {
		t.Fatalf("unexpected connection filter result %#v", out)
	}
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	NewStatusHandler(seeded()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, StatusPath, nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
