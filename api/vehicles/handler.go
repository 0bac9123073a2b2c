package vehicles

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/vda5050/core/protocol"
	vehiclestatus "github.com/kilianp07/vda5050/core/vehiclestatus"
)

// StatusPath is where the controller mounts NewStatusHandler.
const StatusPath = "/api/vehicles/status"

// NewStatusHandler returns an HTTP handler exposing the fleet registry via GET /api/vehicles/status.
func NewStatusHandler(store vehiclestatus.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f := vehiclestatus.Filter{
			Manufacturer: r.URL.Query().Get("manufacturer"),
			Connection:   protocol.ConnectionState(r.URL.Query().Get("connection")),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(store.List(f)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
