package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatcore/metrics"
)

// NewRouter serves the relay's http side: health, metrics, room listing and
// the websocket gateway.
func NewRouter(service *ChatStreamService, limiter *ClientInterceptor) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/rooms", HandleRooms(service)).Methods(http.MethodGet)
	r.HandleFunc("/ws/{channel}", HandleWebSocket(service, limiter))
	return r
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func HandleRooms(service *ChatStreamService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(service.ListRooms(r.Context())); err != nil {
			service.log.Warn().Err(err).Msg("encode room list")
		}
	}
}
