package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Stream отдаёт уведомления пользователя через Server-Sent Events.
// Клиент держит соединение открытым; медленные клиенты теряют события,
// чтобы не блокировать публикацию.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID := callerID(w, r)
	if userID == "" {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": stream started\n\n")
	flusher.Flush()

	ch := a.hub.Subscribe(r.Context(), userID)
	for n := range ch {
		payload, err := json.Marshal(n)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}
