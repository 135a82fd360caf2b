package api

import "net/http"

// SessionCounter reports the number of live realtime sessions.
type SessionCounter interface {
	SessionCount() int
}

// Health handles GET /health. sessions may be nil.
func Health(sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if sessions != nil {
			resp.Sessions = sessions.SessionCount()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
