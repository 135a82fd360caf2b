package api

import (
	"errors"
	"net/http"

	"github.com/jmcleod/agentgate/agent"
)

// AgentChat handles POST /agent/chat by relaying the prompt to the
// configured agent endpoint and returning its status and body verbatim.
func (a *API) AgentChat(w http.ResponseWriter, r *http.Request) {
	if a.agent == nil || !a.agent.Configured() {
		writeError(w, http.StatusInternalServerError, "Airia config missing")
		return
	}
	req, ok := decodeJSON[ChatRequest](w, r, true)
	if !ok {
		return
	}

	resp, err := a.agent.Chat(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, agent.ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "Airia config missing")
			return
		}
		a.logger.Error("agent proxy failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Proxy error calling Airia")
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
