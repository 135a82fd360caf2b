package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs err and answers with msg only.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// errorCase is the client response for one sentinel error.
type errorCase struct {
	target error
	status int
	msg    string
}

// mapError answers with the first case err matches. Anything else is logged
// and reported as a 500 carrying fallback.
func mapError(w http.ResponseWriter, err error, fallback string, cases ...errorCase) {
	for _, c := range cases {
		if errors.Is(err, c.target) {
			writeError(w, c.status, c.msg)
			return
		}
	}
	writeInternalError(w, fallback, err)
}

// decodeJSON reads a size-limited JSON body into T. An empty body decodes
// to the zero value when allowEmpty is set.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, allowEmpty bool) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return v, true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return v, false
	}
	return v, true
}
