package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// serveJSON marshals v and sets the content-type header to
// 'application/json'. If a different status code is required, call
// ResponseWriter.WriteHeader before this function.
func serveJSON(w http.ResponseWriter, v interface{}) error {
	p, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(p)))
	_, err = w.Write(p)
	return err
}

// serveText completes the request with a plain text message.
func serveText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// serveStatus completes the request with the standard text of status.
func serveStatus(w http.ResponseWriter, status int) {
	serveText(w, status, http.StatusText(status))
}
