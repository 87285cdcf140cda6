package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code and data.
// Encoding failures are logged since the header is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// ErrorResponse is the failure envelope returned by every relay endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   interface{} `json:"error"`
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// RemoteBodier is implemented by errors that carry the decoded upstream error body.
type RemoteBodier interface {
	RemoteBody() interface{}
}

// StatusFor returns the upstream status carried by err, or 500.
func StatusFor(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// ErrorPayload returns the upstream error body when err carries one, else the error message.
func ErrorPayload(err error) interface{} {
	var rb RemoteBodier
	if errors.As(err, &rb) {
		if body := rb.RemoteBody(); body != nil {
			return body
		}
	}
	return err.Error()
}

// WriteError writes the failure envelope. message is the human summary, err the cause.
func WriteError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Success: false, Message: message}
	if err != nil {
		resp.Error = ErrorPayload(err)
	} else {
		resp.Error = message
	}
	WriteJSON(w, status, resp)
}

// WriteFailure writes err with the status it carries.
func WriteFailure(w http.ResponseWriter, message string, err error) {
	WriteError(w, StatusFor(err), message, err)
}
