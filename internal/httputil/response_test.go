package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreamErr struct {
	status int
	body   interface{}
}

func (e *upstreamErr) Error() string           { return fmt.Sprintf("upstream %d", e.status) }
func (e *upstreamErr) StatusCode() int         { return e.status }
func (e *upstreamErr) RemoteBody() interface{} { return e.body }

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   interface{}
	}{
		{name: "map", status: http.StatusOK, data: map[string]string{"message": "success"}},
		{name: "struct", status: http.StatusCreated, data: struct{ ID string }{"123"}},
		{name: "slice", status: http.StatusOK, data: []string{"one", "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var result interface{}
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		})
	}
}

func TestWriteJSON_InvalidData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, make(chan int))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(&upstreamErr{status: 422}))
	assert.Equal(t, http.StatusBadGateway, StatusFor(fmt.Errorf("wrapped: %w", &upstreamErr{status: 502})))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(&upstreamErr{status: 0}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}

func TestWriteFailure_RemoteBody(t *testing.T) {
	body := map[string]interface{}{"errors": []interface{}{map[string]interface{}{"detail": "bad email"}}}
	w := httptest.NewRecorder()

	WriteFailure(w, "Failed to create event", &upstreamErr{status: 400, body: body})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Failed to create event", resp["message"])
	assert.Contains(t, resp["error"], "errors")
}

func TestWriteFailure_LocalMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteFailure(w, "Failed to fetch events", errors.New("connection refused"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "connection refused", resp.Error)
}

func TestWriteError_NilCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusNotFound, "Metric not found", nil)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Metric not found", resp.Error)
}
