package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]string{"pms1_status": "ok"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"pms1_status":"ok"}`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
	}{
		{"bad request", BadRequest, http.StatusBadRequest},
		{"internal", InternalServerError, http.StatusInternalServerError},
		{"unavailable", Unavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, "no row yet")
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, `{"error":"no row yet"}`, rec.Body.String())
		})
	}
}
