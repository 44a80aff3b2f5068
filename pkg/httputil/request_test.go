package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginBody struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	Tier     string `json:"tier" validate:"omitempty,oneof=FREE PRO"`
}

func jsonRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestParseJSON(t *testing.T) {
	var dest loginBody
	require.NoError(t, ParseJSON(jsonRequest(`{"email":"a@b.c","password":"pw"}`), &dest))
	assert.Equal(t, "a@b.c", dest.Email)
}

func TestParseJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, "request body is required"},
		{"bad json", `{"email":`, "invalid JSON"},
		{"missing field", `{"email":"a@b.c"}`, "password is required"},
		{"bad enum", `{"email":"a","password":"b","tier":"GOLD"}`, "tier must be one of: FREE PRO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dest loginBody
			err := ParseJSON(jsonRequest(tt.body), &dest)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseJSONOrError_Writes400(t *testing.T) {
	rec := httptest.NewRecorder()
	var dest loginBody
	ok := ParseJSONOrError(rec, jsonRequest(`{}`), &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"email is required"}`, rec.Body.String())
}

func TestParsePathInt64(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "42"})
	id, err := ParsePathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	r = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "x"})
	rec := httptest.NewRecorder()
	_, ok := ParsePathInt64OrError(rec, r, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
