package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsHooksInReverse(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), nil, 0)

	var order []string
	sm.Register("store", func(context.Context) error {
		order = append(order, "store")
		return nil
	})
	sm.Register("janitor", func(context.Context) error {
		order = append(order, "janitor")
		return errors.New("still running")
	})

	err := sm.Shutdown()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor")
	assert.Equal(t, []string{"janitor", "store"}, order)
}

func TestRecoverMiddleware(t *testing.T) {
	handler := RecoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() { handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil)) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
