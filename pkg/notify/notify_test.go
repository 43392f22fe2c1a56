package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushoverNotify(t *testing.T) {
	var got pushoverMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPushover(srv.URL, "app-token", "user-key", srv.Client())
	err := p.Notify(context.Background(), "Controller paused", "5 consecutive tick failures")
	require.NoError(t, err)

	assert.Equal(t, "app-token", got.Token)
	assert.Equal(t, "user-key", got.User)
	assert.Equal(t, "Controller paused", got.Title)
	assert.Equal(t, "5 consecutive tick failures", got.Message)
}

func TestPushoverNotifyBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewPushover(srv.URL, "bad", "bad", srv.Client())
	err := p.Notify(context.Background(), "title", "message")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Notify(context.Background(), "title", "message"))
}
