package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookNotifier(t *testing.T) {
	got := make(chan DraftEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var e DraftEvent
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got <- e
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), DraftEvent{
		Type:       EventDraftCreated,
		DraftID:    "d-1",
		Recipients: []string{"carol"},
	})
	require.NoError(t, err)

	e := <-got
	require.Equal(t, "d-1", e.DraftID)
	require.Equal(t, []string{"carol"}, e.Recipients)
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), DraftEvent{Type: EventDraftCreated})
	require.ErrorContains(t, err, "502")
}

func TestLogNotifier(t *testing.T) {
	require.NoError(t, NewLogNotifier(zap.NewNop()).Notify(context.Background(), DraftEvent{Type: EventDraftCreated}))
}
