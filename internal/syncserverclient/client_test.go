package syncserverclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcus/cardsync/internal/wire"
)

func TestPushSendsAuthorizationAndBody(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	var gotBody wire.PushBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(wire.PushResponse{Decks: []wire.Ack{{ID: "d1", SyncVersion: 2}}})
	}))
	defer server.Close()

	c := New(server.URL, "secret-key")
	resp, err := c.Push(context.Background(), wire.PushBody{Decks: []wire.Deck{{ID: "d1"}}})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/sync/push" {
		t.Fatalf("method=%s path=%s, want POST /v1/sync/push", gotMethod, gotPath)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("Authorization = %q, want Bearer secret-key", gotAuth)
	}
	if len(gotBody.Decks) != 1 || gotBody.Decks[0].ID != "d1" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if len(resp.Decks) != 1 || resp.Decks[0].SyncVersion != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPullSendsWatermarkAsQueryParam(t *testing.T) {
	var gotMethod, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.Query().Get("since")
		json.NewEncoder(w).Encode(wire.PullResult{CurrentSyncVersion: 9})
	}))
	defer server.Close()

	c := New(server.URL, "")
	result, err := c.Pull(context.Background(), 7)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if gotMethod != http.MethodGet || gotQuery != "7" {
		t.Fatalf("method=%s since=%s, want GET since=7", gotMethod, gotQuery)
	}
	if result.CurrentSyncVersion != 9 {
		t.Fatalf("CurrentSyncVersion = %d, want 9", result.CurrentSyncVersion)
	}
}

func TestPullOmitsAuthorizationWithoutAPIKey(t *testing.T) {
	var gotAuth string
	var sawAuthHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, sawAuthHeader = r.Header["Authorization"]
		json.NewEncoder(w).Encode(wire.PullResult{})
	}))
	defer server.Close()

	c := New(server.URL, "")
	if _, err := c.Pull(context.Background(), 0); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if sawAuthHeader || gotAuth != "" {
		t.Fatalf("expected no Authorization header when APIKey is empty, got %q", gotAuth)
	}
}

func TestDoMapsStatusCodesToSentinelErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(apiError{Code: "boom", Message: "nope"})
		}))

		c := New(server.URL, "key")
		_, err := c.Push(context.Background(), wire.PushBody{})
		server.Close()

		if err == nil {
			t.Fatalf("status %d: expected an error", tc.status)
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: error %v does not wrap %v", tc.status, err, tc.want)
		}
	}
}

func TestDoReturnsApiErrorForUnmappedStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(apiError{Code: "server_error", Message: "db down"})
	}))
	defer server.Close()

	c := New(server.URL, "")
	_, err := c.Push(context.Background(), wire.PushBody{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Error() != "server_error: db down" {
		t.Fatalf("error = %q, want %q", err.Error(), "server_error: db down")
	}
}
