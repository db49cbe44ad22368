package grant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchSuccessAndCacheWriteThrough(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req grantRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Channel != "room" {
			t.Fatalf("unexpected channel %q", req.Channel)
		}
		_ = json.NewEncoder(w).Encode(grantResponse{GrantJWT: "token-123"})
	}))
	defer server.Close()

	cache := NewMemoryCache()
	var cachedChannel, cachedToken string
	p := New(server.URL, cache, func(channel, token string) {
		cachedChannel, cachedToken = channel, token
	})

	token, err := p.Fetch(context.Background(), "room")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if token != "token-123" {
		t.Fatalf("unexpected token %q", token)
	}
	if cachedChannel != "room" || cachedToken != "token-123" {
		t.Fatalf("cacheGrant hook not invoked correctly: %q %q", cachedChannel, cachedToken)
	}

	// Second fetch should be served from cache without another request.
	token2, err := p.Fetch(context.Background(), "room")
	if err != nil {
		t.Fatalf("fetch2: %v", err)
	}
	if token2 != token {
		t.Fatalf("expected cached token, got %q", token2)
	}
	if requests != 1 {
		t.Fatalf("expected 1 remote request, got %d", requests)
	}
}

func TestFetchExpiredCacheRefetches(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode(grantResponse{GrantJWT: "token-fresh"})
	}))
	defer server.Close()

	cache := NewMemoryCache()
	p := New(server.URL, cache, nil)
	now := time.Now()
	p.now = func() time.Time { return now }
	p.TTL = time.Minute

	if _, err := p.Fetch(context.Background(), "room"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	now = now.Add(2 * time.Minute)

	if _, err := p.Fetch(context.Background(), "room"); err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected cache expiry to trigger a second request, got %d", requests)
	}
}

func TestFetchNonTwoxxSurfacesAuthErrorWithoutRetry(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden","message":"no access"}`))
	}))
	defer server.Close()

	p := New(server.URL, nil, nil)
	_, err := p.Fetch(context.Background(), "room")
	if err == nil {
		t.Fatal("expected error")
	}
	authErr, ok := err.(*AuthError)
	if !ok {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if authErr.Status != http.StatusForbidden {
		t.Fatalf("unexpected status %d", authErr.Status)
	}
	if requests != 1 {
		t.Fatalf("provider must not retry on auth failure, got %d requests", requests)
	}
}

func TestFetchAttachesBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(grantResponse{GrantJWT: "token-123"})
	}))
	defer server.Close()

	p := New(server.URL, nil, nil)
	p.BearerToken = func(context.Context) (string, error) { return "caller-jwt", nil }

	if _, err := p.Fetch(context.Background(), "room"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "Bearer caller-jwt" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestFetchRejectsEmptyChannel(t *testing.T) {
	p := New("http://example.invalid", nil, nil)
	if _, err := p.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty channel")
	}
}
