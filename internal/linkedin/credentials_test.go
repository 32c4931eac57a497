package linkedin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestCredentials_ConcurrentRefreshCollapses(t *testing.T) {
	fake := newFakeLinkedIn(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the exchange open so every caller overlaps.
		time.Sleep(50 * time.Millisecond)
		fake.ServeHTTP(w, r)
	}))
	defer srv.Close()

	cc := refreshable()
	cc.TokenURL = srv.URL + "/oauth/v2/accessToken"
	cc.HTTPClient = srv.Client()
	creds := NewCredentials(cc, discardLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- creds.Refresh(context.Background(), "stale-token")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Unexpected refresh error: %v", err)
		}
	}
	if n := fake.tokenCalls.Load(); n != 1 {
		t.Errorf("Expected a single token exchange, got %d", n)
	}
	if creds.Refreshes() != 1 {
		t.Errorf("Expected refresh count 1, got %d", creds.Refreshes())
	}
}

func TestCredentials_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	fake := newFakeLinkedIn(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fake.ServeHTTP(w, r)
	}))
	defer srv.Close()

	cc := refreshable()
	cc.TokenURL = srv.URL + "/oauth/v2/accessToken"
	cc.HTTPClient = srv.Client()
	creds := NewCredentials(cc, discardLogger())

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- creds.Refresh(firstCtx, "stale-token") }()

	// Join the in-flight exchange, then walk away from it with the first caller.
	time.Sleep(20 * time.Millisecond)
	second := make(chan error, 1)
	go func() { second <- creds.Refresh(context.Background(), "stale-token") }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the cancelled caller to see context.Canceled, got %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("Expected the remaining caller to get the refreshed token, got %v", err)
	}
	if got := creds.AccessToken(); got != "fresh-token" {
		t.Errorf("Expected fresh-token, got %q", got)
	}
	if n := fake.tokenCalls.Load(); n != 1 {
		t.Errorf("Expected a single token exchange, got %d", n)
	}
}

func TestCredentials_RefreshSkippedWhenTokenAlreadyReplaced(t *testing.T) {
	fake := newFakeLinkedIn(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cc := refreshable()
	cc.TokenURL = srv.URL + "/oauth/v2/accessToken"
	cc.HTTPClient = srv.Client()
	creds := NewCredentials(cc, discardLogger())

	if err := creds.Refresh(context.Background(), "stale-token"); err != nil {
		t.Fatalf("First refresh failed: %v", err)
	}
	if err := creds.Refresh(context.Background(), "stale-token"); err != nil {
		t.Fatalf("Second refresh failed: %v", err)
	}
	if n := fake.tokenCalls.Load(); n != 1 {
		t.Errorf("Expected the second refresh to be skipped, got %d exchanges", n)
	}
}

func TestCredentials_RefreshUnavailable(t *testing.T) {
	creds := NewCredentials(CredentialsConfig{AccessToken: "tok", RefreshToken: "r"}, discardLogger())
	err := creds.Refresh(context.Background(), "tok")
	if !errors.Is(err, ErrRefreshUnavailable) {
		t.Errorf("Expected ErrRefreshUnavailable without client id, got %v", err)
	}
}

func TestCredentials_AuthorCacheInvalidatedOnSwap(t *testing.T) {
	fake := newFakeLinkedIn(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cc := refreshable()
	cc.TokenURL = srv.URL + "/oauth/v2/accessToken"
	cc.HTTPClient = srv.Client()
	creds := NewCredentials(cc, discardLogger())

	creds.CacheAuthor("stale-token", "urn:li:person:old")
	if urn, ok := creds.Author("stale-token"); !ok || urn != "urn:li:person:old" {
		t.Fatalf("Expected cached author, got %q %v", urn, ok)
	}

	if err := creds.Refresh(context.Background(), "stale-token"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, ok := creds.Author(creds.AccessToken()); ok {
		t.Error("Expected author cache to be cleared after token swap")
	}

	// A late write for the old token must not repopulate the cache.
	creds.CacheAuthor("stale-token", "urn:li:person:old")
	if _, ok := creds.Author(creds.AccessToken()); ok {
		t.Error("Expected stale author write to be ignored")
	}
}
