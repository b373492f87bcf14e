package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "W1"}`))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient() *Client {
	return NewClient(1000, 10, 5*time.Second, "bibcache-test", slog.Default())
}

func TestDoDoesNotFollowRedirects(t *testing.T) {
	srv := testServer(t)
	resp, err := testClient().Do(context.Background(), srv.URL+"/redirect")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("status = %d, want 301", resp.StatusCode)
	}
	// The relative Location header comes back resolved against the request.
	if want := srv.URL + "/ok"; resp.Location != want {
		t.Errorf("location = %q, want %q", resp.Location, want)
	}
}

func TestDoReturnsBody(t *testing.T) {
	srv := testServer(t)
	resp, err := testClient().Do(context.Background(), srv.URL+"/ok")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"id": "W1"}` {
		t.Errorf("resp = %d %q", resp.StatusCode, resp.Body)
	}
}

func TestFetchJSONFollowsRedirects(t *testing.T) {
	srv := testServer(t)
	v, err := testClient().FetchJSON(context.Background(), srv.URL+"/redirect")
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["id"] != "W1" {
		t.Errorf("decoded = %#v, want map with id W1", v)
	}
}

func TestFetchJSONMissingIsNotAnError(t *testing.T) {
	srv := testServer(t)
	v, err := testClient().FetchJSON(context.Background(), srv.URL+"/missing")
	if err != nil {
		t.Fatalf("404 should not be an error: %v", err)
	}
	if v != nil {
		t.Errorf("404 should yield nil, got %#v", v)
	}
}

func TestUserAgentHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	if _, err := testClient().FetchJSON(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if got != "bibcache-test" {
		t.Errorf("User-Agent = %q", got)
	}
}
