package igdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeIGDB struct {
	server      *httptest.Server
	tokenCalls  atomic.Int32
	lastBody    atomic.Value
	lastHeaders atomic.Value
	games       string
	status      int
}

func newFakeIGDB(t *testing.T, games string) *fakeIGDB {
	t.Helper()
	fake := &fakeIGDB{games: games, status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		fake.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token form: %v", err)
		}
		if r.Form.Get("client_id") != "client-123" || r.Form.Get("client_secret") != "secret-456" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"app-token","expires_in":3600,"token_type":"bearer"}`)
	})
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fake.lastBody.Store(string(body))
		fake.lastHeaders.Store(r.Header.Clone())
		if fake.status != http.StatusOK {
			w.WriteHeader(fake.status)
			_, _ = io.WriteString(w, `[{"title":"Syntax Error"}]`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fake.games)
	}
	mux.HandleFunc("/v4/games", handler)
	mux.HandleFunc("/v4/platforms", handler)
	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *fakeIGDB) client(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(Config{
		ClientID:          "client-123",
		ClientSecret:      "secret-456",
		BaseURL:           f.server.URL + "/v4/",
		TokenURL:          f.server.URL + "/oauth2/token",
		RequestsPerSecond: 1000,
		HTTPClient:        f.server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client
}

func TestSearchGamesSendsApicalypseQuery(t *testing.T) {
	fake := newFakeIGDB(t, `[{"id":1020,"name":"Chrono Trigger","cover":{"url":"//images.igdb.com/igdb/image/upload/t_thumb/co1.jpg"},"platforms":[{"id":19,"name":"Super Nintendo Entertainment System (SNES)"}]}]`)
	client := fake.client(t)

	games, err := client.SearchGames(context.Background(), `chrono "trigger"`, 50, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(games) != 1 || games[0].ID != 1020 || len(games[0].Platforms) != 1 {
		t.Fatalf("unexpected games: %+v", games)
	}
	if got := games[0].CoverURL(); got != "https://images.igdb.com/igdb/image/upload/t_cover_big/co1.jpg" {
		t.Fatalf("unexpected cover url %q", got)
	}

	body := fake.lastBody.Load().(string)
	for _, fragment := range []string{`search "chrono \"trigger\"";`, "where category = 0;", "offset 50;", "limit 50;"} {
		if !strings.Contains(body, fragment) {
			t.Fatalf("expected %q in query %q", fragment, body)
		}
	}
	headers := fake.lastHeaders.Load().(http.Header)
	if headers.Get("Client-ID") != "client-123" {
		t.Fatalf("missing Client-ID header")
	}
	if headers.Get("Authorization") != "Bearer app-token" {
		t.Fatalf("unexpected authorization header %q", headers.Get("Authorization"))
	}
}

func TestTokenIsReusedAcrossRequests(t *testing.T) {
	fake := newFakeIGDB(t, `[]`)
	client := fake.client(t)

	for index := 0; index < 3; index++ {
		if _, err := client.Platforms(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls := fake.tokenCalls.Load(); calls != 1 {
		t.Fatalf("expected a single token request, got %d", calls)
	}
}

func TestGameNotFound(t *testing.T) {
	fake := newFakeIGDB(t, `[]`)

	_, err := fake.client(t).Game(context.Background(), 42)
	if !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
	if body := fake.lastBody.Load().(string); !strings.Contains(body, "where id = 42;") {
		t.Fatalf("unexpected query %q", body)
	}
}

func TestUpstreamFailuresWrapErrUpstream(t *testing.T) {
	fake := newFakeIGDB(t, `[]`)
	fake.status = http.StatusBadRequest

	_, err := fake.client(t).Platforms(context.Background())
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{ClientSecret: "secret"}); err == nil {
		t.Fatalf("expected missing client id error")
	}
	if _, err := NewClient(Config{ClientID: "client"}); err == nil {
		t.Fatalf("expected missing client secret error")
	}
}

func TestCoverURLWithoutCover(t *testing.T) {
	if got := (Game{}).CoverURL(); got != "" {
		t.Fatalf("expected empty cover url, got %q", got)
	}
}
