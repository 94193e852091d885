package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/backlogged/backlogged/internal/auth"
	"github.com/backlogged/backlogged/internal/backlog"
	"github.com/backlogged/backlogged/internal/catalog"
	"github.com/backlogged/backlogged/internal/database"
	"github.com/backlogged/backlogged/internal/igdb"
	"github.com/backlogged/backlogged/internal/sessions"
	"github.com/backlogged/backlogged/internal/timezones"
	"github.com/backlogged/backlogged/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-secret"
	testCookieName    = "app_session"
	testSubject       = "player-1"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type stubGames struct {
	pages     map[int][]igdb.Game
	games     map[int]igdb.Game
	platforms []igdb.Platform
	err       error
}

func (s *stubGames) SearchGames(_ context.Context, _ string, offset, _ int) ([]igdb.Game, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pages[offset], nil
}

func (s *stubGames) Game(_ context.Context, id int) (igdb.Game, error) {
	if s.err != nil {
		return igdb.Game{}, s.err
	}
	game, ok := s.games[id]
	if !ok {
		return igdb.Game{}, igdb.ErrGameNotFound
	}
	return game, nil
}

func (s *stubGames) Platforms(_ context.Context) ([]igdb.Platform, error) {
	return s.platforms, s.err
}

func chronoTrigger() igdb.Game {
	return igdb.Game{
		ID:        1020,
		Name:      "Chrono Trigger",
		Cover:     &igdb.Cover{URL: "//images.igdb.com/igdb/image/upload/t_thumb/co1.jpg"},
		Summary:   "A time travelling adventure.",
		Platforms: []igdb.Platform{{ID: 19, Name: "Super Nintendo Entertainment System (SNES)"}},
	}
}

type testServer struct {
	handler http.Handler
	games   *stubGames
	db      *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	games := &stubGames{
		games: map[int]igdb.Game{1020: chronoTrigger()},
		platforms: []igdb.Platform{
			{ID: 6, Name: "PC (Microsoft Windows)"},
			{ID: 19, Name: "Super Nintendo Entertainment System (SNES)"},
		},
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users: %v", err)
	}
	repository, err := backlog.NewRepository(db)
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	store, err := sessions.NewStore(sessions.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	queries, err := backlog.NewQueryEngine(backlog.QueryEngineConfig{Repository: repository})
	if err != nil {
		t.Fatalf("failed to construct query engine: %v", err)
	}
	lifecycle, err := backlog.NewLifecycle(backlog.LifecycleConfig{
		Repository:      repository,
		Flags:           store,
		IDProvider:      backlog.NewCustomGameIDProvider(),
		NowPlayingLimit: 2,
	})
	if err != nil {
		t.Fatalf("failed to construct lifecycle: %v", err)
	}
	catalogService, err := catalog.NewService(catalog.Config{Games: games, Repository: repository})
	if err != nil {
		t.Fatalf("failed to construct catalog: %v", err)
	}
	timezoneService, err := timezones.NewService(timezones.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct timezones: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:  sessionValidator,
		Users:     userService,
		Queries:   queries,
		Lifecycle: lifecycle,
		Catalog:   catalogService,
		Timezones: timezoneService,
		State:     store,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &testServer{handler: handler, games: games, db: db}
}

func sessionToken(t *testing.T, secret string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserEmail: "player@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testSubject,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (s *testServer) do(t *testing.T, request *http.Request, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	if authenticated {
		request.AddCookie(&http.Cookie{Name: testCookieName, Value: sessionToken(t, testSigningSecret, time.Hour)})
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, httptest.NewRequest(http.MethodGet, target, http.NoBody), true)
}

func (s *testServer) postForm(t *testing.T, target string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(t, request, true)
}
