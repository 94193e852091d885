package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/backlogged/backlogged/internal/auth"
	"github.com/backlogged/backlogged/internal/backlog"
	"github.com/backlogged/backlogged/internal/catalog"
	"github.com/backlogged/backlogged/internal/geolocation"
	"github.com/backlogged/backlogged/internal/igdb"
	"github.com/backlogged/backlogged/internal/logging"
	"github.com/backlogged/backlogged/internal/sessions"
	"github.com/backlogged/backlogged/internal/timezones"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "user_id"
	claimsContextKey = "session_claims"

	backlogPath  = "/backlog"
	gamesPath    = "/backlog/games/"
	editPath     = "/backlog/games/edit-custom-game/"
	searchPath   = "/backlog/games/add-game/search"
	settingsPath = "/settings"
)

var (
	errMissingSessions  = errors.New("session validator dependency required")
	errMissingUsers     = errors.New("user resolver dependency required")
	errMissingQueries   = errors.New("backlog query engine dependency required")
	errMissingLifecycle = errors.New("backlog lifecycle dependency required")
	errMissingCatalog   = errors.New("catalog dependency required")
	errMissingTimezones = errors.New("timezone service dependency required")
	errMissingState     = errors.New("session state store dependency required")

	bindingTagsOnce sync.Once
)

// SessionValidator authenticates a request from its session cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims to the canonical user id owning backlog data.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

type Dependencies struct {
	Sessions       SessionValidator
	Users          UserResolver
	Queries        *backlog.QueryEngine
	Lifecycle      *backlog.Lifecycle
	Catalog        *catalog.Service
	Timezones      *timezones.Service
	State          *sessions.Store
	AllowedOrigins []string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NewHTTPHandler builds the JSON API. Everything under /backlog and /settings requires a session.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Users == nil:
		return nil, errMissingUsers
	case deps.Queries == nil:
		return nil, errMissingQueries
	case deps.Lifecycle == nil:
		return nil, errMissingLifecycle
	case deps.Catalog == nil:
		return nil, errMissingCatalog
	case deps.Timezones == nil:
		return nil, errMissingTimezones
	case deps.State == nil:
		return nil, errMissingState
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	registerBindingTagNames()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		users:     deps.Users,
		queries:   deps.Queries,
		lifecycle: deps.Lifecycle,
		catalog:   deps.Catalog,
		timezones: deps.Timezones,
		state:     deps.State,
		clock:     clock,
		logger:    logger,
	}

	router.GET("/", handler.handleIndex)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET(backlogPath, handler.handleBacklog)
	protected.GET("/backlog/platforms", handler.handlePlatforms)
	protected.GET("/backlog/games/:game_id", handler.handleGameInfo)
	protected.POST("/backlog/games/:game_id", handler.handleGameUpdate)
	protected.GET("/backlog/games/:game_id/cover", handler.handleCover)
	protected.GET(searchPath, handler.handleSearch)
	protected.POST("/backlog/games/add-game/custom/preview", handler.handleCustomPreview)
	protected.POST("/backlog/games/add-game/custom", handler.handleCustomCreate)
	protected.GET("/backlog/games/edit-custom-game/:game_id", handler.handleCustomGame)
	protected.POST("/backlog/games/edit-custom-game/:game_id", handler.handleCustomEdit)
	protected.GET(settingsPath, handler.handleSettings)
	protected.POST("/settings/time-zone", handler.handleTimezoneUpdate)

	return router, nil
}

type httpHandler struct {
	sessions  SessionValidator
	users     UserResolver
	queries   *backlog.QueryEngine
	lifecycle *backlog.Lifecycle
	catalog   *catalog.Service
	timezones *timezones.Service
	state     *sessions.Store
	clock     func() time.Time
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// registerBindingTagNames makes gin binding errors report form field names.
func registerBindingTagNames() {
	bindingTagsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("form"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
}

// bindForm decodes the request body into form. Failures other than validator rules (a body gin
// cannot parse, a value that does not fit its field) come back as form-level validation errors.
func bindForm(c *gin.Context, form any) error {
	return asFormError(c.ShouldBind(form))
}

func bindQuery(c *gin.Context, form any) error {
	return asFormError(c.ShouldBindQuery(form))
}

func asFormError(err error) error {
	if err == nil {
		return nil
	}
	var bindingErrors validator.ValidationErrors
	if errors.As(err, &bindingErrors) {
		return err
	}
	return &backlog.ValidationError{Fields: map[string]string{"form": "The submitted form could not be read."}}
}

func (h *httpHandler) handleIndex(c *gin.Context) {
	if _, err := h.sessions.ValidateRequest(c.Request); err == nil {
		c.Redirect(http.StatusFound, backlogPath)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": "backlogged", "login_required": true})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("user resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Set(claimsContextKey, claims)
	c.Next()
}

// clientIP is the last X-Forwarded-For hop, which the fronting proxy appends.
func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
			return last
		}
	}
	return c.RemoteIP()
}

// localDate is today in the user's time zone. A failing lookup degrades to the UTC date.
func (h *httpHandler) localDate(c *gin.Context, userID string) time.Time {
	today, err := h.timezones.LocalDate(c.Request.Context(), userID, clientIP(c))
	if err != nil {
		h.logger.Warn("local date unavailable", zap.String("user_id", userID), zap.Error(err))
		year, month, day := h.clock().UTC().Date()
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}
	return today
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var validation *backlog.ValidationError
	var bindingErrors validator.ValidationErrors
	var coded interface{ Code() string }
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_form", "fields": validation.Fields})
	case errors.As(err, &bindingErrors):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_form", "fields": bindingFields(bindingErrors)})
	case errors.Is(err, timezones.ErrInvalidTimezone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_form", "fields": gin.H{"timezone": "Select a valid time zone."}})
	case errors.Is(err, backlog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, igdb.ErrUpstream), errors.Is(err, geolocation.ErrUpstream):
		h.logger.Error("upstream request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
	case errors.As(err, &coded):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": coded.Code()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func bindingFields(bindingErrors validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(bindingErrors))
	for _, fieldErr := range bindingErrors {
		switch fieldErr.Tag() {
		case "required":
			fields[fieldErr.Field()] = "This field is required."
		case "max":
			fields[fieldErr.Field()] = "Ensure this value has at most " + fieldErr.Param() + " characters."
		default:
			fields[fieldErr.Field()] = "Enter a valid value."
		}
	}
	return fields
}
