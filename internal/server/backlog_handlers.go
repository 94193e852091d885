package server

import (
	"net/http"

	"github.com/backlogged/backlogged/internal/backlog"
	"github.com/backlogged/backlogged/internal/catalog"
	"github.com/backlogged/backlogged/internal/pagination"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type backlogQuery struct {
	Query      string `form:"query"`
	SortOption string `form:"sort_option"`
	Page       string `form:"page"`
}

type backlogResponse struct {
	backlog.Page
	CurrentDate   string `json:"current_date"`
	URLParameters string `json:"url_parameters"`
}

type gameInfoResponse struct {
	Game             catalog.GameInfo `json:"game"`
	ChangingPlatform bool             `json:"changing_platform"`
}

func (h *httpHandler) handleBacklog(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var query backlogQuery
	if err := bindQuery(c, &query); err != nil {
		h.respondError(c, err)
		return
	}

	page, err := h.queries.Query(c.Request.Context(), userID, backlog.QueryParams{
		Search:     query.Query,
		SortOption: query.SortOption,
		Page:       query.Page,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, backlogResponse{
		Page:          page,
		CurrentDate:   h.localDate(c, userID).Format(dateLayout),
		URLParameters: pagination.QueryString(c.Request.URL.Query(), "page"),
	})
}

func (h *httpHandler) handlePlatforms(c *gin.Context) {
	choices, err := h.customChoices(c, c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platforms": choices})
}

func (h *httpHandler) handleGameInfo(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	info, err := h.catalog.GameInfo(c.Request.Context(), userID, c.Param("game_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	changing, err := h.state.PopFlag(c.Request.Context(), userID, backlog.FlagChangingPlatform)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gameInfoResponse{Game: info, ChangingPlatform: changing && info.Entry != nil})
}

func (h *httpHandler) handleGameUpdate(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()

	var form backlog.UpdateForm
	if err := bindForm(c, &form); err != nil {
		h.respondError(c, err)
		return
	}

	info, err := h.catalog.GameInfo(ctx, userID, c.Param("game_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	formConfig, err := h.lifecycle.FormConfig(ctx, userID, info.Platforms)
	if err != nil {
		h.respondError(c, err)
		return
	}

	action, err := h.lifecycle.Apply(ctx, userID, backlog.UpdateRequest{
		Game:  backlog.GameRef{GameID: info.ID, GameName: info.Name, CoverURL: info.CoverURL},
		Form:  form,
		Today: h.localDate(c, userID),
	}, formConfig)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Debug("backlog update applied",
		zap.String("user_id", userID),
		zap.String("game_id", info.ID),
		zap.String("update_mode", form.UpdateMode),
		zap.String("action", string(action.Kind)),
	)
	c.Redirect(http.StatusSeeOther, actionLocation(action))
}

func (h *httpHandler) handleCover(c *gin.Context) {
	image, contentType, err := h.lifecycle.Cover(c.Request.Context(), c.GetString(userIDContextKey), c.Param("game_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, contentType, image)
}

func actionLocation(action backlog.Action) string {
	switch action.Kind {
	case backlog.ActionRedirectBacklog:
		return backlogPath
	case backlog.ActionRedirectEditCustom:
		return editPath + action.GameID
	default:
		return gamesPath + action.GameID
	}
}
