package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/backlogged/backlogged/internal/backlog"
	"github.com/backlogged/backlogged/internal/platforms"
	"github.com/gin-gonic/gin"
)

const (
	searchQueryKey     = "search_query"
	platformChoicesKey = "platform_choices"
	choiceSeparator    = "\n"
)

type searchForm struct {
	Query string `form:"query" binding:"omitempty,max=1024"`
	Page  string `form:"page"`
}

type customGameRequest struct {
	GameName          string `form:"game_name"`
	Platform          string `form:"platform"`
	InvolvedCompanies string `form:"involved_companies"`
	Summary           string `form:"summary"`
	NowPlaying        string `form:"now_playing"`
}

type customGameResponse struct {
	Entry             backlog.Entry `json:"entry"`
	InvolvedCompanies string        `json:"involved_companies"`
	Summary           string        `json:"summary"`
	HasCover          bool          `json:"has_cover"`
}

// handleSearch queries the metadata source. An empty or invalid query falls back to the last
// query the user searched for.
func (h *httpHandler) handleSearch(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()

	var form searchForm
	bindErr := bindQuery(c, &form)
	page, pageErr := searchPage(form.Page)
	if pageErr != nil {
		h.respondError(c, pageErr)
		return
	}
	query := strings.TrimSpace(form.Query)
	if bindErr != nil || query == "" {
		cached, ok, err := h.state.Lookup(ctx, userID, searchQueryKey)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if !ok {
			if bindErr == nil {
				bindErr = &backlog.ValidationError{Fields: map[string]string{"query": "This field is required."}}
			}
			h.respondError(c, bindErr)
			return
		}
		query = cached
	} else if err := h.state.Remember(ctx, userID, searchQueryKey, query); err != nil {
		h.respondError(c, err)
		return
	}

	results, err := h.catalog.Search(ctx, userID, query, page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if results.SingleMatch != nil {
		c.Redirect(http.StatusSeeOther, gamesPath+strconv.Itoa(results.SingleMatch.ID))
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *httpHandler) handleCustomPreview(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	valid, err := h.validateCustomGame(c, userID, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.catalog.CustomPreview(valid))
}

func (h *httpHandler) handleCustomCreate(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	valid, err := h.validateCustomGame(c, userID, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	entry, err := h.lifecycle.AddCustom(c.Request.Context(), userID, valid, h.localDate(c, userID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, gamesPath+entry.GameID)
}

func (h *httpHandler) handleCustomGame(c *gin.Context) {
	entry, detail, err := h.lifecycle.CustomGame(c.Request.Context(), c.GetString(userIDContextKey), c.Param("game_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customGameResponse{
		Entry:             entry,
		InvolvedCompanies: detail.InvolvedCompanies,
		Summary:           detail.Summary,
		HasCover:          len(detail.CoverImage) > 0,
	})
}

// handleCustomEdit never changes the status, so the Now Playing limit does not apply.
func (h *httpHandler) handleCustomEdit(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	valid, err := h.validateCustomGame(c, userID, false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	entry, err := h.lifecycle.EditCustom(c.Request.Context(), userID, c.Param("game_id"), valid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, gamesPath+entry.GameID)
}

func (h *httpHandler) validateCustomGame(c *gin.Context, userID string, limitNowPlaying bool) (backlog.ValidCustomGame, error) {
	var request customGameRequest
	if err := bindForm(c, &request); err != nil {
		return backlog.ValidCustomGame{}, err
	}
	cover, err := readCover(c)
	if err != nil {
		return backlog.ValidCustomGame{}, err
	}

	choices, err := h.customChoices(c, userID)
	if err != nil {
		return backlog.ValidCustomGame{}, err
	}
	formConfig := backlog.FormConfig{PlatformChoices: choices}
	if limitNowPlaying {
		if formConfig, err = h.lifecycle.FormConfig(c.Request.Context(), userID, choices); err != nil {
			return backlog.ValidCustomGame{}, err
		}
	}

	return backlog.ValidateCustom(backlog.CustomGameForm{
		GameName:          request.GameName,
		Platform:          request.Platform,
		InvolvedCompanies: request.InvolvedCompanies,
		Summary:           request.Summary,
		NowPlaying:        request.NowPlaying,
		Cover:             cover,
	}, formConfig)
}

// searchPage reads the optional 1-based page of add-game search results.
func searchPage(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(value)
	if err != nil || page < 1 {
		return 0, &backlog.ValidationError{Fields: map[string]string{"page": "Enter a whole number."}}
	}
	return page, nil
}

// readCover reads at most one byte past the size limit so oversized uploads fail validation.
func readCover(c *gin.Context) ([]byte, error) {
	header, err := c.FormFile("cover")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, backlog.MaxCoverBytes+1))
}

// customChoices is the upstream platform list, cached per user in the session store.
func (h *httpHandler) customChoices(c *gin.Context, userID string) ([]platforms.Canonical, error) {
	ctx := c.Request.Context()
	if cached, ok, err := h.state.Lookup(ctx, userID, platformChoicesKey); err != nil {
		return nil, err
	} else if ok {
		if choices, parseErr := parseChoices(cached); parseErr == nil {
			return choices, nil
		}
	}

	choices, err := h.catalog.Platforms(ctx)
	if err != nil {
		return nil, err
	}
	encoded := make([]string, 0, len(choices))
	for _, choice := range choices {
		encoded = append(encoded, platforms.Choice(choice))
	}
	if err := h.state.Remember(ctx, userID, platformChoicesKey, strings.Join(encoded, choiceSeparator)); err != nil {
		return nil, err
	}
	return choices, nil
}

func parseChoices(encoded string) ([]platforms.Canonical, error) {
	if encoded == "" {
		return []platforms.Canonical{}, nil
	}
	lines := strings.Split(encoded, choiceSeparator)
	choices := make([]platforms.Canonical, 0, len(lines))
	for _, line := range lines {
		choice, err := platforms.ParseChoice(line)
		if err != nil {
			return nil, err
		}
		choices = append(choices, choice)
	}
	return choices, nil
}
