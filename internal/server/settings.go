package server

import (
	"net/http"

	"github.com/backlogged/backlogged/internal/auth"
	"github.com/gin-gonic/gin"
)

type timezoneForm struct {
	Timezone string `form:"timezone" binding:"required,timezone"`
}

type settingsResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Timezone    string `json:"timezone"`
	CurrentDate string `json:"current_date"`
}

func (h *httpHandler) handleSettings(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	timezone, err := h.timezones.Resolve(c.Request.Context(), userID, clientIP(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := settingsResponse{
		UserID:      userID,
		Timezone:    timezone,
		CurrentDate: h.localDate(c, userID).Format(dateLayout),
	}
	if claims, ok := c.Get(claimsContextKey); ok {
		if sessionClaims, ok := claims.(auth.SessionClaims); ok {
			response.Email = sessionClaims.UserEmail
			response.DisplayName = sessionClaims.UserDisplayName
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleTimezoneUpdate(c *gin.Context) {
	var form timezoneForm
	if err := bindForm(c, &form); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.timezones.Update(c.Request.Context(), c.GetString(userIDContextKey), form.Timezone); err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, settingsPath)
}
