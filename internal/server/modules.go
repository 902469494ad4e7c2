package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type moduleRequest struct {
	ModuleCode string `json:"moduleCode"`
}

type moduleChangeResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	AccessUntil string `json:"access_until,omitempty"`
}

type moduleStatusResponse struct {
	ModuleCode          string  `json:"moduleCode"`
	Active              bool    `json:"active"`
	PendingDeactivation bool    `json:"pendingDeactivation"`
	EnabledAt           string  `json:"enabledAt"`
	DisabledAt          *string `json:"disabledAt,omitempty"`
}

func (s *Server) AddModule(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req moduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if _, err := s.entitlementSvc.Activate(c.Request.Context(), userID, req.ModuleCode); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, moduleChangeResponse{
		Success: true,
		Message: "module activated",
	})
}

func (s *Server) RemoveModule(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req moduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	change, err := s.entitlementSvc.Deactivate(c.Request.Context(), userID, req.ModuleCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	message := "module access ends with the current billing period"
	if change.Immediate {
		message = "module deactivated"
	}

	resp := moduleChangeResponse{
		Success: true,
		Message: message,
	}
	if change.AccessUntil != nil {
		resp.AccessUntil = change.AccessUntil.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListModules(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	statuses, err := s.entitlementSvc.List(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]moduleStatusResponse, 0, len(statuses))
	for _, status := range statuses {
		item := moduleStatusResponse{
			ModuleCode:          status.ModuleCode,
			Active:              status.Active,
			PendingDeactivation: status.PendingDeactivation,
			EnabledAt:           status.EnabledAt.UTC().Format(time.RFC3339),
		}
		if status.DisabledAt != nil {
			disabledAt := status.DisabledAt.UTC().Format(time.RFC3339)
			item.DisabledAt = &disabledAt
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"modules": items})
}
