package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/featuregate/internal/billing/domain"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
)

const webhookMaxBody = 1 << 20

// StripeWebhook ingests billing provider events. Only subscription renewals
// carry work; everything else is acknowledged and dropped.
func (s *Server) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhookMaxBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	event, err := s.billing.ParseRenewal(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billingdomain.ErrUnsupportedEvent) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		AbortWithError(c, err)
		return
	}

	if err := s.reconciler.HandleRenewal(c.Request.Context(), *event); err != nil {
		s.log.Error("failed to handle renewal event",
			zap.String("event_id", event.EventID),
			zap.String("subscription_id", event.SubscriptionID),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

type reconcileRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// TriggerReconcile re-runs line item cleanup for one subscription. The
// caller must manage modules on the account that owns it.
func (s *Server) TriggerReconcile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SubscriptionID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()

	user, err := s.accounts.FindUserByID(ctx, s.db, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if !user.Role.CanManageModules() {
		AbortWithError(c, entitlementdomain.ErrForbidden)
		return
	}

	account, err := s.accounts.FindAccountBySubscriptionID(ctx, s.db, req.SubscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if account == nil || account.ID != user.AccountID {
		AbortWithError(c, entitlementdomain.ErrForbidden)
		return
	}

	deleted, failed, err := s.reconciler.Reconcile(ctx, req.SubscriptionID, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"deleted": deleted,
		"failed":  failed,
	})
}
