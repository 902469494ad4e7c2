package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	accountdomain "github.com/smallbiznis/featuregate/internal/account/domain"
	authdomain "github.com/smallbiznis/featuregate/internal/auth/domain"
	billingdomain "github.com/smallbiznis/featuregate/internal/billing/domain"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMethodNotAllowed = errors.New("method_not_allowed")
	ErrInvalidRequest   = errors.New("invalid_request")
)

var errorMessages = map[string]string{
	"module_code_required":     "module code is required",
	"core_module_protected":    "the core module cannot be changed",
	"legacy_account_immutable": "accounts on legacy pricing cannot change modules",
	"module_not_enabled":       "module is not enabled",
	"already_disabled":         "module is already disabled",
	"already_enabled":          "module is already enabled",
	"unauthorized":             "authentication required",
	"forbidden":                "insufficient role",
	"user_not_found":           "user not found",
	"account_not_found":        "account not found",
	"not_found":                "not found",
	"invalid_signature":        "webhook signature verification failed",
	"invalid_request":          "invalid request",
	"method_not_allowed":       "method not allowed",
	"internal_error":           "internal server error",
}

// ErrorHandlingMiddleware converts errors recorded on the context into a
// JSON error response. Handlers report failures via AbortWithError and
// never write error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var status int
	var code string

	switch {
	case errors.Is(err, entitlementdomain.ErrModuleCodeRequired),
		errors.Is(err, entitlementdomain.ErrCoreModuleProtected),
		errors.Is(err, entitlementdomain.ErrLegacyAccountImmutable),
		errors.Is(err, entitlementdomain.ErrModuleNotEnabled),
		errors.Is(err, entitlementdomain.ErrAlreadyDisabled),
		errors.Is(err, entitlementdomain.ErrAlreadyEnabled),
		errors.Is(err, billingdomain.ErrInvalidSignature),
		errors.Is(err, ErrInvalidRequest):
		status, code = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrUnauthorized), errors.Is(err, authdomain.ErrInvalidCredential):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, entitlementdomain.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, accountdomain.ErrUserNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound):
		status, code = http.StatusNotFound, err.Error()
	case errors.Is(err, gorm.ErrRecordNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrMethodNotAllowed):
		status, code = http.StatusMethodNotAllowed, "method_not_allowed"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	message, ok := errorMessages[code]
	if !ok {
		message = code
	}

	return status, errorPayload{Code: code, Message: message}
}
