package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/settlement/internal/infrastructure/logger"
	"github.com/erp/settlement/internal/interfaces/http/dto"
)

// Keys used to store caller identity in gin.Context
const (
	TenantIDKey     = "tenant_id"
	TenantHeaderKey = "X-Tenant-ID"
	ActorIDKey      = "actor_id"
	ActorHeaderKey  = "X-User-ID"
)

// TenantMiddlewareConfig holds configuration for tenant middleware
type TenantMiddlewareConfig struct {
	// SkipPaths are paths that don't require tenant context (e.g., health check)
	SkipPaths []string
	// Required determines if tenant context is mandatory
	Required bool
	Logger   *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		SkipPaths: []string{"/health", "/healthz", "/ready", "/api/v1/health"},
		Required:  true,
	}
}

// TenantMiddleware requires a valid X-Tenant-ID header on every request
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(DefaultTenantConfig())
}

// TenantMiddlewareWithConfig returns tenant middleware with custom configuration.
// The tenant id is stored in gin.Context and on the request context so that
// request logs carry it.
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
				c.Next()
				return
			}
		}

		tenantID := c.GetHeader(TenantHeaderKey)
		if tenantID == "" {
			if cfg.Required {
				abortWithError(c, dto.ErrCodeTenantRequired, "Tenant identification required")
				return
			}
			c.Next()
			return
		}

		parsed, err := uuid.Parse(tenantID)
		if err != nil || parsed == uuid.Nil {
			abortWithError(c, dto.ErrCodeTenantRequired, "Invalid tenant ID format")
			return
		}

		c.Set(TenantIDKey, parsed.String())
		c.Request = c.Request.WithContext(logger.WithTenantID(c.Request.Context(), parsed.String()))

		if cfg.Logger != nil {
			cfg.Logger.Debug("Tenant identified", zap.String("tenant_id", parsed.String()))
		}
		c.Next()
	}
}

// ActorMiddleware reads the optional X-User-ID header naming who performs
// the action. Authentication happens upstream, so the value is only
// recorded on refunds and in logs.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetHeader(ActorHeaderKey)
		if actorID == "" {
			c.Next()
			return
		}
		parsed, err := uuid.Parse(actorID)
		if err != nil {
			abortWithError(c, dto.ErrCodeValidationFormat, "Invalid user ID format")
			return
		}
		c.Set(ActorIDKey, parsed.String())
		c.Request = c.Request.WithContext(logger.WithActorID(c.Request.Context(), parsed.String()))
		c.Next()
	}
}

// abortWithError stops the chain with the standard error envelope
func abortWithError(c *gin.Context, code, message string) {
	resp := dto.NewErrorResponseWithRequestID(code, message, logger.GetRequestID(c.Request.Context()))
	c.AbortWithStatusJSON(dto.GetHTTPStatus(code), resp)
}

// GetTenantID retrieves the tenant ID from gin.Context
func GetTenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

// GetTenantUUID retrieves the tenant ID as UUID from gin.Context
func GetTenantUUID(c *gin.Context) (uuid.UUID, error) {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(tenantID)
}

// GetActorUUID returns the acting user, or nil when the request named none
func GetActorUUID(c *gin.Context) *uuid.UUID {
	actorID := c.GetString(ActorIDKey)
	if actorID == "" {
		return nil
	}
	parsed, err := uuid.Parse(actorID)
	if err != nil {
		return nil
	}
	return &parsed
}
