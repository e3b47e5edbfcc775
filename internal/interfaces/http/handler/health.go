package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc/iter"

	"github.com/erp/settlement/internal/interfaces/http/dto"
)

// DatabasePinger checks database connectivity
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// GatewayChecker pings a configured payment gateway by name
type GatewayChecker interface {
	HealthCheck(ctx context.Context, gatewayName string) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	BaseHandler
	db        DatabasePinger
	gateways  GatewayChecker
	names     []string
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler. Readiness pings the
// database and every named gateway.
func NewHealthHandler(db DatabasePinger, gateways GatewayChecker, gatewayNames []string, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		gateways:  gateways,
		names:     gatewayNames,
		version:   version,
		startTime: time.Now(),
	}
}

// LivenessResponse reports that the process is serving
type LivenessResponse struct {
	Status    string `json:"status" example:"healthy"`
	Version   string `json:"version" example:"1.0.0"`
	GoVersion string `json:"go_version" example:"go1.25.5"`
	Uptime    string `json:"uptime" example:"1h30m45s"`
}

// ReadinessResponse reports each dependency
type ReadinessResponse struct {
	Status   string            `json:"status" example:"ready"`
	Database string            `json:"database" example:"connected"`
	Gateways map[string]string `json:"gateways"`
}

// Live godoc
//
//	@ID				healthLive
//	@Summary		Liveness probe
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	APIResponse[LivenessResponse]
//	@Router			/health [get]
func (h *HealthHandler) Live(c *gin.Context) {
	h.Success(c, LivenessResponse{
		Status:    "healthy",
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Ready godoc
//
//	@ID				healthReady
//	@Summary		Readiness probe
//	@Description	503 when the database is unreachable. Gateway failures are
//	@Description	reported but do not fail the probe, since credit-note refunds still work.
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	APIResponse[ReadinessResponse]
//	@Failure		503	{object}	APIResponse[ReadinessResponse]
//	@Router			/ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := ReadinessResponse{
		Status:   "ready",
		Database: "connected",
		Gateways: make(map[string]string, len(h.names)),
	}

	results := iter.Map(h.names, func(name *string) string {
		if err := h.gateways.HealthCheck(ctx, *name); err != nil {
			return err.Error()
		}
		return "ok"
	})
	for i, name := range h.names {
		resp.Gateways[name] = results[i]
	}

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Database = err.Error()
		c.JSON(http.StatusServiceUnavailable, dto.Response{
			Success: false,
			Data:    resp,
			Error:   &dto.ErrorInfo{Code: dto.ErrCodeUnavailable, Message: "database unreachable", RequestID: getRequestID(c)},
		})
		return
	}
	h.Success(c, resp)
}
