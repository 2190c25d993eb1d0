// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/mailguard/api/v1alpha1"
	"github.com/telekom/mailguard/pkg/apiresponses"
	"github.com/telekom/mailguard/pkg/guard"
	"github.com/telekom/mailguard/pkg/store"
	"github.com/telekom/mailguard/pkg/system"
)

// GuardHandler is the part of guard.Guard the HTTP layer needs.
type GuardHandler interface {
	HandleSend(ctx context.Context, msg *v1alpha1.OutboundMessage, caller guard.CallerContext) guard.SendResult
	HandleConfigChange(ctx context.Context, cfg *v1alpha1.MailConfig, caller guard.CallerContext) guard.ConfigChangeResult
}

// GuardController routes notification and mail configuration requests to the
// guard. It never decides outcomes itself; it only maps them to status codes.
type GuardController struct {
	guard GuardHandler
	store store.ConfigStore
	log   *zap.SugaredLogger
}

func NewGuardController(log *zap.SugaredLogger, g GuardHandler, s store.ConfigStore) *GuardController {
	return &GuardController{guard: g, store: s, log: log}
}

func (gc *GuardController) BasePath() string {
	return ""
}

func (gc *GuardController) Handlers() []gin.HandlerFunc {
	return nil
}

func (gc *GuardController) Register(rg *gin.RouterGroup) error {
	rg.POST("/notifications", gc.handleSend)
	rg.GET("/mail-config", gc.handleGetConfig)
	rg.PUT("/mail-config", gc.handlePutConfig)
	return nil
}

func callerOf(c *gin.Context) guard.CallerContext {
	return guard.CallerContext{
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}
}

func (gc *GuardController) handleSend(c *gin.Context) {
	var msg v1alpha1.OutboundMessage
	if !gc.bind(c, &msg) {
		return
	}

	res := gc.guard.HandleSend(c.Request.Context(), &msg, callerOf(c))
	apiresponses.RespondOutcome(c, res.Outcome, http.StatusAccepted, res.RetryAfter, res)
}

func (gc *GuardController) handlePutConfig(c *gin.Context) {
	var cfg v1alpha1.MailConfig
	if !gc.bind(c, &cfg) {
		return
	}

	res := gc.guard.HandleConfigChange(c.Request.Context(), &cfg, callerOf(c))
	apiresponses.RespondOutcome(c, res.Outcome, http.StatusOK, res.RetryAfter, res)
}

func (gc *GuardController) handleGetConfig(c *gin.Context) {
	cfg, err := gc.store.LoadConfig(c.Request.Context())
	switch {
	case errors.Is(err, store.ErrNotFound):
		apiresponses.RespondNotFound(c, "mail configuration not set")
		return
	case err != nil:
		apiresponses.RespondInternalError(c, "load mail configuration", err, system.GetReqLogger(c, gc.log))
		return
	}
	apiresponses.RespondOK(c, cfg.Redacted())
}

func (gc *GuardController) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiresponses.RespondPayloadTooLarge(c)
			return false
		}
		system.GetReqLogger(c, gc.log).Debugw("Rejected malformed request body", "error", err)
		// Only the field name is echoed; other decoder errors may quote the payload.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			apiresponses.RespondBadRequest(c, "invalid request body",
				fmt.Sprintf("field %q has the wrong type", typeErr.Field))
			return false
		}
		apiresponses.RespondBadRequest(c, "invalid request body", "")
		return false
	}
	return true
}
