package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/scheduler"
)

const maxCallbackBody = 1 << 20

type CallbackVerifier interface {
	VerifyCallback(rawBody []byte, signatureHeader string) (*scheduler.Payload, error)
}

type CallbackService interface {
	HandleCallback(ctx context.Context, payload *scheduler.Payload) error
}

type CallbackHandler struct {
	verifier CallbackVerifier
	svc      CallbackService
	logger   *zap.Logger
}

func NewCallbackHandler(verifier CallbackVerifier, svc CallbackService, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{verifier: verifier, svc: svc, logger: logger}
}

// Callback answers 200 when the callback was applied or ignored and 400 on anything else,
// which makes the scheduler deliver it again.
func (h *CallbackHandler) Callback(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)
	raw, err := c.GetRawData()
	if err != nil {
		common.ErrorWithStatus(c, http.StatusBadRequest, common.ErrRequestInvalid)
		return
	}

	payload, err := h.verifier.VerifyCallback(raw, c.GetHeader(scheduler.SignatureHeader))
	if err != nil {
		h.logger.Warn("callback rejected", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		common.ErrorWithStatus(c, http.StatusBadRequest, err)
		return
	}

	if err := h.svc.HandleCallback(c, payload); err != nil {
		h.logger.Info("callback not applied",
			zap.String("schedule_id", payload.ScheduleID),
			zap.String("event", string(payload.Callback.Event)),
			zap.Error(err))
		common.ErrorWithStatus(c, http.StatusBadRequest, err)
		return
	}
	common.Success(c, nil)
}
