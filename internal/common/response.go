package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    SuccessCode,
		Message: errorMsg[SuccessCode],
		Data:    data,
	})
}

func Error(c *gin.Context, err error) {
	e := ConvertErr(err)
	c.JSON(statusFor(e.ErrCode), Response{
		Code:    e.ErrCode,
		Message: e.ErrMsg,
		Data:    nil,
	})
}

func statusFor(code int) int {
	switch code {
	case RequestInvalid, InvalidTransition, SignatureInvalid, UnknownJob, VideoIDImmutable:
		return http.StatusBadRequest
	case TokenInvalid:
		return http.StatusUnauthorized
	case PipelineNotExists:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorWithStatus writes err's code and message under a fixed http status.
func ErrorWithStatus(c *gin.Context, status int, err error) {
	e := ConvertErr(err)
	c.JSON(status, Response{
		Code:    e.ErrCode,
		Message: e.ErrMsg,
		Data:    nil,
	})
}
