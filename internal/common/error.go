package common

import (
	"errors"
	"fmt"
)

type ErrNo struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

const (
	SuccessCode = 0
	ServiceErr  = iota + 10000
	RequestInvalid
	TokenInvalid
	PipelineNotExists
	InvalidTransition
	SignatureInvalid
	UnknownJob
	ProviderError
	ExhaustedRetries
	VideoIDImmutable
	Timeout
)

var errorMsg = map[int]string{
	SuccessCode:       "success",
	ServiceErr:        "service error",
	RequestInvalid:    "request invalid",
	TokenInvalid:      "token invalid",
	PipelineNotExists: "pipeline not exists",
	InvalidTransition: "invalid transition",
	SignatureInvalid:  "signature invalid",
	UnknownJob:        "unknown job",
	ProviderError:     "provider error",
	ExhaustedRetries:  "retries exhausted",
	VideoIDImmutable:  "video id already set",
	Timeout:           "step timed out",
}

// Sentinels for errors.Is; wrap them with fmt.Errorf("...: %w", ErrXxx) to add context.
var (
	ErrRequestInvalid    = NewErrNo(RequestInvalid)
	ErrTokenInvalid      = NewErrNo(TokenInvalid)
	ErrPipelineNotExists = NewErrNo(PipelineNotExists)
	ErrInvalidTransition = NewErrNo(InvalidTransition)
	ErrSignatureInvalid  = NewErrNo(SignatureInvalid)
	ErrUnknownJob        = NewErrNo(UnknownJob)
	ErrProvider          = NewErrNo(ProviderError)
	ErrExhaustedRetries  = NewErrNo(ExhaustedRetries)
	ErrVideoIDImmutable  = NewErrNo(VideoIDImmutable)
	ErrTimeout           = NewErrNo(Timeout)
)

func (e ErrNo) Error() string {
	return fmt.Sprintf("err_code=%d, err_msg=%s", e.ErrCode, e.ErrMsg)
}

func NewErrNo(errCode int) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  errorMsg[errCode],
	}
}

// Message returns the public message for a code.
func Message(errCode int) string {
	return errorMsg[errCode]
}

// ConvertErr finds the ErrNo in err's chain. Anything uncoded becomes ServiceErr with the
// generic message so internal detail never reaches a response body.
func ConvertErr(err error) ErrNo {
	e := ErrNo{}
	if errors.As(err, &e) {
		return e
	}
	return ErrNo{
		ErrCode: ServiceErr,
		ErrMsg:  errorMsg[ServiceErr],
	}
}
