package status

import (
	"context"
	"errors"
	"fmt"
)

type Code int32

const (
	Ok Code = iota
	Unavailable
	PartialData
	InvalidParameter
	SafetyBlocked
	NotFound
	Conflict
	InFlight
	Cancelled
	SafeMode
	HttpDecodeFailed
	ServerNotReady
)

var codeNames = map[Code]string{
	Ok:               "Ok",
	Unavailable:      "Unavailable",
	PartialData:      "PartialData",
	InvalidParameter: "InvalidParameter",
	SafetyBlocked:    "SafetyBlocked",
	NotFound:         "NotFound",
	Conflict:         "Conflict",
	InFlight:         "InFlight",
	Cancelled:        "Cancelled",
	SafeMode:         "SafeMode",
	HttpDecodeFailed: "HttpDecodeFailed",
	ServerNotReady:   "ServerNotReady",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// Retryable reports whether the same request may succeed later without any
// change from the caller.
func (c Code) Retryable() bool {
	return c == Unavailable || c == Conflict || c == InFlight
}

type ErrorStatus struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorStatus) Error() string {
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Message)
}

func (e *ErrorStatus) IsOk() bool {
	return e == nil || e.Code == Ok
}

func StatusOk() *ErrorStatus {
	return &ErrorStatus{Code: Ok}
}

func ErrorCode(code Code) *ErrorStatus {
	return &ErrorStatus{
		Code:    code,
		Message: code.String(),
	}
}

func ErrorMsg(code Code, format string, args ...interface{}) *ErrorStatus {
	return &ErrorStatus{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// CodeOf returns Ok for nil, the carried code for an *ErrorStatus found in
// the chain and Unavailable for anything else.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var es *ErrorStatus
	if errors.As(err, &es) {
		return es.Code
	}
	return Unavailable
}

// FromError converts any error into an *ErrorStatus. Context expiry and
// unknown transport errors are Unavailable, plain cancellation is Cancelled.
func FromError(err error) *ErrorStatus {
	if err == nil {
		return nil
	}
	var es *ErrorStatus
	if errors.As(err, &es) {
		return es
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorMsg(Unavailable, "timeout: %s", err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return ErrorMsg(Cancelled, "%s", err.Error())
	}
	return ErrorMsg(Unavailable, "%s", err.Error())
}
