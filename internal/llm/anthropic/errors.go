package anthropic

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// failoverReason categorizes why a request failed, for retry purposes.
// Wilson drives a single backend with no alternate-provider failover, so
// this carries only what isRetryable needs, not the full failover
// taxonomy the multi-provider agent framework classifies errors into.
type failoverReason string

const (
	reasonRateLimit   failoverReason = "rate_limit"
	reasonServerError failoverReason = "server_error"
	reasonTimeout     failoverReason = "timeout"
	reasonAuth        failoverReason = "auth"
	reasonInvalid     failoverReason = "invalid_request"
	reasonUnknown     failoverReason = "unknown"
)

func (r failoverReason) retryable() bool {
	switch r {
	case reasonRateLimit, reasonServerError, reasonTimeout:
		return true
	default:
		return false
	}
}

// providerError is a structured error carrying enough context to decide
// whether a retry is worthwhile.
type providerError struct {
	Reason    failoverReason
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *providerError) Error() string {
	var parts []string
	parts = append(parts, "anthropic["+string(e.Reason)+"]")
	if e.Status != 0 {
		parts = append(parts, "status="+http.StatusText(e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *providerError) Unwrap() error { return e.Cause }

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError classifies err into a providerError, reading the structured
// Anthropic error body when present (status code, error type, message,
// request ID) the same way the agent framework's provider layer does.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var pErr *providerError
	if errors.As(err, &pErr) {
		return err
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe := &providerError{Cause: err, Reason: classifyStatus(apiErr.StatusCode), Status: apiErr.StatusCode}

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					pe.Message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					pe.Code = payload.Error.Type
					if reason := classifyCode(payload.Error.Type); reason != reasonUnknown {
						pe.Reason = reason
					}
				}
				if payload.RequestID != "" {
					pe.RequestID = payload.RequestID
				}
			}
		}
		if pe.Message == "" {
			pe.Message = "anthropic request failed"
		}
		return pe
	}

	return &providerError{Cause: err, Reason: classifyString(err.Error())}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pErr *providerError
	if errors.As(err, &pErr) {
		return pErr.Reason.retryable()
	}
	return classifyString(err.Error()).retryable()
}

func classifyStatus(status int) failoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return reasonAuth
	case status == http.StatusTooManyRequests:
		return reasonRateLimit
	case status == http.StatusBadRequest:
		return reasonInvalid
	case status >= 500:
		return reasonServerError
	default:
		return reasonUnknown
	}
}

func classifyCode(code string) failoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return reasonRateLimit
	case "authentication_error", "invalid_api_key":
		return reasonAuth
	case "server_error", "internal_error", "api_error", "overloaded_error":
		return reasonServerError
	case "invalid_request_error":
		return reasonInvalid
	default:
		return reasonUnknown
	}
}

func classifyString(msg string) failoverReason {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return reasonRateLimit
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"), strings.Contains(msg, "gateway timeout"), strings.Contains(msg, "overloaded"):
		return reasonServerError
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return reasonTimeout
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return reasonAuth
	default:
		return reasonUnknown
	}
}
