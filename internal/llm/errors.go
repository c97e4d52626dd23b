package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorType groups model-call failures by how a caller should react.
type ErrorType string

const (
	ErrorAuth      ErrorType = "auth"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorMalformed ErrorType = "malformed"
	ErrorPermanent ErrorType = "permanent"
)

// ErrMalformed marks a model answer that could not be parsed into the
// expected shape.
var ErrMalformed = errors.New("malformed model output")

// ClassifyError maps err to an ErrorType. It returns "" for nil.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMalformed) {
		return ErrorMalformed
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) {
		return ErrorMalformed
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	if errors.Is(err, context.Canceled) {
		return ErrorPermanent
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if t := fromStatus(apiErr.HTTPStatusCode); t != "" {
			return t
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if t := fromStatus(reqErr.HTTPStatusCode); t != "" {
			return t
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "401"), strings.Contains(e, "unauthorized"), strings.Contains(e, "api key"):
		return ErrorAuth
	case strings.Contains(e, "rate limit"), strings.Contains(e, "429"), strings.Contains(e, "quota"):
		return ErrorRate
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection reset"), strings.Contains(e, "connection refused"), strings.Contains(e, "eof"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

func fromStatus(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorAuth
	case code == http.StatusTooManyRequests:
		return ErrorRate
	case code >= 500:
		return ErrorTransient
	case code >= 400:
		return ErrorPermanent
	}
	return ""
}

// IsAuth reports whether err is a credential failure. Retrying those only
// burns the backoff budget, so retry policies treat them as permanent.
func IsAuth(err error) bool {
	return ClassifyError(err) == ErrorAuth
}
