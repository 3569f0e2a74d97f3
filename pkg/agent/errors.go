package agent

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// statusPattern finds an HTTP status in error text, e.g. "Error 503",
// "status code: 429" or a leading "502 Bad Gateway". Bare numbers elsewhere
// in a message do not count.
var statusPattern = regexp.MustCompile(`(?i)(?:^|\b(?:error|status code|status|http))\s*:?\s*([1-5]\d\d)\b`)

// IsRetryableError reports whether a provider error is transient: rate
// limits, server errors, timeouts and dropped connections. Cancellation is
// never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if status := statusCode(err); status != 0 {
		return status == 408 || status == 409 || status == 429 || status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// Wrapped transport errors only carry text.
	errMsg := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(errMsg); m != nil {
		status, _ := strconv.Atoi(m[1])
		if status == 429 || status >= 500 {
			return true
		}
	}
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset",
		"rate limit", "resource_exhausted",
		"overloaded", "unavailable",
	} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}

	return false
}

func statusCode(err error) int {
	var aErr *anthropic.Error
	if errors.As(err, &aErr) {
		return aErr.StatusCode
	}
	var oErr *openai.Error
	if errors.As(err, &oErr) {
		return oErr.StatusCode
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) {
		return gErrPtr.Code
	}
	return 0
}
