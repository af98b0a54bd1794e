package providers

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

var statusPattern = regexp.MustCompile(`status(?: code)?:? (\d{3})`)

// extractErrorMetadata extracts HTTP status code and Retry-After from an SDK error.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	httpStatus := sdkStatus(err)
	if httpStatus == 0 {
		if m := statusPattern.FindStringSubmatch(errStr); m != nil {
			httpStatus, _ = strconv.Atoi(m[1])
		}
	}
	if httpStatus == 0 {
		// Common patterns: "429", "HTTP 429", etc.
		for _, code := range []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			529, // Anthropic overloaded
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusBadRequest,
			http.StatusPaymentRequired,
		} {
			if strings.Contains(errStr, strconv.Itoa(code)) {
				httpStatus = code
				break
			}
		}
	}

	var retryAfter string
	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			parts := strings.Fields(strings.TrimLeft(errStr[idx+len(marker):], ": "))
			if len(parts) > 0 {
				retryAfter = strings.TrimRight(parts[0], ",;")
			}
			break
		}
	}

	return httpStatus, retryAfter
}

func sdkStatus(err error) int {
	var anthropicReq *anthropic.RequestError
	if errors.As(err, &anthropicReq) {
		return anthropicReq.StatusCode
	}
	var openaiAPI *openai.APIError
	if errors.As(err, &openaiAPI) {
		return openaiAPI.HTTPStatusCode
	}
	var openaiReq *openai.RequestError
	if errors.As(err, &openaiReq) {
		return openaiReq.HTTPStatusCode
	}
	return 0
}
