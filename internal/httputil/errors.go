package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// APIError is the JSON error envelope returned to connectors.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message     string `json:"message"`
	Type        string `json:"type"`
	Code        string `json:"code"`
	WardenReqID string `json:"warden_request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Message:     message,
			Type:        errType,
			Code:        code,
			WardenReqID: requestID,
		},
	})
}

func WriteAuthError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, "authentication_error", "invalid_connector_key", message)
}

// WriteRateLimitError sets Retry-After (rounded up to whole seconds) when a
// hint is available.
func WriteRateLimitError(w http.ResponseWriter, requestID, message string, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", message)
}

func WriteConcurrencyError(w http.ResponseWriter, requestID, message string) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "concurrency_exceeded", message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}

func WriteServiceUnavailableError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "server_error", "service_unavailable", message)
}

// WriteContentBlockedError reports a sanitizer block. 451 keeps content
// blocks distinguishable from authorization denials.
func WriteContentBlockedError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, 451, "content_filter_error", "content_blocked", message)
}

func WritePolicyDeniedError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusForbidden, "policy_error", "tool_denied", message)
}

func WriteBudgetExceededError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusPaymentRequired, "budget_error", "budget_exceeded", message)
}

func WriteTimeoutError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusGatewayTimeout, "timeout_error", "execution_timeout", message)
}
