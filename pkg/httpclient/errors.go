package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// downstreamError matches the {"error": {...}} envelope written by pkg/httputil.
type downstreamError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes a non-2xx response body and maps it
// to an AppError when the body is a standard envelope.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", serviceName, resp.StatusCode, err)
	}

	var env downstreamError
	if json.Unmarshal(body, &env) != nil || env.Error == nil {
		return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(body))
	}

	msg := fmt.Sprintf("%s: %s", serviceName, env.Error.Message)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return apperrors.NotFound(serviceName, env.Error.Message)
	case http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case http.StatusConflict:
		return apperrors.Conflict(msg)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case http.StatusForbidden:
		return apperrors.Forbidden(msg)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, resp.StatusCode, env.Error.Code, env.Error.Message)
	}
	return &apperrors.AppError{Code: env.Error.Code, Message: msg, Status: resp.StatusCode}
}
