package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"greenlight/pkg/ai"
	"greenlight/pkg/analysis"
	"greenlight/pkg/pdftext"
	"greenlight/pkg/store"
	"greenlight/services/intake/internal/app"
)

const (
	codeUploadTooLarge        = "UPLOAD_TOO_LARGE"
	codeUploadInvalidPDF      = "UPLOAD_INVALID_PDF"
	codeUploadExtraction      = "UPLOAD_EXTRACTION_FAILED"
	codeInvalidSynopsis       = "SUBMISSION_INVALID_SYNOPSIS"
	codeInvalidID             = "SUBMISSION_INVALID_ID"
	codeNotFound              = "SUBMISSION_NOT_FOUND"
	codeAnalysisFailed        = "ANALYSIS_FAILED"
	codeInvalidEmail          = "SIGNUP_INVALID_EMAIL"
	codeTitleRequired         = "METADATA_TITLE_REQUIRED"
	codeTextRequired          = "DETAILS_TEXT_REQUIRED"
	codeUpstreamRateLimited   = "UPSTREAM_RATE_LIMITED"
	codeUpstreamError         = "UPSTREAM_ERROR"
	codeUpstreamMalformed     = "UPSTREAM_MALFORMED_RESPONSE"
	codeUpstreamTimeout       = "UPSTREAM_TIMEOUT"
	codeSystemUnavailable     = "SYSTEM_UNAVAILABLE"
	codeSystemInternal        = "SYSTEM_INTERNAL_ERROR"
	codeRateLimited           = "REQUEST_RATE_LIMITED"
	codeInvalidRequest        = "REQUEST_INVALID"
	codeMethodNotAllowed      = "SYSTEM_METHOD_NOT_ALLOWED"
	codeRouteNotFound         = "SYSTEM_NOT_FOUND"
	codeUploadFileRequired    = "UPLOAD_FILE_REQUIRED"
	codeUploadInvalidFormData = "UPLOAD_INVALID_FORM"
)

// statusFor maps an operation error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	var upstream *ai.UpstreamError
	switch {
	case errors.Is(err, pdftext.ErrSizeExceeded):
		return http.StatusBadRequest, codeUploadTooLarge
	case errors.Is(err, pdftext.ErrExtractionFailed):
		return http.StatusInternalServerError, codeUploadExtraction
	case errors.As(err, new(*pdftext.ValidationError)):
		return http.StatusBadRequest, codeUploadInvalidPDF
	case errors.Is(err, app.ErrInvalidSynopsis):
		return http.StatusBadRequest, codeInvalidSynopsis
	case errors.Is(err, app.ErrInvalidEmail):
		return http.StatusBadRequest, codeInvalidEmail
	case errors.Is(err, app.ErrInvalidID):
		return http.StatusBadRequest, codeInvalidID
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, analysis.ErrTitleRequired):
		return http.StatusBadRequest, codeTitleRequired
	case errors.Is(err, analysis.ErrNoContent):
		return http.StatusBadRequest, codeTextRequired
	case errors.As(err, &upstream):
		if upstream.Kind == ai.KindRateLimited {
			return http.StatusTooManyRequests, codeUpstreamRateLimited
		}
		return http.StatusBadGateway, codeUpstreamError
	case errors.Is(err, analysis.ErrMalformedResponse):
		return http.StatusBadGateway, codeUpstreamMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeUpstreamTimeout
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, codeSystemUnavailable
	default:
		return http.StatusInternalServerError, codeSystemInternal
	}
}

// errorCodeFor derives a code for errors raised by the handlers themselves.
func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(message, "file is required"):
		return codeUploadFileRequired
	case message == "invalid form data":
		return codeUploadInvalidFormData
	case strings.HasPrefix(message, "too many"):
		return codeRateLimited
	}

	switch status {
	case http.StatusBadRequest:
		return codeInvalidRequest
	case http.StatusNotFound:
		return codeRouteNotFound
	case http.StatusMethodNotAllowed:
		return codeMethodNotAllowed
	case http.StatusUnprocessableEntity:
		return codeAnalysisFailed
	case http.StatusTooManyRequests:
		return codeRateLimited
	default:
		if status >= http.StatusInternalServerError {
			return codeSystemInternal
		}
		return "REQUEST_ERROR"
	}
}
