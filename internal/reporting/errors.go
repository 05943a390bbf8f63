// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package reporting

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/channelmetrics/internal/models"
)

var (
	// ErrRateLimited is returned once rate-limit retries are exhausted.
	// The condition is transient; the whole date may be retried later.
	ErrRateLimited = errors.New("reporting: rate limit retries exhausted")

	// ErrAuthExpired is returned when the access token was rejected and could
	// not be refreshed. The caller must re-authenticate out of band.
	ErrAuthExpired = errors.New("reporting: access token expired and could not be refreshed")

	// ErrParse marks a report payload that could not be decoded.
	ErrParse = errors.New("reporting: malformed report payload")
)

// FailureKind classifies the outcome of one call to the reporting API.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureRateLimited
	FailureAuthExpired
	FailureNotFound
	FailureTransport
)

// String implements fmt.Stringer.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureRateLimited:
		return "rate_limited"
	case FailureAuthExpired:
		return "auth_expired"
	case FailureNotFound:
		return "not_found"
	default:
		return "transport"
	}
}

// APIError is a non-2xx response from the reporting API.
type APIError struct {
	Op         string
	StatusCode int
	Reason     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("reporting %s: HTTP %d (%s)", e.Op, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("reporting %s: HTTP %d", e.Op, e.StatusCode)
}

// Kind maps the status code (and, for 403, the error reason) to a FailureKind.
func (e *APIError) Kind() FailureKind {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return FailureAuthExpired
	case http.StatusTooManyRequests:
		return FailureRateLimited
	case http.StatusNotFound:
		return FailureNotFound
	case http.StatusForbidden:
		if isQuotaReason(e.Reason) || isQuotaReason(e.Body) {
			return FailureRateLimited
		}
		return FailureAuthExpired
	default:
		return FailureTransport
	}
}

func isQuotaReason(s string) bool {
	return strings.Contains(s, "rateLimitExceeded") ||
		strings.Contains(s, "userRateLimitExceeded") ||
		strings.Contains(s, "quotaExceeded")
}

// Classify returns the FailureKind of err. A nil error is FailureNone and
// anything that is not an *APIError is a transport failure.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return FailureTransport
}

// DownloadError describes a download that gave up.
type DownloadError struct {
	Kind     models.ReportKind
	Date     time.Time
	Attempts int
	Failure  FailureKind
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s for %s failed after %d attempt(s) (%s): %v",
		e.Kind, models.FormatDate(e.Date), e.Attempts, e.Failure, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err means no further download in this run can
// succeed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}
