package pdfservices

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/briefgate/pkg/router"
)

const bodyExcerptLimit = 400

// APIError describes a failed call. It never carries credentials.
type APIError struct {
	Op          string
	StatusCode  int
	RequestID   string
	BodyExcerpt string
	URL         string
	Retryable   bool
	Err         error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pdfservices %s failed", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " url=%s", e.URL)
	}
	if e.BodyExcerpt != "" {
		fmt.Fprintf(&b, " body=%q", e.BodyExcerpt)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

func newStatusError(op, url string, resp *http.Response, body []byte) *APIError {
	e := &APIError{
		Op:          op,
		StatusCode:  resp.StatusCode,
		RequestID:   resp.Header.Get("x-request-id"),
		BodyExcerpt: excerpt(body),
		URL:         url,
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Err = router.ErrAuth
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		e.Retryable = true
	}
	return e
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	if len(s) > bodyExcerptLimit {
		return s[:bodyExcerptLimit] + "..."
	}
	return s
}

func isAuth(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && errors.Is(apiErr.Err, router.ErrAuth)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// PollTimeoutError reports a job that never left "in progress" in time.
type PollTimeoutError struct {
	Timeout    time.Duration
	Attempts   int
	LastStatus string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("polling timed out after %s (attempts=%d, last_status=%s)", e.Timeout, e.Attempts, e.LastStatus)
}

// Unwrap lets the router classify the failure as a timeout.
func (e *PollTimeoutError) Unwrap() error { return context.DeadlineExceeded }
