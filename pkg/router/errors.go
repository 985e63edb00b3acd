package router

import (
	"errors"
	"fmt"
	"strings"
)

// Backends wrap these so the router can classify their failures.
var (
	ErrAuth      = errors.New("backend authentication failed")
	ErrJobFailed = errors.New("backend job failed")
)

// ErrorKind classifies a RenderError.
type ErrorKind string

const (
	KindAllBackendsFailed ErrorKind = "all_backends_failed"
	KindTimeout           ErrorKind = "timeout"
	KindCanceled          ErrorKind = "canceled"
	KindAuth              ErrorKind = "auth"
	KindJobFailed         ErrorKind = "job_failed"
	KindBackend           ErrorKind = "backend"
	KindUnavailable       ErrorKind = "unavailable"
	// KindTemplate wraps a Template Guard failure inside a backend. It is
	// never followed by a fallback attempt.
	KindTemplate ErrorKind = "template_guard"
)

// RenderError is returned when no backend produced a usable outcome.
type RenderError struct {
	Kind    ErrorKind
	Backend BackendKind
	Err     error
	// Causes holds each attempt's error for KindAllBackendsFailed.
	Causes []*RenderError
}

func (e *RenderError) Error() string {
	if e.Kind == KindAllBackendsFailed {
		parts := make([]string, 0, len(e.Causes))
		for _, c := range e.Causes {
			parts = append(parts, c.Error())
		}
		return "render: all backends failed: " + strings.Join(parts, "; ")
	}
	if e.Backend != "" {
		return fmt.Sprintf("render: %s: %s: %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("render: %s: %v", e.Kind, e.Err)
}

func (e *RenderError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, c := range e.Causes {
		errs = append(errs, c)
	}
	return errs
}

// IsKind reports whether err is a RenderError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var re *RenderError
	return errors.As(err, &re) && re.Kind == k
}

func (k ErrorKind) outcome() AttemptOutcome {
	switch k {
	case KindTimeout:
		return AttemptTimeout
	case KindCanceled:
		return AttemptCanceled
	default:
		return AttemptFailed
	}
}
