// Package fetcher holds the retry loop and result classification shared by
// the page fetchers.
package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// Kind tags the result of a single request attempt.
type Kind int

const (
	// KindOK is a response that must not be retried: any 1xx-4xx status.
	KindOK Kind = iota
	// KindTransient is a 5xx response or a transport failure.
	KindTransient
)

// Short causes reported for transport failures.
const (
	ReasonTimeout  = "timed out"
	ReasonConnect  = "connect failed"
	ReasonCanceled = "canceled"
	ReasonRequest  = "request failed"
)

// Response is the part of an HTTP exchange the crawler keeps.
type Response struct {
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Outcome is the tagged result of one attempt. A transient outcome with a
// zero StatusCode carries only a Reason.
type Outcome struct {
	Kind     Kind
	Response Response
	Reason   string
}

// FromResponse classifies a received response: 5xx is transient, everything
// else is final.
func FromResponse(resp Response) Outcome {
	if resp.StatusCode >= 500 {
		return Outcome{Kind: KindTransient, Response: resp}
	}
	return Outcome{Kind: KindOK, Response: resp}
}

// FromError converts a transport error into a transient outcome.
func FromError(err error) Outcome {
	return Outcome{Kind: KindTransient, Reason: ReasonFor(err)}
}

// Transient reports whether the attempt may be retried.
func (o Outcome) Transient() bool {
	return o.Kind == KindTransient
}

// HasResponse reports whether a status line was received.
func (o Outcome) HasResponse() bool {
	return o.Response.StatusCode != 0
}

// Label names the outcome for metrics: "ok", "http_error", "server_error" or
// the transport reason with spaces replaced.
func (o Outcome) Label() string {
	switch {
	case o.Kind == KindOK && o.Response.StatusCode < 400:
		return "ok"
	case o.Kind == KindOK:
		return "http_error"
	case o.HasResponse():
		return "server_error"
	}
	switch o.Reason {
	case ReasonTimeout:
		return "timeout"
	case ReasonConnect:
		return "connect_failed"
	case ReasonCanceled:
		return "canceled"
	default:
		return "request_failed"
	}
}

// ReasonFor maps a transport error to a short cause string.
func ReasonFor(err error) string {
	if err == nil {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ReasonConnect
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ReasonConnect
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonConnect
	}
	return ReasonRequest
}
