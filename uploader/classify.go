package uploader

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies an I/O error for retry decisions.
type ErrorKind int

const (
	// KindUnknown is an unclassified error; treated as permanent.
	KindUnknown ErrorKind = iota

	// KindTransient is a network-shaped error worth retrying.
	KindTransient

	// KindPermanent is an error retrying cannot fix.
	KindPermanent

	// KindCanceled means the caller gave up; never retried.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// transientSignatures covers errors that only surface as strings: wrapped
// driver messages, Node-style upstream proxies ("socket hang up"), TLS
// alerts.
var transientSignatures = []string{
	"connection reset",
	"broken pipe",
	"socket hang up",
	"i/o timeout",
	"tls handshake",
	"handshake failure",
	"no such host",
	"connection refused",
	"temporary failure",
	"unexpected eof",
}

// Classify maps an error to its kind. Typed checks run first; the string
// allowlist is the fallback for errors that lost their type through
// wrapping.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return KindTransient
		}
	}
	return KindPermanent
}

// Transient reports whether the error is worth retrying.
func Transient(err error) bool {
	return Classify(err) == KindTransient
}
