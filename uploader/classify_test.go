package uploader_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/robertor4/transcribe-sub002/uploader"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "operation timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"econnreset", syscall.ECONNRESET},
		{"epipe", syscall.EPIPE},
		{"wrapped reset", fmt.Errorf("upload chunk: %w", syscall.ECONNRESET)},
		{"dns", &net.DNSError{Err: "lookup failed", Name: "storage.example.com"}},
		{"net timeout", timeoutErr{}},
		{"unexpected eof", io.ErrUnexpectedEOF},
		{"socket hang up", errors.New("request failed: socket hang up")},
		{"tls handshake", errors.New("remote error: tls handshake failure")},
		{"string reset", errors.New("read tcp 10.0.0.1:443: connection reset by peer")},
		{"broken pipe", errors.New("write: broken pipe")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := uploader.Classify(tc.err); got != uploader.KindTransient {
				t.Fatalf("Classify(%v) = %s, want transient", tc.err, got)
			}
		})
	}
}

func TestClassifyPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"access denied", errors.New("403 access denied")},
		{"bucket missing", errors.New("404 bucket does not exist")},
		{"payload too large", errors.New("413 payload too large")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := uploader.Classify(tc.err); got != uploader.KindPermanent {
				t.Fatalf("Classify(%v) = %s, want permanent", tc.err, got)
			}
		})
	}
}

func TestClassifyCanceled(t *testing.T) {
	if got := uploader.Classify(context.Canceled); got != uploader.KindCanceled {
		t.Fatalf("Classify(Canceled) = %s", got)
	}
	if got := uploader.Classify(fmt.Errorf("poll: %w", context.DeadlineExceeded)); got != uploader.KindCanceled {
		t.Fatalf("Classify(DeadlineExceeded) = %s", got)
	}
}
