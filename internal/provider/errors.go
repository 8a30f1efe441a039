package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kursadbilgin/mail-courier/internal/relay"
	"github.com/wneessen/go-mail"
)

// Error classifies a single delivery failure as transient or permanent.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// BatchError reports sub-requests that were still failing after the batched
// provider exhausted its retry budget. Records behind these ids carry a
// retryable outcome; the error exists so the failure is never silent.
type BatchError struct {
	FailedIDs []string
	Attempts  int
}

func (e *BatchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("batch delivery exhausted %d attempts, %d sub-requests still failing: %s",
		e.Attempts, len(e.FailedIDs), strings.Join(e.FailedIDs, ", "))
}

// smtpRetryTable declares, per go-mail failure class, whether refreshing the
// connection and retrying the send once is worthwhile. Rejected senders,
// recipients and message content are final no matter how often they are
// resent.
var smtpRetryTable = map[mail.SendErrReason]bool{
	mail.ErrGetSender:     false,
	mail.ErrGetRcpts:      false,
	mail.ErrSMTPMailFrom:  false,
	mail.ErrSMTPRcptTo:    false,
	mail.ErrSMTPData:      false,
	mail.ErrSMTPDataClose: true,
	mail.ErrSMTPReset:     true,
	mail.ErrWriteContent:  true,
	mail.ErrConnCheck:     true,
}

// IsCanceled reports whether a failure came from the caller's context
// rather than the remote side.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether a delivery failure is worth retrying.
func IsTransient(err error) bool {
	if err == nil || IsCanceled(err) {
		return false
	}

	var providerErr *Error
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var initErr *relay.InitializationError
	if errors.As(err, &initErr) {
		return true
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if retryable, ok := smtpRetryTable[sendErr.Reason]; ok {
			return retryable
		}
		return sendErr.IsTemp()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
