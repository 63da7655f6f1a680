package transport

import (
	"context"
	"errors"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Delivery failure reasons. The engine's retry and quarantine policy is
// keyed on these strings; adapters map their native errors onto them.
const (
	ReasonRateLimited  = "rate_limited"
	ReasonTimeout      = "timeout"
	ReasonNetwork      = "network"
	ReasonInternal     = "internal"
	ReasonBadRequest   = "bad_request"
	ReasonBlocked      = "blocked"
	ReasonChatNotFound = "chat_not_found"
	ReasonUnknown      = "unknown"
)

// DeliveryError carries a classified reason alongside the native error.
type DeliveryError struct {
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ReasonOf extracts the classified reason from err, or ReasonUnknown.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var de *DeliveryError
	if errors.As(err, &de) && de.Reason != "" {
		return de.Reason
	}
	return ReasonUnknown
}

// Retryable reports whether a send failure with this reason is worth
// retrying with backoff.
func Retryable(reason string) bool {
	switch reason {
	case ReasonRateLimited, ReasonTimeout, ReasonNetwork, ReasonInternal:
		return true
	}
	return false
}

// Permanent reports whether this reason indicates the recipient itself is
// bad (blocked bot, dead chat). One such failure is enough to quarantine.
func Permanent(reason string) bool {
	switch reason {
	case ReasonBlocked, ReasonChatNotFound:
		return true
	}
	return false
}

// Adapter is the outbound chat transport.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}
