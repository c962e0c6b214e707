package store

import (
	"context"
	"errors"
	"net"
	"strings"

	"gorm.io/gorm"
)

// retryKeywords mirror the transient failure modes of a hosted backend
// reached over the network: connection drops, timeouts, and 5xx-class
// responses surfaced through the driver.
var retryKeywords = []string{
	"connection",
	"timeout",
	"network",
	"broken pipe",
	"reset by peer",
	"too many clients",
	"500",
	"502",
	"503",
}

// IsRetryable reports whether an operation error is worth retrying.
// Schema and constraint violations are not; hammering the backend with a
// payload it already rejected only amplifies an outage.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrInvalidValue) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range retryKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
