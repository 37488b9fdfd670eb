package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientClassification(t *testing.T) {
	// RequestError defers to its status code
	assert.True(t, IsTransient(&RequestError{Op: "upsert holding", StatusCode: 503, Message: "unavailable"}))
	assert.False(t, IsTransient(&RequestError{Op: "upsert holding", StatusCode: 422, Message: "bad ticker"}))

	// Context and network-level failures are retryable
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("lookup: %w", &net.DNSError{Err: "no such host"})))

	// Anything else is not
	assert.False(t, IsTransient(errors.New("unexpected decode failure")))
}
