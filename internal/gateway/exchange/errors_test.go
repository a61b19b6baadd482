package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, Success},
		{"cancelled", context.Canceled, Cancelled},
		{"wrapped cancel", fmt.Errorf("call: %w", context.Canceled), Cancelled},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example"}, Retryable},
		{"op error", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, Retryable},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), Retryable},
		{"eof", io.ErrUnexpectedEOF, Retryable},
		{"http 503", HTTPError(OpPlaceOrder, 503, ""), Retryable},
		{"http 429", HTTPError(OpPlaceOrder, 429, "slow down"), Retryable},
		{"http 408", HTTPError(OpPlaceOrder, 408, ""), Retryable},
		{"http 400", HTTPError(OpPlaceOrder, 400, "bad"), Terminal},
		{"http 401", HTTPError(OpPlaceOrder, 401, ""), Terminal},
		{"busy", BusinessError(OpPlaceOrder, "EService:Busy"), Retryable},
		{"unavailable", BusinessError(OpPlaceOrder, "EService:Unavailable"), Retryable},
		{"rate limit", BusinessError(OpPlaceOrder, "EAPI:Rate limit exceeded"), Retryable},
		{"timeout text", BusinessError(OpPlaceOrder, "EGeneral:Timeout"), Retryable},
		{"service_busy", BusinessError(OpPlaceOrder, "SERVICE_BUSY"), Retryable},
		{"invalid order", BusinessError(OpPlaceOrder, "Invalid order"), Terminal},
		{"insufficient", BusinessError(OpPlaceOrder, "EOrder:Insufficient funds"), Terminal},
		{"circuit", ErrCircuitOpen, Retryable},
		{"plain", errors.New("something odd"), Terminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransientMessage(t *testing.T) {
	assert.True(t, IsTransientMessage("Service Unavailable"))
	assert.True(t, IsTransientMessage("service:busy"))
	assert.True(t, IsTransientMessage("EAPI:Rate_limit_exceeded"))
	assert.False(t, IsTransientMessage("EGeneral:Invalid arguments"))
}

func TestReasonKeepsVenueMessage(t *testing.T) {
	err := fmt.Errorf("place: %w", BusinessError(OpPlaceOrder, "Invalid order"))
	assert.Equal(t, "Invalid order", Reason(err))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
	assert.Empty(t, Reason(nil))
}

func TestWrapKeepsExistingError(t *testing.T) {
	orig := HTTPError("", 502, "")
	wrapped := Wrap(OpTicker, orig)
	assert.Same(t, orig, wrapped)
	assert.Equal(t, OpTicker, orig.Op)

	plain := Wrap(OpTicker, io.EOF)
	var ve *Error
	assert.ErrorAs(t, plain, &ve)
	assert.Equal(t, Retryable, ve.Outcome)
	assert.ErrorIs(t, plain, io.EOF)
	assert.Nil(t, Wrap(OpTicker, nil))
}
