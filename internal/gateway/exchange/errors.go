package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Outcome is the classification of one venue call.
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Terminal
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen      = errors.New("venue circuit open")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNotFound         = errors.New("order not found at venue")
)

// Error is a classified venue failure. Message keeps the venue's own text.
type Error struct {
	Op         string
	Outcome    Outcome
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Outcome.String())
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Reason is the text stored on a rejected order: the venue message verbatim
// when there is one.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) && ve.Message != "" {
		return ve.Message
	}
	return err.Error()
}

// BusinessError builds a venue-reported error, classifying its text.
func BusinessError(op, message string) *Error {
	outcome := Terminal
	if IsTransientMessage(message) {
		outcome = Retryable
	}
	return &Error{Op: op, Outcome: outcome, Message: message}
}

// HTTPError builds an error for a non-2xx response.
func HTTPError(op string, status int, body string) *Error {
	outcome := Terminal
	if RetryableStatus(status) {
		outcome = Retryable
	}
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Op: op, Outcome: outcome, StatusCode: status, Message: msg}
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func RetryableStatus(status int) bool { return retryableStatus[status] }

// transientVocabulary lists venue messages that describe a temporary state.
var transientVocabulary = []string{
	"service unavailable",
	"service busy",
	"rate limit exceeded",
	"too many requests",
	"temporary lockout",
	"timeout",
	"timed out",
	"try again",
}

// IsTransientMessage matches msg against the transient vocabulary after
// folding case and treating ':' and '_' as spaces, so "EService:Unavailable"
// and "EAPI:Rate limit exceeded" both match.
func IsTransientMessage(msg string) bool {
	norm := strings.ToLower(strings.NewReplacer(":", " ", "_", " ").Replace(msg))
	norm = strings.Join(strings.Fields(norm), " ")
	for _, phrase := range transientVocabulary {
		if strings.Contains(norm, phrase) {
			return true
		}
	}
	return false
}

// Classify maps any error returned by a venue call to an outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Outcome
	}
	if errors.Is(err, ErrCircuitOpen) {
		return Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}
	if IsTransientMessage(err.Error()) {
		return Retryable
	}
	return Terminal
}

// Wrap classifies err and returns it as *Error, leaving existing *Error
// values untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		if ve.Op == "" {
			ve.Op = op
		}
		return err
	}
	return &Error{Op: op, Outcome: Classify(err), Err: err}
}
