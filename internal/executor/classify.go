package executor

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"

	"github.com/ppiankov/insight/internal/source"
)

// panicError carries a recovered connector panic.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("connector panic: %v", e.value)
}

// Classify maps a connector error to a failure kind. Order matters: a
// timed-out *url.Error is a timeout, not a network failure.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var (
		pe     *panicError
		netErr net.Error
	)
	switch {
	case errors.As(err, &pe):
		return KindPanic
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.Is(err, source.ErrAuth):
		return KindAuth
	case errors.Is(err, source.ErrRateLimited):
		return KindRateLimit
	case isParseError(err):
		return KindParse
	case isNetworkError(err):
		return KindNetwork
	}
	return KindUnknown
}

func isParseError(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		xmlErr    *xml.SyntaxError
	)
	return errors.Is(err, source.ErrParse) ||
		errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &xmlErr)
}

func isNetworkError(err error) bool {
	if errors.Is(err, source.ErrConnection) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var (
		opErr     *net.OpError
		dnsErr    *net.DNSError
		urlErr    *url.Error
		statusErr *source.StatusError
	)
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr), errors.As(err, &urlErr):
		return true
	case errors.As(err, &statusErr):
		return statusErr.Code >= 500
	}
	return false
}

func classifyError(platform, src string, err error) *FetchError {
	return &FetchError{
		Kind:     Classify(err),
		Platform: platform,
		Source:   src,
		Err:      err,
	}
}
