package cloudapi

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Transport timeouts and pool limits.
const (
	defaultDialTimeout         = 10 * time.Second
	defaultKeepAlive           = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultResponseHeader      = 15 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
	defaultMaxIdleConnsPerHost = 2
)

// Retry bounds for the two recoverable failure classes.
const (
	// maxBadStatusAttempts is the total number of sends allowed when the
	// server keeps returning an empty or malformed status line.
	maxBadStatusAttempts = 10

	// maxResetRetries is how many times a request is resent after a
	// connection reset.
	maxResetRetries = 1
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 4 << 20

// newTransport creates an http.Transport with explicit timeouts.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeader,
		IdleConnTimeout:       defaultIdleConnTimeout,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
	}
}

// userAgentTransport injects the User-Agent header on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// CloseIdleConnections forwards to the wrapped transport so http.Client can
// drop pooled connections through this wrapper.
func (t *userAgentTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

// failureClass tags a transport error with the retry policy that applies.
type failureClass int

const (
	classFatal failureClass = iota

	// classBadStatus: the server closed an idle connection and the response
	// status line came back empty or malformed.
	classBadStatus

	// classReset: the peer reset the connection.
	classReset
)

func (c failureClass) String() string {
	switch c {
	case classBadStatus:
		return "bad_status_line"
	case classReset:
		return "connection_reset"
	default:
		return "fatal"
	}
}

// classify decides which retry policy, if any, applies to err.
func classify(err error) failureClass {
	if err == nil {
		return classFatal
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.ECONNRESET {
		return classReset
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return classBadStatus
	}
	if strings.Contains(err.Error(), "malformed HTTP") {
		return classBadStatus
	}

	return classFatal
}
