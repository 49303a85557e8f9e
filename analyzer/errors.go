package analyzer

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrNotConnected is returned by control calls before a successful Connect or
	// after the endpoint was invalidated.
	ErrNotConnected = errors.New("analyzer: not connected")

	// ErrNoEndpoint is wrapped by DiscoveryError.
	ErrNoEndpoint = errors.New("analyzer: no remote service found")

	// ErrUnknownSchema is returned when a payload matches no known schema.
	ErrUnknownSchema = errors.New("analyzer: unknown payload schema")

	// ErrInvalidPayload is returned when a response body is not valid JSON.
	ErrInvalidPayload = errors.New("analyzer: invalid JSON payload")
)

// Probe is one discovery attempt.
type Probe struct {
	Host string
	Port int
	Path string
	// Result is "ok" for the accepted probe, otherwise why it was rejected.
	Result string
}

// DiscoveryError lists every probe of a failed discovery.
type DiscoveryError struct {
	Probes []Probe
}

// Addrs returns the distinct host:port pairs that were probed, in probe order.
func (e *DiscoveryError) Addrs() []string {
	addrs := make([]string, 0, len(e.Probes))
	for _, p := range e.Probes {
		a := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
		if !slices.Contains(addrs, a) {
			addrs = append(addrs, a)
		}
	}

	return addrs
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("analyzer: no remote service found (checked %s)", strings.Join(e.Addrs(), ", "))
}

func (e *DiscoveryError) Unwrap() error { return ErrNoEndpoint }

// HTTPError reports a non-2xx response. Body is the response body verbatim.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("analyzer: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}

	return fmt.Sprintf("analyzer: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// TransportError reports an HTTP I/O failure. The client invalidates its endpoint
// before returning it.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("analyzer: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
