package fakeanalyzer

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
)

// Network is an http.RoundTripper that routes requests to handlers by host:port
// without opening sockets. Requests to an address without a handler fail like a
// refused connection.
type Network struct {
	mu       sync.Mutex
	handlers map[string]http.Handler
	attempts []string
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{handlers: make(map[string]http.Handler)}
}

// Attach serves h at addr ("host:port").
func (n *Network) Attach(addr string, h http.Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handlers[addr] = h
}

// Detach removes the handler at addr.
func (n *Network) Detach(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.handlers, addr)
}

// Attempts returns every address a request was sent to, in order.
func (n *Network) Attempts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return slices.Clone(n.attempts)
}

// Requests returns the number of requests sent to addr.
func (n *Network) Requests(addr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0
	for _, a := range n.attempts {
		if a == addr {
			count++
		}
	}

	return count
}

// RoundTrip implements http.RoundTripper.
func (n *Network) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	addr := req.URL.Host

	n.mu.Lock()
	n.attempts = append(n.attempts, addr)
	h, ok := n.handlers[addr]
	n.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("dial tcp %s: connect: connection refused", addr)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := rec.Result()
	resp.Request = req

	return resp, nil
}
