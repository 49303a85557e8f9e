package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-robotray/logger"
)

// maxBodySize bounds a response body; screenshots are the largest payloads.
const maxBodySize = 64 << 20

// TestKind selects which result a trigger returns.
type TestKind string

const (
	// KindFinal returns the final, averaged result.
	KindFinal TestKind = "final"
	// KindAll returns the result of every shot.
	KindAll TestKind = "all"
)

// Client controls one analyzer. It is safe for concurrent use; a heartbeat may run
// while a trigger is in flight.
type Client struct {
	cfg    *Config
	http   *http.Client
	logger logger.Logger
	link   *linkStateMgr

	mu            sync.RWMutex
	endpoint      Endpoint
	identity      Identity
	lastHost      string
	lastPort      int
	lastHeartbeat time.Time
}

// NewClient creates a client. It does not contact the analyzer.
func NewClient(opts ...Option) (*Client, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: cfg.transport},
		logger: cfg.logger.With("component", "analyzer"),
		link:   newLinkStateMgr(),
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.cfg }

// Endpoint returns the discovered endpoint, the zero Endpoint when not connected.
func (c *Client) Endpoint() Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.endpoint
}

// Identity returns the identification document of the connected analyzer.
func (c *Client) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.identity
}

// Connected reports whether an endpoint is known.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return !c.endpoint.IsZero()
}

// LastHeartbeat returns the time of the last successful heartbeat or connect.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastHeartbeat
}

// LinkState returns the current link state.
func (c *Client) LinkState() LinkState { return c.link.State() }

// AddLinkStateHandler registers h and returns an id for RemoveLinkStateHandler.
func (c *Client) AddLinkStateHandler(h LinkStateHandler) uint64 { return c.link.addHandler(h) }

// RemoveLinkStateHandler unregisters a handler.
func (c *Client) RemoveLinkStateHandler(id uint64) bool { return c.link.removeHandler(id) }

// Discover probes the candidate endpoints of host and returns the first one that serves
// an identification document. A positive port is probed alone. The client state is
// not changed.
func (c *Client) Discover(ctx context.Context, host string, port int) (Endpoint, Identity, error) {
	var probes []Probe

	for _, h := range c.cfg.Hosts(host) {
		for _, p := range c.cfg.Ports(port) {
			for _, path := range c.cfg.idPaths {
				if err := ctx.Err(); err != nil {
					return Endpoint{}, Identity{}, err
				}

				id, result, reachable := c.probe(ctx, h, p, path)
				probes = append(probes, Probe{Host: h, Port: p, Path: path, Result: result})
				if result == "ok" {
					ep := Endpoint{Host: h, Port: p, APIRoot: strings.TrimSuffix(path, "/id")}
					c.logger.Info("remote service found", "endpoint", ep.String(), "family", id.Family, "probes", len(probes))

					return ep, id, nil
				}
				if !reachable {
					// the other paths of an unreachable port cannot answer either
					break
				}
			}
		}
	}

	err := &DiscoveryError{Probes: probes}
	c.logger.Warn("remote service not found", "checked", err.Addrs())

	return Endpoint{}, Identity{}, err
}

// probe issues one identification request. reachable is false when the request
// did not reach an HTTP server.
func (c *Client) probe(ctx context.Context, host string, port int, path string) (Identity, string, bool) {
	ep := Endpoint{Host: host, Port: port}
	target := ep.BaseURL() + path

	body, status, err := c.send(ctx, http.MethodGet, target, nil, c.cfg.probeTimeout)
	if err != nil {
		c.logger.Debug("probe failed", "url", target, "error", err)
		return Identity{}, err.Error(), false
	}
	if status != http.StatusOK {
		return Identity{}, fmt.Sprintf("status %d", status), true
	}

	id, ok := parseIdentity(body)
	if !ok {
		return Identity{}, "not an identification document", true
	}

	return id, "ok", true
}

// Connect discovers the remote service on host (and port, when positive) and fixes
// the endpoint for the session.
func (c *Client) Connect(ctx context.Context, host string, port int) (Endpoint, error) {
	c.mu.Lock()
	c.lastHost, c.lastPort = host, port
	c.mu.Unlock()

	ep, id, err := c.Discover(ctx, host, port)
	if err != nil {
		c.invalidate("discovery failed")
		return Endpoint{}, err
	}

	c.mu.Lock()
	c.endpoint = ep
	c.identity = id
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	c.link.transition(LinkUp, ep)

	return ep, nil
}

// Reconnect runs discovery again with the host and port of the last Connect.
func (c *Client) Reconnect(ctx context.Context) (Endpoint, error) {
	c.mu.RLock()
	host, port := c.lastHost, c.lastPort
	c.mu.RUnlock()

	return c.Connect(ctx, host, port)
}

// Disconnect forgets the endpoint.
func (c *Client) Disconnect() {
	c.invalidate("disconnect requested")
}

func (c *Client) invalidate(reason string) {
	c.mu.Lock()
	ep := c.endpoint
	c.endpoint = Endpoint{}
	c.identity = Identity{}
	c.mu.Unlock()

	if c.link.transition(LinkDown, ep) {
		c.logger.Warn("analyzer link down", "endpoint", ep.String(), "reason", reason)
	}
}

func (c *Client) currentEndpoint() (Endpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.endpoint.IsZero() {
		return Endpoint{}, ErrNotConnected
	}

	return c.endpoint, nil
}

// Heartbeat re-reads the identification document. Any failure invalidates the endpoint.
func (c *Client) Heartbeat(ctx context.Context) error {
	ep, err := c.currentEndpoint()
	if err != nil {
		return err
	}

	target := ep.URL("/id", nil)
	body, status, err := c.send(ctx, http.MethodGet, target, nil, c.cfg.probeTimeout)
	switch {
	case err != nil && ctx.Err() != nil:
		return err
	case err != nil:
		c.invalidate("heartbeat failed")
		return &TransportError{Method: http.MethodGet, URL: target, Err: err}
	case status != http.StatusOK:
		c.invalidate("heartbeat failed")
		return &HTTPError{Method: http.MethodGet, URL: target, StatusCode: status, Body: string(body)}
	}
	if _, ok := parseIdentity(body); !ok {
		c.invalidate("heartbeat returned no identification")
		return fmt.Errorf("%w: heartbeat response is not an identification document", ErrInvalidPayload)
	}

	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	return nil
}

// Trigger runs a test in mode and blocks until the analyzer returns the result, which
// is returned unmodified.
func (c *Client) Trigger(ctx context.Context, mode string, kind TestKind) (json.RawMessage, error) {
	if strings.TrimSpace(mode) == "" {
		return nil, errors.New("analyzer: trigger mode is empty")
	}
	if kind != KindFinal && kind != KindAll {
		return nil, fmt.Errorf("analyzer: invalid test kind %q", kind)
	}

	c.logger.Info("trigger test", "mode", mode, "kind", kind)
	body, err := c.call(ctx, http.MethodPost, "/test/"+string(kind), url.Values{"mode": {mode}}, []byte("{}"), c.cfg.triggerTimeout)
	if err != nil {
		return nil, err
	}

	return jsonPayload(body)
}

// Abort asks the analyzer to stop a running test. The abort endpoint differs between
// firmware revisions; the first path answering 2xx wins.
func (c *Client) Abort(ctx context.Context) error {
	var errs []error
	for _, path := range []string{"/test/abort", "/abort"} {
		_, err := c.call(ctx, http.MethodPost, path, nil, []byte("{}"), c.cfg.requestTimeout)
		if err == nil {
			c.logger.Info("abort sent", "path", path)
			return nil
		}
		errs = append(errs, err)
		if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("analyzer: abort failed: %w", errors.Join(errs...))
}

// AcquisitionParams reads the user acquisition parameters of mode.
func (c *Client) AcquisitionParams(ctx context.Context, mode string) (*AcquisitionParams, error) {
	body, err := c.call(ctx, http.MethodGet, "/acquisitionParams/user", url.Values{"mode": {mode}}, nil, c.cfg.requestTimeout)
	if err != nil {
		return nil, err
	}

	return DecodeAcquisitionParams(body)
}

// PutAcquisitionParams writes the user acquisition parameters of mode.
func (c *Client) PutAcquisitionParams(ctx context.Context, mode string, p *AcquisitionParams) error {
	if p == nil {
		return errors.New("analyzer: acquisition params are nil")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	_, err = c.call(ctx, http.MethodPut, "/acquisitionParams/user", url.Values{"mode": {mode}}, body, c.cfg.requestTimeout)

	return err
}

// SetBeamDuration sets the duration of every beam of mode, leaving every other
// parameter unchanged, and returns the parameters that were written.
func (c *Client) SetBeamDuration(ctx context.Context, mode string, d time.Duration) (*AcquisitionParams, error) {
	cur, err := c.AcquisitionParams(ctx, mode)
	if err != nil {
		return nil, err
	}

	next, err := cur.WithBeamDuration(d)
	if err != nil {
		return nil, err
	}
	if err := c.PutAcquisitionParams(ctx, mode, next); err != nil {
		return nil, err
	}
	c.logger.Info("beam duration set", "mode", mode, "duration", d, "beams", next.BeamCount())

	return next, nil
}

// Status returns the raw status document. Use DecodeStatus to normalize it.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	body, err := c.call(ctx, http.MethodGet, "/status", nil, nil, c.cfg.requestTimeout)
	if err != nil {
		return nil, err
	}

	return jsonPayload(body)
}

// EnergyCal starts an energy calibration and returns its raw result.
func (c *Client) EnergyCal(ctx context.Context) (json.RawMessage, error) {
	c.logger.Info("energy calibration started")
	body, err := c.call(ctx, http.MethodPost, "/energyCal", nil, []byte("{}"), c.cfg.calibrateTimeout)
	if err != nil {
		return nil, err
	}

	return jsonPayload(body)
}

// EnergyCalCoefficients returns the current energy calibration.
func (c *Client) EnergyCalCoefficients(ctx context.Context) (json.RawMessage, error) {
	body, err := c.call(ctx, http.MethodGet, "/energyCal", nil, nil, c.cfg.requestTimeout)
	if err != nil {
		return nil, err
	}

	return jsonPayload(body)
}

// Screenshot returns an image of the analyzer screen. Older firmware serves it outside
// the versioned root, so the legacy locations are tried as well.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	ep, err := c.currentEndpoint()
	if err != nil {
		return nil, err
	}

	targets := []string{ep.URL("/screenshot", nil)}
	for _, root := range []string{"/api/v1", "/api"} {
		u := ep.BaseURL() + root + "/screenshot"
		if u != targets[0] {
			targets = append(targets, u)
		}
	}

	var errs []error
	for _, target := range targets {
		body, err := c.callURL(ctx, http.MethodGet, target, nil, c.cfg.imageTimeout)
		if err == nil {
			return body, nil
		}
		errs = append(errs, err)
		var terr *TransportError
		if errors.As(err, &terr) || ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("analyzer: screenshot failed: %w", errors.Join(errs...))
}

// Photo returns a camera image. cameraID is e.g. "sample" or "fullview".
func (c *Client) Photo(ctx context.Context, cameraID string) ([]byte, error) {
	var q url.Values
	if cameraID != "" {
		q = url.Values{"cameraId": {cameraID}}
	}

	return c.call(ctx, http.MethodGet, "/photo", q, nil, c.cfg.imageTimeout)
}

// call issues a request below the API root of the current endpoint.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body []byte, timeout time.Duration) ([]byte, error) {
	ep, err := c.currentEndpoint()
	if err != nil {
		return nil, err
	}

	return c.callURL(ctx, method, ep.URL(path, query), body, timeout)
}

// callURL issues a request and maps failures: non-2xx to *HTTPError, I/O errors to
// *TransportError after invalidating the endpoint. Cancellation of ctx by the caller
// is returned as is.
func (c *Client) callURL(ctx context.Context, method, target string, body []byte, timeout time.Duration) ([]byte, error) {
	resp, status, err := c.send(ctx, method, target, body, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.invalidate(err.Error())

		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	if status < 200 || status > 299 {
		c.logger.Warn("request failed", "method", method, "url", target, "status", status)
		return nil, &HTTPError{Method: method, URL: target, StatusCode: status, Body: string(resp)}
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, method, target string, body []byte, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, image/*;q=0.9, */*;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return data, resp.StatusCode, nil
}

func jsonPayload(body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %.200q", ErrInvalidPayload, body)
	}

	return json.RawMessage(body), nil
}
