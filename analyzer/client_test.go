package analyzer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/internal/fakeanalyzer"
	"github.com/stretchr/testify/require"
)

func TestDiscover_StopsAtFirstResponder(t *testing.T) {
	require := require.New(t)

	network := fakeanalyzer.NewNetwork()
	network.Attach("127.0.0.1:9003", fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger())).Handler())

	c := newTestClient(t, network, WithPreferredPorts(), WithPortRange(9000, 9010), WithExcludedPorts())

	ep, id, err := c.Discover(context.Background(), "127.0.0.1", 0)
	require.NoError(err)
	require.Equal("http://127.0.0.1:9003", ep.BaseURL())
	require.Equal("/api/v2", ep.APIRoot)
	require.Equal("X-550", id.Family)
	require.True(id.HasApp("mining"))

	require.Equal([]string{"127.0.0.1:9000", "127.0.0.1:9001", "127.0.0.1:9002", "127.0.0.1:9003"}, network.Attempts())
	require.False(c.Connected(), "Discover must not change the client state")
}

func TestDiscover_PortOrder(t *testing.T) {
	require := require.New(t)

	c := newTestClient(t, fakeanalyzer.NewNetwork())
	ports := c.Config().Ports(0)

	require.Equal(8080, ports[0])
	require.NotContains(ports, 8071)
	require.Equal(8070, ports[1])
	require.Equal(8090, ports[len(ports)-1])
	require.Len(ports, 20)

	require.Equal([]int{8123}, c.Config().Ports(8123))
}

func TestDiscover_OlderAPIRoot(t *testing.T) {
	require := require.New(t)

	network := fakeanalyzer.NewNetwork()
	network.Attach(fakeAddr, fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger()), fakeanalyzer.WithAPIRoot("/api/v1")).Handler())
	c := newTestClient(t, network)

	ep, err := c.Connect(context.Background(), "127.0.0.1", 8080)
	require.NoError(err)
	require.Equal("/api/v1", ep.APIRoot)
	// /api/v2/id answered 404, then /api/v1/id was accepted
	require.Equal(2, network.Requests(fakeAddr))
}

func TestDiscover_FallbackHost(t *testing.T) {
	require := require.New(t)

	network := fakeanalyzer.NewNetwork()
	network.Attach("192.168.42.129:8080", fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger())).Handler())
	c := newTestClient(t, network, WithFallbackHosts("192.168.42.129"))

	ep, err := c.Connect(context.Background(), "", 8080)
	require.NoError(err)
	require.Equal("192.168.42.129", ep.Host)
	require.Equal([]string{"127.0.0.1:8080", "192.168.42.129:8080"}, network.Attempts())
}

func TestDiscover_NotFound(t *testing.T) {
	require := require.New(t)

	c := newTestClient(t, fakeanalyzer.NewNetwork(), WithPreferredPorts(8080), WithPortRange(8070, 8072))

	_, err := c.Connect(context.Background(), "", 0)
	require.ErrorIs(err, ErrNoEndpoint)

	var derr *DiscoveryError
	require.ErrorAs(err, &derr)
	require.Equal([]string{"127.0.0.1:8080", "127.0.0.1:8070", "127.0.0.1:8072"}, derr.Addrs())
	require.Contains(err.Error(), "127.0.0.1:8072")
	require.False(c.Connected())
}

func TestDiscover_IgnoresNonIdentityDocuments(t *testing.T) {
	require := require.New(t)

	other := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"some other service"}`))
	})
	network := fakeanalyzer.NewNetwork()
	network.Attach("127.0.0.1:8080", other)
	network.Attach("127.0.0.1:8070", fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger())).Handler())
	c := newTestClient(t, network)

	ep, err := c.Connect(context.Background(), "", 0)
	require.NoError(err)
	require.Equal(8070, ep.Port)
	require.Equal(len(DefaultIDPaths), network.Requests("127.0.0.1:8080"))
}

func TestConnect_RealServer(t *testing.T) {
	require := require.New(t)

	srv := fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(err)
	port, err := strconv.Atoi(portStr)
	require.NoError(err)

	c, err := NewClient(WithLogger(quietLogger()))
	require.NoError(err)

	ep, err := c.Connect(context.Background(), host, port)
	require.NoError(err)
	require.Equal(ts.URL, ep.BaseURL())
	require.NoError(c.Heartbeat(context.Background()))
}

func TestControl_NotConnected(t *testing.T) {
	require := require.New(t)

	c := newTestClient(t, fakeanalyzer.NewNetwork())

	_, err := c.Trigger(context.Background(), "Mining", KindFinal)
	require.ErrorIs(err, ErrNotConnected)
	require.ErrorIs(c.Heartbeat(context.Background()), ErrNotConnected)
	require.ErrorIs(c.Abort(context.Background()), ErrNotConnected)
	_, err = c.Status(context.Background())
	require.ErrorIs(err, ErrNotConnected)
}

func TestTrigger(t *testing.T) {
	require := require.New(t)

	c, srv, _ := connectedClient(t)

	raw, err := c.Trigger(context.Background(), "Mining", KindFinal)
	require.NoError(err)
	require.JSONEq(string(fakeanalyzer.DefaultResult), string(raw))

	_, err = c.Trigger(context.Background(), "Soil", KindAll)
	require.NoError(err)

	trig := srv.Triggers()
	require.Len(trig, 2)
	require.Equal("Mining", trig[0].Mode)
	require.Equal("final", trig[0].Kind)
	require.Equal("Soil", trig[1].Mode)
	require.Equal("all", trig[1].Kind)

	_, err = c.Trigger(context.Background(), " ", KindFinal)
	require.Error(err)
	_, err = c.Trigger(context.Background(), "Mining", TestKind("partial"))
	require.Error(err)
	require.Len(srv.Triggers(), 2)
}

func TestTrigger_HTTPErrorKeepsEndpoint(t *testing.T) {
	require := require.New(t)

	c, srv, _ := connectedClient(t)
	srv.FailTrigger(1, http.StatusInternalServerError, "detector busy\n")

	_, err := c.Trigger(context.Background(), "Mining", KindFinal)
	var herr *HTTPError
	require.ErrorAs(err, &herr)
	require.Equal(http.StatusInternalServerError, herr.StatusCode)
	require.Equal("detector busy\n", herr.Body)
	require.Equal(http.MethodPost, herr.Method)
	require.Contains(herr.URL, "/api/v2/test/final?mode=Mining")
	require.True(c.Connected())

	_, err = c.Trigger(context.Background(), "Mining", KindFinal)
	require.NoError(err)
}

func TestTrigger_CanceledKeepsEndpoint(t *testing.T) {
	require := require.New(t)

	c, _, _ := connectedClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Trigger(ctx, "Mining", KindFinal)
	require.ErrorIs(err, context.Canceled)
	require.True(c.Connected())
}

func TestHeartbeat_InvalidatesOnTransportError(t *testing.T) {
	require := require.New(t)

	srv := fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger()))
	network := fakeanalyzer.NewNetwork()
	network.Attach(fakeAddr, srv.Handler())
	c := newTestClient(t, network)

	var (
		mu          sync.Mutex
		transitions []string
	)
	id := c.AddLinkStateHandler(func(prev, next LinkState, _ Endpoint) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, prev.String()+"->"+next.String())
	})

	_, err := c.Connect(context.Background(), "", 0)
	require.NoError(err)
	require.True(c.LinkState().IsUp())
	require.NoError(c.Heartbeat(context.Background()))
	require.False(c.LastHeartbeat().IsZero())

	network.Detach(fakeAddr)
	err = c.Heartbeat(context.Background())
	var terr *TransportError
	require.ErrorAs(err, &terr)
	require.False(c.Connected())
	require.Equal(LinkDown, c.LinkState())
	require.True(c.Endpoint().IsZero())

	_, err = c.Trigger(context.Background(), "Mining", KindFinal)
	require.ErrorIs(err, ErrNotConnected)

	network.Attach(fakeAddr, srv.Handler())
	ep, err := c.Reconnect(context.Background())
	require.NoError(err)
	require.Equal(8080, ep.Port)

	mu.Lock()
	require.Equal([]string{"down->up", "up->down", "down->up"}, transitions)
	mu.Unlock()

	require.True(c.RemoveLinkStateHandler(id))
	require.False(c.RemoveLinkStateHandler(id))
}

func TestHeartbeat_InvalidatesOnHTTPError(t *testing.T) {
	require := require.New(t)

	c, srv, _ := connectedClient(t)
	srv.SetDown(true)

	err := c.Heartbeat(context.Background())
	var herr *HTTPError
	require.ErrorAs(err, &herr)
	require.Equal(http.StatusServiceUnavailable, herr.StatusCode)
	require.False(c.Connected())
}

func TestTransportErrorInvalidates(t *testing.T) {
	require := require.New(t)

	c, _, network := connectedClient(t)
	network.Detach(fakeAddr)

	_, err := c.Status(context.Background())
	var terr *TransportError
	require.ErrorAs(err, &terr)
	require.Equal(http.MethodGet, terr.Method)
	require.False(c.Connected())
}

func TestAbort(t *testing.T) {
	require := require.New(t)

	c, srv, _ := connectedClient(t)
	require.NoError(c.Abort(context.Background()))
	require.Equal(1, srv.Aborts())
}

func TestAbort_LegacyPath(t *testing.T) {
	require := require.New(t)

	c, srv, network := connectedClient(t, fakeanalyzer.WithLegacyAbort())
	require.NoError(c.Abort(context.Background()))
	require.Equal(1, srv.Aborts())
	// id probe, /test/abort, /abort
	require.Equal(3, network.Requests(fakeAddr))
}

func TestSetBeamDuration(t *testing.T) {
	require := require.New(t)

	c, srv, _ := connectedClient(t)

	p, err := c.AcquisitionParams(context.Background(), "Mining")
	require.NoError(err)
	require.Equal(ParamsNested, p.Schema)
	require.Equal(2, p.BeamCount())

	next, err := c.SetBeamDuration(context.Background(), "Mining", 2500*time.Millisecond)
	require.NoError(err)
	require.Equal([]time.Duration{2500 * time.Millisecond, 2500 * time.Millisecond}, next.BeamDurations())

	stored, err := DecodeAcquisitionParams(srv.Params("Mining"))
	require.NoError(err)
	require.Equal(next.BeamDurations(), stored.BeamDurations())

	var doc map[string]any
	require.NoError(json.Unmarshal(srv.Params("Mining"), &doc))
	require.Equal("Cu", doc["filter"])

	// other modes keep their parameters
	soil, err := DecodeAcquisitionParams(srv.Params("Soil"))
	require.NoError(err)
	require.Equal([]time.Duration{10 * time.Second, 20 * time.Second}, soil.BeamDurations())
}

func TestStatusAndCalibration(t *testing.T) {
	require := require.New(t)

	c, srv, _ := connectedClient(t)

	raw, err := c.Status(context.Background())
	require.NoError(err)
	st, err := DecodeStatus(raw)
	require.NoError(err)
	require.InDelta(87.0, *st.Battery, 1e-9)

	_, err = c.EnergyCal(context.Background())
	require.NoError(err)
	require.Equal(1, srv.Calibrations())

	coeff, err := c.EnergyCalCoefficients(context.Background())
	require.NoError(err)
	require.JSONEq(string(fakeanalyzer.DefaultEnergyCal), string(coeff))
}

func TestImages(t *testing.T) {
	require := require.New(t)

	c, srv, _ := connectedClient(t)
	srv.SetImage([]byte("png-bytes"))

	img, err := c.Screenshot(context.Background())
	require.NoError(err)
	require.Equal([]byte("png-bytes"), img)

	img, err = c.Photo(context.Background(), "sample")
	require.NoError(err)
	require.Equal([]byte("png-bytes"), img)
}

func TestScreenshot_LegacyLocation(t *testing.T) {
	require := require.New(t)

	srv := fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger()), fakeanalyzer.WithAPIRoot("/api/v1"))
	network := fakeanalyzer.NewNetwork()
	// the v2 root answers identification only; screenshots live below /api/v1
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/id", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"family":"X-550"}`))
	})
	mux.Handle("/api/v1/", srv.Handler())
	network.Attach(fakeAddr, mux)

	c := newTestClient(t, network)
	ep, err := c.Connect(context.Background(), "", 8080)
	require.NoError(err)
	require.Equal("/api/v2", ep.APIRoot)

	img, err := c.Screenshot(context.Background())
	require.NoError(err)
	require.Equal(fakeanalyzer.DefaultImage, img)
}
