package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/internal/fakeanalyzer"
	"github.com/arloliu/go-robotray/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const fakeAddr = "127.0.0.1:8080"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() logger.Logger {
	return logger.NewMockLogger().AllowAll()
}

func newTestClient(t *testing.T, network *fakeanalyzer.Network, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{
		WithTransport(network),
		WithLogger(quietLogger()),
		WithProbeTimeout(time.Second),
		WithRequestTimeout(time.Second),
		WithTriggerTimeout(time.Second),
	}, opts...)

	c, err := NewClient(opts...)
	require.NoError(t, err)

	return c
}

// connectedClient returns a client connected to a fake analyzer at fakeAddr.
func connectedClient(t *testing.T, srvOpts ...fakeanalyzer.Option) (*Client, *fakeanalyzer.Server, *fakeanalyzer.Network) {
	t.Helper()

	srvOpts = append([]fakeanalyzer.Option{fakeanalyzer.WithLogger(quietLogger())}, srvOpts...)
	srv := fakeanalyzer.New(srvOpts...)
	network := fakeanalyzer.NewNetwork()
	network.Attach(fakeAddr, srv.Handler())

	c := newTestClient(t, network)
	_, err := c.Connect(context.Background(), "", 0)
	require.NoError(t, err)

	return c, srv, network
}
