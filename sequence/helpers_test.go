package sequence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/counter"
	"github.com/arloliu/go-robotray/internal/fakeanalyzer"
	"github.com/arloliu/go-robotray/logger"
	"github.com/arloliu/go-robotray/stage"
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

// fakeStage records relative moves.
type fakeStage struct {
	mu     sync.Mutex
	moves  []stage.Position
	err    error
	onMove func()
}

func (s *fakeStage) MoveBy(_ context.Context, delta stage.Position) (stage.Position, error) {
	s.mu.Lock()
	onMove, err := s.onMove, s.err
	if err == nil || errors.Is(err, stage.ErrNoAck) {
		s.moves = append(s.moves, delta)
	}
	s.mu.Unlock()

	if onMove != nil {
		onMove()
	}

	return delta, err
}

func (s *fakeStage) Moves() []stage.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]stage.Position(nil), s.moves...)
}

// failingCounter fails NextTestNumber from call failAt on.
type failingCounter struct {
	*counter.Store
	mu     sync.Mutex
	calls  int
	failAt int
}

func (c *failingCounter) NextTestNumber() (int64, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls >= c.failAt
	c.mu.Unlock()

	if fail {
		return 0, counter.ErrPersist
	}

	return c.Store.NextTestNumber()
}

type bench struct {
	store    *counter.Store
	stage    *fakeStage
	server   *fakeanalyzer.Server
	network  *fakeanalyzer.Network
	analyzer *analyzer.Client
	dir      string
}

func newBench(t *testing.T) *bench {
	t.Helper()

	dir := t.TempDir()
	store, err := counter.Open(filepath.Join(dir, "state.json"), counter.WithLogger(quietLogger()))
	require.NoError(t, err)

	srv := fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger()))
	network := fakeanalyzer.NewNetwork()
	network.Attach(fakeAddr, srv.Handler())

	client, err := analyzer.NewClient(
		analyzer.WithTransport(network),
		analyzer.WithLogger(quietLogger()),
		analyzer.WithTriggerTimeout(time.Second),
	)
	require.NoError(t, err)
	_, err = client.Connect(context.Background(), "", 0)
	require.NoError(t, err)

	return &bench{store: store, stage: &fakeStage{}, server: srv, network: network, analyzer: client, dir: dir}
}

// testTable returns a table whose row i moves by (i+1, -(i+1)).
func testTable(t *testing.T, rows int) *OffsetTable {
	t.Helper()

	var sb strings.Builder
	sb.WriteString("dx\tdy\n")
	for i := range rows {
		fmt.Fprintf(&sb, "%d\t%d\n", i+1, -(i+1))
	}

	table, err := ParseOffsetTable(strings.NewReader(sb.String()))
	require.NoError(t, err)

	return table
}

func (b *bench) orchestrator(t *testing.T, table *OffsetTable, opts ...Option) *Orchestrator {
	t.Helper()

	sink, err := NewFileSink(filepath.Join(b.dir, "out"), true)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(quietLogger()), WithArtifactSink(sink)}, opts...)
	o, err := New(b.store, b.stage, b.analyzer, table, opts...)
	require.NoError(t, err)

	return o
}
