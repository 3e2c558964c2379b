package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/narrator-core/internal/bus"
	"github.com/loqalabs/narrator-core/internal/config"
	"github.com/loqalabs/narrator-core/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runServer(t *testing.T) string {
	t.Helper()
	opts := test.DefaultTestOptions
	opts.Port = -1
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func newClient(t *testing.T, url string) *bus.Client {
	t.Helper()
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	client, err := bus.Wrap(conn, testLogger())
	require.NoError(t, err)
	return client
}

func nodeConfig(id string) config.NodeConfig {
	return config.NodeConfig{ID: id, HeartbeatIntervalMS: 20, HeartbeatTimeoutMS: 100}
}

func TestBackendsFromConfig(t *testing.T) {
	cfg := config.Default()
	backends := Backends(cfg)
	require.Len(t, backends, 4)
	require.Equal(t, "generation", backends[0].Name)
	require.Equal(t, "mock", backends[0].Mode)
	require.Equal(t, "speech", backends[3].Name)

	cfg.Speech.Enabled = false
	require.Len(t, Backends(cfg), 3)
}

func TestRejectsInvalidNodeID(t *testing.T) {
	url := runServer(t)
	_, err := NewRegistry(context.Background(), nodeConfig("bad.id"), "", nil, newClient(t, url), nil, testLogger())
	require.ErrorIs(t, err, ErrInvalidNodeID)
}

func TestNodesDiscoverEachOther(t *testing.T) {
	url := runServer(t)

	a, err := NewRegistry(context.Background(), nodeConfig("node-a"), "1.0",
		[]protocol.Backend{{Name: "generation", Mode: "gemini"}}, newClient(t, url), func() int { return 2 }, testLogger())
	require.NoError(t, err)
	defer a.Close()

	b, err := NewRegistry(context.Background(), nodeConfig("node-b"), "1.0",
		[]protocol.Backend{{Name: "generation", Mode: "mock"}}, newClient(t, url), nil, testLogger())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(a.Nodes()) == 2 && len(b.Nodes()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	gemini := b.Query(WithBackend("generation", "gemini"))
	require.Len(t, gemini, 1)
	require.Equal(t, "node-a", gemini[0].ID)
	require.Eventually(t, func() bool {
		return b.Query(WithBackend("generation", "gemini"))[0].Sessions == 2
	}, 2*time.Second, 10*time.Millisecond)

	b.Close()
	require.Eventually(t, func() bool {
		for _, n := range a.Nodes() {
			if n.ID == "node-b" {
				return !n.Healthy
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	self := a.Query(WithBackend("generation", "gemini"))
	require.Len(t, self, 1)
	require.True(t, self[0].Healthy)
}
