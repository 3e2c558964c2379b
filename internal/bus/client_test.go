package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/narrator-core/internal/config"
)

type ping struct {
	Value string `json:"value"`
}

func TestConnectAndPublishJSON(t *testing.T) {
	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := test.RunServer(&opts)
	defer srv.Shutdown()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Healthy())
	require.NotNil(t, client.JetStream())

	sub, err := client.Conn().SubscribeSync("echo")
	require.NoError(t, err)
	require.NoError(t, client.Conn().Flush())

	require.NoError(t, client.PublishJSON("echo", ping{Value: "hi"}))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var got ping
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, "hi", got.Value)
}

func TestConnectRequiresServers(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Servers = nil
	_, err := Connect(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
