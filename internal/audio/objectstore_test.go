package audio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func startJetStream(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := test.RunServer(&opts)

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		t.Fatalf("connect to test nats server: %v", err)
	}
	return srv, conn
}

func TestObjectStoreAllocator(t *testing.T) {
	srv, conn := startJetStream(t)
	defer srv.Shutdown()
	defer conn.Close()

	js, err := conn.JetStream()
	require.NoError(t, err)

	audioSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("narration-bytes"))
	}))
	defer audioSrv.Close()

	alloc, err := NewObjectStoreAllocator(js, "narrator-audio-test", 1<<20, audioSrv.Client())
	require.NoError(t, err)

	h, err := alloc.Acquire(context.Background(), audioSrv.URL+"/story.mp3")
	require.NoError(t, err)
	require.Equal(t, 1, alloc.Outstanding())

	data, err := alloc.Open(context.Background(), h.ID)
	require.NoError(t, err)
	require.Equal(t, "narration-bytes", string(data))

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	require.Equal(t, 0, alloc.Outstanding())

	_, err = alloc.Open(context.Background(), h.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// A second allocator binds to the existing bucket.
	again, err := NewObjectStoreAllocator(js, "narrator-audio-test", 0, nil)
	require.NoError(t, err)
	require.Equal(t, 0, again.Outstanding())
}
