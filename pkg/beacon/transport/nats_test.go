package transport_test

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/randalmurphal/beacon/pkg/beacon/errors"
	"github.com/randalmurphal/beacon/pkg/beacon/transport"
)

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATS_PublishesBatch(t *testing.T) {
	srv := startNATS(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("telemetry.events", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	tr, err := transport.NewNATS(srv.ClientURL(), "telemetry.events", "proj-1")
	require.NoError(t, err)
	defer tr.Close()

	batch := []transport.WireEvent{
		{EventID: "a", EventType: "page_view"},
		{EventID: "b", EventType: "click"},
	}
	require.NoError(t, tr.Send(context.Background(), batch))

	select {
	case msg := <-msgs:
		var got []transport.WireEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Len(t, got, 2)
		assert.Equal(t, "click", got[1].EventType)
		assert.Equal(t, "a", msg.Header.Get(nats.MsgIdHdr))
		assert.Equal(t, "proj-1", msg.Header.Get(transport.HeaderProjectID))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNATS_SendAfterClose(t *testing.T) {
	srv := startNATS(t)

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	tr := transport.NewNATSWithConn(conn, "x", "p")

	require.NoError(t, tr.Close())
	assert.False(t, conn.IsClosed(), "borrowed connection stays open")

	conn.Close()
	err = tr.Send(context.Background(), []transport.WireEvent{{EventID: "a"}})
	assert.ErrorIs(t, err, transport.ErrNATSClosed)
	assert.False(t, berrors.IsRetryable(err))
}
