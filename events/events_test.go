package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/x402-summarizer/events"
	"github.com/x402-foundation/x402-summarizer/internal/gatewaytest"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv
}

func subscribe(t *testing.T, url, subject string) *nats.Subscription {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	sub, err := nc.SubscribeSync(subject)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return sub
}

func TestConsumedProofIsPublished(t *testing.T) {
	srv := runServer(t)
	sub := subscribe(t, srv.ClientURL(), events.SubjectConsumed)

	pub, err := events.Connect(events.Config{URL: srv.ClientURL()}, gatewaytest.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	f := gatewaytest.New(t)
	pub.Attach(f.Gateway)
	f.Pay("0xevent", gatewaytest.Price, true)

	res := f.Gateway.Process(context.Background(), gatewaytest.Resource, gatewaytest.Proof("0xevent"))
	require.True(t, res.Granted())
	require.NoError(t, pub.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var ev events.Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, events.TypeProofConsumed, ev.Type)
	assert.Equal(t, "0xevent", ev.Record.TxRef)
	assert.Equal(t, gatewaytest.Resource, ev.Record.ResourceID)
	assert.Equal(t, "10000", ev.Price)
	assert.Equal(t, gatewaytest.Recipient, ev.Recipient)
}

func TestRejectedProofIsNotPublished(t *testing.T) {
	srv := runServer(t)
	sub := subscribe(t, srv.ClientURL(), events.SubjectConsumed)

	pub, err := events.Connect(events.Config{URL: srv.ClientURL()}, gatewaytest.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	f := gatewaytest.New(t)
	pub.Attach(f.Gateway)
	f.Pay("0xshort", gatewaytest.Price-1, true)

	res := f.Gateway.Process(context.Background(), gatewaytest.Resource, gatewaytest.Proof("0xshort"))
	require.False(t, res.Granted())
	require.NoError(t, pub.Flush())

	_, err = sub.NextMsg(100 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestDownstreamFailureIsPublished(t *testing.T) {
	srv := runServer(t)
	sub := subscribe(t, srv.ClientURL(), "audit.failed")

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	pub := events.NewPublisher(nc, "", "audit.failed", gatewaytest.Logger())

	f := gatewaytest.New(t)
	pub.Attach(f.Gateway)
	f.Pay("0xfail", gatewaytest.Price, true)

	res := f.Gateway.Process(context.Background(), gatewaytest.Resource, gatewaytest.Proof("0xfail"))
	require.True(t, res.Granted())
	f.Gateway.ReportDownstreamFailure(context.Background(), res, errors.New("model unavailable"), time.Second)
	require.NoError(t, pub.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, events.TypeDownstreamFailure, ev.Type)
	assert.Equal(t, "model unavailable", ev.Error)
	assert.Equal(t, "0xfail", ev.Record.TxRef)
}

func TestConnectFailure(t *testing.T) {
	_, err := events.Connect(events.Config{URL: "nats://127.0.0.1:1", Timeout: 100 * time.Millisecond}, gatewaytest.Logger())
	assert.Error(t, err)
}
