package stream

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_CoreAndJetStream(t *testing.T) {
	e, err := Start(Options{
		Name:      "test",
		Listen:    "127.0.0.1:0",
		StoreDir:  t.TempDir(),
		JetStream: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	sub, err := e.Client.SubscribeSync("ping")
	require.NoError(t, err)
	require.NoError(t, e.Client.Publish("ping", []byte("pong")))
	m, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(m.Data))

	require.NotNil(t, e.Stream)
	_, err = e.Stream.AddStream(&nats.StreamConfig{Name: "T", Subjects: []string{"t.>"}})
	require.NoError(t, err)
	_, err = e.Stream.Publish("t.1", []byte("x"))
	require.NoError(t, err)
}

func TestStart_JetStreamNeedsStoreDir(t *testing.T) {
	_, err := Start(Options{Listen: "127.0.0.1:0", JetStream: true}, zerolog.Nop())
	require.Error(t, err)
}

func TestParseHostAndPort(t *testing.T) {
	h, p, err := parseHostAndPort("0.0.0.0:4222")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", h)
	assert.Equal(t, 4222, p)

	_, _, err = parseHostAndPort("nope")
	require.Error(t, err)
}
