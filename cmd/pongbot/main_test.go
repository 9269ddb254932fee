package main

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/pongrelay/game/matchmaking"
	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/session"
	"github.com/wricardo/mcp-training/pongrelay/game/state"
	gateway "github.com/wricardo/mcp-training/pongrelay/transport/websocket"
)

func startRelay(t *testing.T) (string, *session.MemoryStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := logrus.New()
	log.SetOutput(io.Discard)
	hub := gateway.NewHub(log)
	go hub.Run(ctx)

	store := session.NewMemoryStore()
	svc := service.NewService(store, matchmaking.NewMemoryQueue(), hub, state.DefaultArena(), service.WithLogger(log))
	server := httptest.NewServer(gateway.NewHandler(ctx, hub, svc, gateway.HandlerConfig{OperationTimeout: time.Second}, log))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http"), store
}

func TestRun_PairsBots(t *testing.T) {
	url, store := startRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := newCommand().Run(ctx, []string{"pongbot", "--url", url, "--bots", "2", "--ticks", "30", "--interval", "2ms"})
	require.NoError(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	fields, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	decoded := state.Decode(fields)
	assert.Len(t, decoded.Players, 2)
	assert.NotEqual(t, state.StatusActive, decoded.Status())
}

func TestRun_RejectsZeroBots(t *testing.T) {
	err := newCommand().Run(context.Background(), []string{"pongbot", "--bots", "0"})
	assert.Error(t, err)
}

func TestRun_NoOpponent(t *testing.T) {
	url, _ := startRelay(t)

	err := newCommand().Run(context.Background(), []string{"pongbot", "--url", url, "--bots", "1", "--match-timeout", "100ms"})
	assert.ErrorIs(t, err, errNoMatch)
}

func TestRandomUpdate(t *testing.T) {
	b := newBot(0, botConfig{}, logrus.New())

	left := b.randomUpdate(state.RoleLeft)
	require.NotNil(t, left.Ball)
	assert.Equal(t, "110", left.Pos.X.String())

	right := b.randomUpdate(state.RoleRight)
	assert.Nil(t, right.Ball)
	assert.Equal(t, "790", right.Pos.X.String())

	fields := right.Fields("r")
	assert.Equal(t, "790", fields[state.PlayerField("r", state.AttrX)])
}
