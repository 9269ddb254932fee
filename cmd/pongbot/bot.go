package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/pongrelay/client"
	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

var errNoMatch = errors.New("no opponent found")

type botConfig struct {
	URL          string
	Ticks        int
	Interval     time.Duration
	MatchTimeout time.Duration
}

type botResult struct {
	GameID   string
	Role     state.Role
	Sent     int
	Received int
}

type bot struct {
	idx   int
	cfg   botConfig
	log   logrus.FieldLogger
	arena state.Arena
	rng   *rand.Rand
}

func newBot(idx int, cfg botConfig, log logrus.FieldLogger) *bot {
	return &bot{
		idx:   idx,
		cfg:   cfg,
		log:   log,
		arena: state.DefaultArena(),
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(idx))),
	}
}

// play runs one match. The connection is closed before it returns.
func (b *bot) play(ctx context.Context) (botResult, error) {
	var res botResult

	c := client.New(b.cfg.URL, client.WithLogger(b.log))
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.Run(ctx)
	}()
	defer func() {
		c.Close()
		<-runDone
	}()

	if _, err := b.await(ctx, c, service.EventConnected, b.cfg.MatchTimeout, &res); err != nil {
		return res, err
	}
	if err := c.FindGame(); err != nil {
		return res, fmt.Errorf("find game: %w", err)
	}
	res.Sent++

	matched, err := b.await(ctx, c, service.EventMatched, b.cfg.MatchTimeout, &res)
	if err != nil {
		return res, err
	}
	res.GameID, res.Role = matched.GameID, matched.Role
	b.log.WithFields(logrus.Fields{"game_id": res.GameID, "role": res.Role}).Info("Matched")

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for tick := 0; tick < b.cfg.Ticks; tick++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case ev, ok := <-c.Events():
			if !ok {
				return res, ctx.Err()
			}
			res.Received++
			b.log.WithField("type", ev.Type).Debug("Event")
			if ev.Type == service.EventWSClosed {
				return res, client.ErrNotConnected
			}
			if ev.Type == service.EventPlayerLeft && ev.ClientID != c.ID() {
				b.log.Info("Opponent left")
				return res, nil
			}
			tick--
		case <-ticker.C:
			if err := b.act(c, res.Role, tick); err != nil {
				return res, err
			}
			res.Sent++
		}
	}

	if err := c.LeaveGame(); err != nil {
		return res, fmt.Errorf("leave game: %w", err)
	}
	res.Sent++
	return res, nil
}

// act sends the frame for one tick: always an update, sometimes a score or chat line
func (b *bot) act(c *client.Client, role state.Role, tick int) error {
	switch {
	case tick > 0 && tick%25 == 0:
		return c.Score(b.randomScore(role, tick))
	case tick > 0 && tick%40 == 0:
		return c.Chat(fmt.Sprintf("bot %d tick %d", b.idx, tick))
	default:
		return c.Update(b.randomUpdate(role))
	}
}

func (b *bot) randomUpdate(role state.Role) state.UpdatePayload {
	x := b.arena.PlayerInset
	if role == state.RoleRight {
		x = b.arena.Width - b.arena.PlayerInset
	}
	vx := num(b.rng.Float64()*8 - 4)
	vy := num(0)

	p := state.UpdatePayload{
		Pos: &state.Vec{X: num(float64(x)), Y: num(b.rng.Float64() * float64(b.arena.GroundY()))},
		VX:  &vx,
		VY:  &vy,
	}
	if role == state.RoleLeft {
		p.Ball = &state.BallPayload{
			X:  num(b.rng.Float64() * float64(b.arena.Width)),
			Y:  num(b.rng.Float64() * float64(b.arena.Height)),
			VX: num(float64(b.arena.BallVX)),
			VY: num(float64(b.arena.BallVY)),
		}
	}
	return p
}

func (b *bot) randomScore(role state.Role, tick int) state.ScorePayload {
	v := num(float64(tick / 25))
	if role == state.RoleLeft {
		return state.ScorePayload{Left: &v}
	}
	return state.ScorePayload{Right: &v}
}

// await drains events until one of type typ arrives
func (b *bot) await(ctx context.Context, c *client.Client, typ service.EventType, timeout time.Duration, res *botResult) (service.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return service.Event{}, ctx.Err()
		case <-timer.C:
			return service.Event{}, fmt.Errorf("waiting for %s: %w", typ, errNoMatch)
		case ev, ok := <-c.Events():
			if !ok {
				return service.Event{}, ctx.Err()
			}
			res.Received++
			if ev.Type == typ {
				return ev, nil
			}
		}
	}
}

func num(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}
