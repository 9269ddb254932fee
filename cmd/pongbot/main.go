// Command pongbot drives simulated players against a running relay.
//
// Each bot connects, queues for a match, plays a fixed number of ticks of
// random paddle and ball updates with the occasional score and chat line,
// then leaves.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "pongbot",
		Usage: "run simulated players against a pong relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "ws://localhost:8080/ws",
				Usage:   "gateway websocket URL",
				Sources: cli.EnvVars("PONGBOT_URL"),
			},
			&cli.IntFlag{
				Name:    "bots",
				Aliases: []string{"n"},
				Value:   2,
				Usage:   "number of concurrent bots",
			},
			&cli.IntFlag{
				Name:  "ticks",
				Value: 100,
				Usage: "updates each bot sends per match",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: 50 * time.Millisecond,
				Usage: "delay between updates",
			},
			&cli.DurationFlag{
				Name:  "match-timeout",
				Value: 30 * time.Second,
				Usage: "how long a bot waits for an opponent",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log every event",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := logrus.New()
	if cmd.Bool("debug") {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := botConfig{
		URL:          cmd.String("url"),
		Ticks:        int(cmd.Int("ticks")),
		Interval:     cmd.Duration("interval"),
		MatchTimeout: cmd.Duration("match-timeout"),
	}
	n := int(cmd.Int("bots"))
	if n < 1 {
		return fmt.Errorf("bots must be at least 1, got %d", n)
	}

	log.WithFields(logrus.Fields{"bots": n, "url": cfg.URL}).Info("Starting bots")

	g, gctx := errgroup.WithContext(ctx)
	results := make([]botResult, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			b := newBot(i, cfg, log.WithField("bot", i))
			res, err := b.play(gctx)
			results[i] = res
			return err
		})
	}

	err := g.Wait()
	for i, res := range results {
		log.WithFields(logrus.Fields{
			"bot":      i,
			"game_id":  res.GameID,
			"role":     res.Role,
			"sent":     res.Sent,
			"received": res.Received,
		}).Info("Bot finished")
	}
	return err
}
