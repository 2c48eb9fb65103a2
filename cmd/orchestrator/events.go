package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect forwarded domain events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail [event-type...]",
	Short: "Print events published on Redis pub/sub",
	Long: `Subscribe to the Redis channels the orchestrator forwards events to
(EVENTS_DRIVER=redis) and print every envelope as one JSON line.

Examples:
  orchestrator events tail
  orchestrator events tail session.completed session.escalated`,
	RunE: runEventsTail,
}

func init() {
	eventsCmd.AddCommand(eventsTailCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Redis.Disabled {
		return fmt.Errorf("events tail needs redis, but REDIS_DISABLED is set")
	}

	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Format = logger.FormatConsole
	log := logger.New(opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := connectRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	types := shared.AllEventTypes()
	if len(args) > 0 {
		types = types[:0]
		for _, a := range args {
			types = append(types, shared.EventType(a))
		}
	}

	channelOf := redisChannel(cfg.Events.SubjectPrefix)
	channels := make([]string, 0, len(types))
	for _, t := range types {
		channels = append(channels, channelOf(t))
	}

	sub := cache.Subscribe(ctx, channels...)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	log.Info("listening", logger.Strings("channels", channels))

	out := cmd.OutOrStdout()
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, msg.Payload)
		}
	}
}
