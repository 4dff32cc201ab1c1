package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/broker"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/config"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
)

var errNotPublished = errors.New("event was not published; see logs with -v")

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <routing-key> <json-body>",
		Short: "Publish an event to the configured broker",
		Example: `  notifyctl publish user.mentioned '{"mentionedUserId":"u-2","mentionerName":"Ann","postId":"p-1"}'`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []byte(args[1])
			if !json.Valid(body) {
				return fmt.Errorf("body is not valid JSON")
			}
			env, err := events.NewEnvelope(args[0], json.RawMessage(body))
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd.Context())
			return withBroker(ctx, func(p *broker.Publisher) error {
				return publishEnvelope(ctx, cmd.OutOrStdout(), p, env)
			})
		},
	}
}

func publishEnvelope(ctx context.Context, out io.Writer, p *broker.Publisher, env events.Envelope) error {
	if !p.PublishEnvelope(ctx, env) {
		return errNotPublished
	}
	printf(out, "published %s id=%s\n", env.RoutingKey, env.ID)
	return nil
}

// withBroker connects to the configured broker for the duration of fn.
func withBroker(ctx context.Context, fn func(p *broker.Publisher) error) error {
	ctx = cmdContext(ctx)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	b, err := broker.New(cfg.Broker, events.Bindings)
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck // best-effort cleanup on exit

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := broker.ConnectWithRetry(connectCtx, b, cfg.Broker.ConnectAttempts, cfg.Broker.ConnectDelay); err != nil {
		return fmt.Errorf("connect to %s broker: %w", cfg.Broker.Kind, err)
	}
	return fn(broker.NewPublisher(b, cfg.Broker.PublishTimeout))
}
