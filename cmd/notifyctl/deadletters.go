package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/broker"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/config"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/db"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/notifications"
)

func newDeadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dl"},
		Short:   "Inspect and replay envelopes the consumer gave up on",
	}
	cmd.AddCommand(newDeadLettersListCmd(), newDeadLettersReplayCmd(), newDeadLettersDropCmd())
	return cmd
}

func newDeadLettersListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered envelopes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeadLetters(cmd.Context(), func(store notifications.DeadLetterStore) error {
				return listDeadLetters(cmd.Context(), cmd.OutOrStdout(), store, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	return cmd
}

func newDeadLettersReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <id>",
		Short: "Republish a dead-lettered envelope under its original event id, then remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withDeadLetters(cmd.Context(), func(store notifications.DeadLetterStore) error {
				return withBroker(cmd.Context(), func(p *broker.Publisher) error {
					return replayDeadLetter(cmd.Context(), cmd.OutOrStdout(), store, p, id)
				})
			})
		},
	}
}

func newDeadLettersDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <id>",
		Short: "Delete a dead-lettered envelope without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withDeadLetters(cmd.Context(), func(store notifications.DeadLetterStore) error {
				if err := store.Delete(cmdContext(cmd.Context()), id); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "dropped dead letter %d\n", id)
				return nil
			})
		},
	}
}

func listDeadLetters(ctx context.Context, out io.Writer, store notifications.DeadLetterStore, limit int) error {
	letters, err := store.List(cmdContext(ctx), limit)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	if len(letters) == 0 {
		printf(out, "No dead letters.\n")
		return nil
	}
	printf(out, "  %-6s  %-20s  %-8s  %-20s  %s\n", "ID", "ROUTING KEY", "ATTEMPTS", "CREATED", "ERROR")
	for _, dl := range letters {
		printf(out, "  %-6d  %-20s  %-8d  %-20s  %s\n",
			dl.ID, dl.RoutingKey, dl.Attempts, dl.CreatedAt.UTC().Format(time.RFC3339), dl.Error)
	}
	return nil
}

// replayEnvelope keeps the original event id so the consumer's inbox still
// deduplicates if the first attempt did land, and gives the message its own
// transport id so broker-side duplicate detection lets it through.
func replayEnvelope(dl *notifications.DeadLetter) (events.Envelope, error) {
	env, err := events.NewEnvelope(dl.RoutingKey, dl.Body)
	if err != nil {
		return events.Envelope{}, err
	}
	if dl.EventID != "" {
		env.ID = dl.EventID
	}
	return env.Replay(strconv.FormatInt(dl.ID, 10)), nil
}

func replayDeadLetter(ctx context.Context, out io.Writer, store notifications.DeadLetterStore, p *broker.Publisher, id int64) error {
	ctx = cmdContext(ctx)
	dl, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	env, err := replayEnvelope(dl)
	if err != nil {
		return err
	}
	if err := publishEnvelope(ctx, out, p, env); err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return fmt.Errorf("replayed but could not remove dead letter %d: %w", id, err)
	}
	return nil
}

func withDeadLetters(ctx context.Context, fn func(store notifications.DeadLetterStore) error) error {
	ctx = cmdContext(ctx)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	return fn(notifications.NewPGDeadLetterStore(database.Pool))
}

func cmdContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
