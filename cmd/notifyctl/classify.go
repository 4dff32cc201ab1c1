package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/notifications"
)

func newClassifyCmd() *cobra.Command {
	var listRules bool
	cmd := &cobra.Command{
		Use:   "classify <routing-key> <json-body>",
		Short: "Show how the consumer would classify an event, without touching the broker or database",
		Args: func(cmd *cobra.Command, args []string) error {
			if listRules {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if listRules {
				for i, name := range notifications.RuleNames() {
					printf(cmd.OutOrStdout(), "  %d. %s\n", i+1, name)
				}
				return nil
			}
			return runClassify(cmd.OutOrStdout(), args[0], []byte(args[1]))
		},
	}
	cmd.Flags().BoolVar(&listRules, "rules", false, "List the classification rules in priority order")
	return cmd
}

func runClassify(out io.Writer, routingKey string, body []byte) error {
	if !events.Bound(routingKey) {
		printf(out, "routing key %q is not bound to the notification queue; it would never be delivered\n", routingKey)
	}
	d, err := notifications.Classify(routingKey, body)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	printf(out, "%s\n", d.Describe())
	if d.Recognized() {
		printf(out, "  title:   %s\n", d.Title)
		printf(out, "  message: %s\n", d.Message)
	}
	return nil
}
