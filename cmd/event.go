package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/salesdesk/crm-management/internal/core/events"
	"github.com/salesdesk/crm-management/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event bus commands",
	Long:  `Publish test events to the in-process event bus for debugging subscriber wiring`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [user-id]",
	Short: "Publish a test user.updated event",
	Long:  `Publish a user.updated event for the given user id and watch it reach a logging subscriber`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent(args[0])
	},
}

var eventTenant string

func publishTestEvent(userID string) {
	lg := logger.LoggerWrapper()

	eventBus := events.NewEventBus(lg)

	eventBus.Subscribe(events.EventTypeUserUpdated, func(ctx context.Context, event events.Event) error {
		lg.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	testEvent := events.NewUserUpdatedEvent(userID, eventTenant, "SALES_REP")

	lg.Info("publishing test event", "event_type", testEvent.EventType(), "event_id", testEvent.EventID())

	if err := eventBus.Publish(context.Background(), testEvent); err != nil {
		lg.Error("failed to publish event", "error", err)
		return
	}

	// handlers run async; give them a moment before the process exits
	time.Sleep(100 * time.Millisecond)
	lg.Info("test event published successfully")
}

func init() {
	publishEventCmd.Flags().StringVar(&eventTenant, "tenant", "acme", "Tenant id carried by the event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
