package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/carebridge/caresync-go/internal/api"
	"github.com/carebridge/caresync-go/internal/engine"
	"github.com/carebridge/caresync-go/internal/queue"
)

var queueCommand = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect or replay the durable mutation queue",
	Long:    `Operates on the persisted mutation queue in the data directory. Pending operations survive restarts; "list" shows them in replay order and "flush" attempts delivery immediately.`,
	GroupID: "caresync",
}

var queueListCommand = &cobra.Command{
	Use:   "list",
	Short: "List pending mutations in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("CareSync - Pending Mutations"))

		mgr, err := openQueue(func(ctx context.Context, op queue.Operation) error {
			return fmt.Errorf("delivery not available in list mode")
		})
		if err != nil {
			return err
		}

		pending := mgr.Pending()
		if len(pending) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		for i, op := range pending {
			fmt.Printf("%2d. %s %s %s (enqueued %s, retries %d)\n",
				i+1, op.ID, op.Method, op.Endpoint,
				op.EnqueuedAt.Format(time.RFC3339), op.RetryCount)
		}
		return nil
	},
}

var queueFlushCommand = &cobra.Command{
	Use:   "flush",
	Short: "Attempt delivery of all pending mutations now",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("CareSync - Queue Flush"))

		client := &api.Client{BaseURL: serverURL, AuthToken: authToken}
		mgr, err := openQueue(func(ctx context.Context, op queue.Operation) error {
			return client.Deliver(ctx, op.Endpoint, op.Method, op.Payload)
		})
		if err != nil {
			return err
		}

		before := mgr.Len()
		// SetOnline runs a synchronous drain pass.
		mgr.SetOnline(context.Background(), true)
		after := mgr.Len()

		fmt.Printf("Delivered %d of %d pending mutation(s); %d remain.\n", before-after, before, after)
		return nil
	},
}

// openQueue restores the persisted queue from the data directory with the
// given delivery function and the CLI logger for discard reporting.
func openQueue(deliver queue.DeliverFunc) (*queue.Manager, error) {
	logger := engine.SetupLogger(logLevel, serverURL)

	store, err := queue.NewFileStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	return queue.NewManager(store, deliver, queue.Config{
		MaxRetries: queueMaxRetries,
		Logger:     logger,
		OnDiscard: func(op queue.Operation, lastErr error) {
			fmt.Printf("Discarded %s %s %s after %d retries: %v\n",
				op.ID, op.Method, op.Endpoint, op.RetryCount, lastErr)
		},
	})
}

func init() {
	rootCommand.AddCommand(queueCommand)
	queueCommand.AddCommand(queueListCommand)
	queueCommand.AddCommand(queueFlushCommand)
}
