package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/carebridge/caresync-go/internal/api"
	"github.com/carebridge/caresync-go/internal/retry"
)

var fetchFeed string

var fetchCommand = &cobra.Command{
	Use:     "fetch",
	Short:   "Fetch the current state of one feed",
	GroupID: "caresync",
	Long:    `Performs a single retried fetch of the named feed and prints the raw JSON. Useful for verifying connectivity and credentials without starting the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("CareSync - One-shot Fetch"))

		client := &api.Client{BaseURL: serverURL, AuthToken: authToken}

		var body []byte
		err := retry.Do(cmd.Context(), retry.Config{
			MaxRetries:       3,
			BaseDelay:        2 * time.Second,
			MaxDelay:         10 * time.Second,
			Multiplier:       2.0,
			Jitter:           true,
			OperationTimeout: 60 * time.Second,
		}, "fetch "+fetchFeed, func(ctx context.Context) error {
			var ferr error
			body, ferr = client.FetchFeed(ctx, fetchFeed)
			return ferr
		})
		if err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}

		fmt.Println(string(body))
		return nil
	},
}

func init() {
	rootCommand.AddCommand(fetchCommand)
	fetchCommand.Flags().StringVar(&fetchFeed, "feed", "alerts", "Feed endpoint to fetch")
}
