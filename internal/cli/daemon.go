package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron-ui/server"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/carebridge/caresync-go/internal/api"
	"github.com/carebridge/caresync-go/internal/connectivity"
	"github.com/carebridge/caresync-go/internal/engine"
	"github.com/carebridge/caresync-go/internal/notifications"
	"github.com/carebridge/caresync-go/internal/queue"
)

var (
	feeds             []string
	pollInterval      time.Duration
	pollMaxInterval   time.Duration
	backoffMultiplier float64
	maxFailures       int
	pushURL           string
	healthPath        string
	probeInterval     time.Duration
	queueMaxRetries   int
	reportSchedule    string
	bindAddress       string
)

var daemonCommand = &cobra.Command{
	Use:     "daemon",
	Short:   "Run CareSync in daemon mode",
	GroupID: "caresync",
	Long:    `Starts CareSync as a background service that continuously polls the configured feeds, replays queued mutations when connectivity allows, and overlays live pushed updates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		banner := fmt.Sprintf("CareSync - Daemon Mode \n\nVersion: %s\nBuild Date: %s", CaresyncVersion, CaresyncDate)
		fmt.Println(headerStyle.Render(banner))

		dlog := engine.SetupLogger(logLevel, serverURL).With("component", "daemon")

		client := &api.Client{
			BaseURL:   serverURL,
			AuthToken: authToken,
		}

		store, err := queue.NewFileStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open queue store: %w", err)
		}

		monitor := connectivity.NewMonitor()
		probe := &connectivity.Probe{
			HealthURL: serverURL + healthPath,
			Interval:  probeInterval,
			Monitor:   monitor,
			Logger:    dlog,
		}

		profiles := make([]engine.Profile, 0, len(feeds))
		for _, feed := range feeds {
			p := engine.Profile{
				Feed:              feed,
				Enabled:           true,
				PollInterval:      pollInterval,
				PollMaxInterval:   pollMaxInterval,
				BackoffMultiplier: backoffMultiplier,
				MaxFailures:       maxFailures,
				PushScope:         feed,
			}
			if err := p.Normalize(); err != nil {
				return fmt.Errorf("invalid profile for feed %q: %w", feed, err)
			}
			profiles = append(profiles, p)
		}

		eng, err := engine.New(engine.Config{
			API:             client,
			Store:           store,
			Monitor:         monitor,
			PushURL:         pushURL,
			Profiles:        profiles,
			QueueMaxRetries: queueMaxRetries,
			Webhook: &notifications.Webhook{
				URL:      webhookURL,
				Username: webhookUsername,
				Password: webhookPassword,
			},
			Logger: dlog,
		})
		if err != nil {
			return err
		}

		probe.Start()
		defer probe.Stop()

		if err := eng.Start(); err != nil {
			return err
		}
		defer eng.Stop()
		dlog.Info("Sync engine started", "feeds", feeds)

		s, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		s.Start()
		defer func() { _ = s.Shutdown() }()

		// 1. Declare the variable first so it can be used INSIDE the task closure
		var queueReportJob gocron.Job

		// 2. Define the Job
		queueReportJob, queueReportErr := s.NewJob(
			gocron.CronJob(
				reportSchedule,
				false,
			),
			gocron.NewTask(func() {
				// A. Report queue depth and nudge a drain in case an earlier
				// pass halted on a transient failure.
				pending := eng.Queue().Pending()
				dlog.Info("Mutation queue report",
					"pending", len(pending),
					"online", monitor.IsOnline())
				eng.Queue().Drain(context.Background())

				// B. Calculate and Log the Next Run (Post-Execution)
				if queueReportJob != nil {
					if nextRun, err := queueReportJob.NextRun(); err == nil {
						dlog.Info("Queue report completed",
							"next_run", nextRun.Format(time.RFC3339),
							"job_id", queueReportJob.ID())
					}
				}
			}),
			gocron.WithName("Mutation Queue Report"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if queueReportErr != nil {
			return queueReportErr
		}

		// 3. Log the Initial Next Run (Pre-Execution)
		if nextRun, err := queueReportJob.NextRun(); err == nil {
			dlog.Info("Job Scheduled",
				"job_name", queueReportJob.Name(),
				"job_id", queueReportJob.ID(),
				"schedule", reportSchedule,
				"next_run", nextRun.Format(time.RFC3339))
		}

		// --- Feed Freshness Report ---
		var freshnessJob gocron.Job

		freshnessJob, freshnessErr := s.NewJob(
			gocron.CronJob(
				reportSchedule,
				false,
			),
			gocron.NewTask(func() {
				overlay := eng.Overlay()
				for _, scope := range overlay.Scopes() {
					if entry, ok := overlay.Get(scope); ok {
						dlog.Info("Feed freshness",
							"scope", scope,
							"source", entry.Source,
							"age", time.Since(entry.UpdatedAt).Round(time.Second))
					}
				}

				if freshnessJob != nil {
					if nextRun, err := freshnessJob.NextRun(); err == nil {
						dlog.Info("Freshness report completed",
							"next_run", nextRun.Format(time.RFC3339),
							"job_id", freshnessJob.ID())
					}
				}
			}),
			gocron.WithName("Feed Freshness Report"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if freshnessErr != nil {
			return freshnessErr
		}

		if nextRun, err := freshnessJob.NextRun(); err == nil {
			dlog.Info("Job Scheduled",
				"job_name", freshnessJob.Name(),
				"job_id", freshnessJob.ID(),
				"schedule", reportSchedule,
				"next_run", nextRun.Format(time.RFC3339))
		}

		srv := server.NewServer(s, 8080, server.WithTitle("CareSync - Dashboard"))
		go func() {
			dlog.Info("CareSync Scheduler UI started", "address", bindAddress)
			if err := http.ListenAndServe(bindAddress, srv.Router); err != nil {
				dlog.Error("Failed to start UI server", "error", err)
			}
		}()

		// 4. Block Main Thread until Signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		dlog.Warn("Shutting down sync engine due to system signal...")
		return nil
	},
}

func init() {
	rootCommand.AddCommand(daemonCommand)
	daemonCommand.Flags().StringSliceVar(&feeds, "feeds", []string{"alerts", "medications", "behavior-logs", "recognition-settings"}, "Feeds to synchronize")
	daemonCommand.Flags().DurationVar(&pollInterval, "poll-interval", 30*time.Second, "Base poll interval per feed")
	daemonCommand.Flags().DurationVar(&pollMaxInterval, "poll-max-interval", 2*time.Minute, "Maximum poll interval while backing off")
	daemonCommand.Flags().Float64Var(&backoffMultiplier, "backoff-multiplier", 1.5, "Poll interval growth factor per consecutive failure")
	daemonCommand.Flags().IntVar(&maxFailures, "max-failures", 3, "Consecutive poll failures before a feed pauses")
	daemonCommand.Flags().StringVar(&pushURL, "push-url", "", "WebSocket endpoint for live updates (empty disables push)")
	daemonCommand.Flags().StringVar(&healthPath, "health-path", "/health", "Health endpoint path used by the connectivity probe")
	daemonCommand.Flags().DurationVar(&probeInterval, "probe-interval", 15*time.Second, "Connectivity probe interval")
	daemonCommand.Flags().IntVar(&queueMaxRetries, "queue-max-retries", 5, "Delivery attempts per queued mutation before discard")
	daemonCommand.Flags().StringVar(&reportSchedule, "report-schedule", "*/5 * * * *", "Cron schedule for maintenance reports")
	daemonCommand.Flags().StringVar(&bindAddress, "bind-address", "0.0.0.0:8080", "Address to bind the UI server")
}
