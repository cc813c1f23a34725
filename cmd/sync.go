package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tolgaunal/openday-relay/internal/config"
	"github.com/tolgaunal/openday-relay/internal/connectivity"
	"github.com/tolgaunal/openday-relay/internal/db"
	"github.com/tolgaunal/openday-relay/internal/logger"
	"github.com/tolgaunal/openday-relay/internal/queue"
	"github.com/tolgaunal/openday-relay/internal/relay"
	"github.com/tolgaunal/openday-relay/internal/upstream"
)

// sync replays the queue once and exits. Useful when the relay itself is not
// running, e.g. the morning after an event that ended offline.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued submissions once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		conn, err := db.NewSQLiteConnection(cfg.Queue.Path, db.SQLiteOpts{})
		if err != nil {
			return fmt.Errorf("sqlite connect: %w", err)
		}
		defer conn.Close()

		store, err := queue.NewSQLiteStore(conn)
		if err != nil {
			return fmt.Errorf("queue schema: %w", err)
		}

		client, err := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
		if err != nil {
			return fmt.Errorf("upstream client: %w", err)
		}

		ctx := cmd.Context()

		if err := client.CheckHealth(ctx); err != nil {
			return fmt.Errorf("backend not reachable: %w", err)
		}

		svc := relay.New(store, client, relay.Options{Probe: connectivity.Opts{
			Interval:      cfg.Probe.Interval,
			Timeout:       cfg.Probe.Timeout,
			FailThreshold: cfg.Probe.FailThreshold,
		}})

		res, err := svc.TriggerSync(ctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		fmt.Printf("synced %d record(s), %d failed\n", res.Success, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("%d record(s) could not be replayed", res.Failed)
		}

		return nil
	},
}
