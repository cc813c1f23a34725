package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tolgaunal/openday-relay/internal/config"
	"github.com/tolgaunal/openday-relay/internal/db"
	"github.com/tolgaunal/openday-relay/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the local submission queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print pending submissions oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openQueueStore()
		if err != nil {
			return err
		}
		defer closeFn()

		recs, err := store.ListPending(cmd.Context())
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}

		for _, r := range recs {
			fmt.Printf("%6d  %s  %s  %s\n", r.ID, r.SubmissionKey, r.EnqueuedAt.Format(time.RFC3339), r.Payload)
		}
		fmt.Printf("%d record(s) pending\n", len(recs))

		return nil
	},
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of pending submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openQueueStore()
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := store.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("count queue: %w", err)
		}

		fmt.Println(n)

		return nil
	},
}

var (
	queueClearYes bool

	queueClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !queueClearYes {
				return errors.New("refusing to drop queued records without --yes")
			}

			store, closeFn, err := openQueueStore()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear queue: %w", err)
			}

			fmt.Println("queue cleared")

			return nil
		},
	}
)

func openQueueStore() (queue.Store, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	conn, err := db.NewSQLiteConnection(cfg.Queue.Path, db.SQLiteOpts{})
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite connect: %w", err)
	}

	store, err := queue.NewSQLiteStore(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue schema: %w", err)
	}

	return store, func() { _ = conn.Close() }, nil
}

func init() {
	queueClearCmd.Flags().BoolVar(&queueClearYes, "yes", false, "actually drop all queued records")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueClearCmd)
}
