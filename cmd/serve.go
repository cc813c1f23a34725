package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tolgaunal/openday-relay/internal/config"
	"github.com/tolgaunal/openday-relay/internal/connectivity"
	"github.com/tolgaunal/openday-relay/internal/db"
	httpSrv "github.com/tolgaunal/openday-relay/internal/http"
	"github.com/tolgaunal/openday-relay/internal/logger"
	"github.com/tolgaunal/openday-relay/internal/queue"
	"github.com/tolgaunal/openday-relay/internal/relay"
	"github.com/tolgaunal/openday-relay/internal/status"
	"github.com/tolgaunal/openday-relay/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay beside the registration desk",
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

		svc := relay.New(store, client, relay.Options{Probe: connectivity.Opts{
			Interval:      cfg.Probe.Interval,
			Timeout:       cfg.Probe.Timeout,
			FailThreshold: cfg.Probe.FailThreshold,
		}})
		svc.Start()
		defer svc.Close()

		if cfg.Redis.Enabled {
			redisClient, err := db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = redisClient.Close() }()

			bridge := status.NewRedisBridge(svc.Publisher(), redisClient, cfg.Redis.Channel)
			defer bridge.Close()
		}

		server := httpSrv.NewServer(svc)

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
