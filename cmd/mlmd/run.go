package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mlm-network/internal/bot"
	"mlm-network/internal/lease"
	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/metrics"
	"mlm-network/internal/worker"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler, the metrics endpoint and, with a token, the Telegram bot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var (
			tg   *telego.Bot
			opts []ledger.Option
		)
		if cfg.BotToken != "" {
			if tg, err = telego.NewBot(cfg.BotToken); err != nil {
				return err
			}
			opts = append(opts, ledger.WithNotifier(bot.NewNotifier(tg)))
		}

		a, err := newApp(ctx, cfg, true, opts...)
		if err != nil {
			return err
		}
		defer a.Close()

		scheduler := worker.NewScheduler(a.engine, a.investments, lease.NewRedisLocker(a.rdb), a.cfg.SchedulerInterval, a.log)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.cfg.MetricsAllowedCIDRs))
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return scheduler.Start(ctx)
		})
		eg.Go(func() error {
			a.log.Info("metrics server listening", logging.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if tg != nil {
			b := bot.NewBot(tg, a.store, a.members, a.engine, a.investments, a.log)
			eg.Go(func() error {
				return b.Start(ctx)
			})
		}

		a.log.Info("Service started successfully")
		if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
