package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/api"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/browser"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/scheduler"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe a API e agenda a coleta pelo cron.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx, cfg, logger, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		// --- API ---
		handler := api.NewHandler(rt.store, logger)
		router := api.Router(handler, rt.refresh.LastSuccess, metrics.Handler(rt.counters, metrics.Defs, logger))
		srv := &http.Server{
			Addr:              cfg.Web.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		serveErr := make(chan error, 1)
		go func() {
			logger.Info("api ouvindo", "addr", cfg.Web.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		// --- Coleta ---
		sched := scheduler.New(ctx, func(ctx context.Context) error {
			_, err := rt.refresh.Run(ctx)
			return err
		}, logger)
		if err := sched.Register(cfg.Schedule.Cron); err != nil {
			return err
		}
		sched.Start()
		if rt.created || cfg.Schedule.RunOnStart {
			sched.RunAfter(cfg.Schedule.InitialDelay)
		}

		go browser.StartProfileSweeper(ctx, cfg.Browser.ProfileDir, 15*time.Minute, logger)

		select {
		case <-ctx.Done():
			logger.Info("sinal recebido, encerrando")
		case err = <-serveErr:
			logger.Error("api parou", "err", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("erro encerrando api", "err", shutdownErr)
		}
		sched.Stop()

		if err != nil {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
