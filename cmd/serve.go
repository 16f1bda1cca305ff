package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/handlers"
	"github.com/BatmanBruc/billing-engine/internal/middleware"
	"github.com/BatmanBruc/billing-engine/internal/observability/metrics"
)

func newServeCmd(load configLoader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and usage meter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			a.meter.Start()
			defer a.meter.Stop()

			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides HTTP_ADDR")
	return cmd
}

func newRouter(a *app) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	mw := middleware.New(a.meter, a.log)
	r.Use(gin.Recovery(), mw.RequestID(), mw.Logger(), mw.ResolveAccount())

	h := handlers.NewHandlers(handlers.Deps{
		Webhooks:  a.webhooks,
		Estimates: a.estimates,
		Ledger:    a.ledger,
		Checkout:  a.provider,
		Usage:     a.meter,
		Fees:      a.cfg.Fees,
		Health:    a.store,
	}, a.log)
	h.Register(r, mw, metrics.Handler(a.registry))
	return r
}

func serve(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
