// Command authorizer runs the gateway token authorizer.
//
// In lambda mode (the default) it serves API Gateway TOKEN authorizer
// invocations. In http mode it serves:
//
//	POST /authorize   decision for {"authorizationToken", "methodArn"}
//	GET  /metrics     Prometheus metrics
//	GET  /healthz     liveness
//
// Configuration comes from AUTHORIZER_* environment variables and an
// optional file named by AUTHORIZER_CONFIG_FILE:
//
//	AUTHORIZER_USER_POOL_URL=https://cognito-idp.us-east-1.amazonaws.com/us-east-1_AbC \
//	AUTHORIZER_IDENTITY_POOL_ID=us-east-1:0f5d3c1e-7f7a-4c4b-9a55-5a1b7c9d2e11 \
//	AUTHORIZER_MODE=http authorizer
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StricklySoft/gateway-authorizer/pkg/authorizer"
	"github.com/StricklySoft/gateway-authorizer/pkg/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("authorizer exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load[authorizer.Config](
		config.New().WithEnvPrefix(authorizer.EnvPrefix).WithFileFromEnv(authorizer.ConfigFileEnv),
	)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := authorizer.NewPrometheusMetrics(reg)
	if err != nil {
		return err
	}

	svc, err := authorizer.New(ctx, cfg, authorizer.Options{Metrics: metrics, Logger: logger})
	if err != nil {
		return err
	}

	logger.Info("authorizer starting",
		"mode", cfg.Mode,
		"issuer", cfg.Issuer,
		"identity_pool_id", cfg.IdentityPoolID,
	)

	if cfg.Mode == authorizer.ModeLambda {
		lambda.StartWithOptions(authorizer.NewLambdaHandler(svc), lambda.WithContext(ctx))
		return nil
	}
	return serveHTTP(ctx, logger, cfg.ListenAddr, svc, reg)
}

func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, svc *authorizer.Service, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/authorize", authorizer.HTTPHandler(svc))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
