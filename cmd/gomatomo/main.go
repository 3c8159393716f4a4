package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	httpx "github.com/shortontech/gomatomo/internal/http"
	"github.com/shortontech/gomatomo/internal/metrics"
	"github.com/shortontech/gomatomo/internal/sink"
	"github.com/shortontech/gomatomo/internal/transport"
	"github.com/shortontech/gomatomo/pkg/config"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "gomatomo",
		Short: "Server-side Matomo tracking gateway",
		Long: `gomatomo receives page views and events over HTTP, encodes them
as Matomo tracking requests and forwards them to a Matomo instance.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				os.Setenv("CONFIG_FILE", configFile)
			}
		},
		RunE: runRoot,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking server (default)",
		RunE:  runServe,
	}

	healthcheckCmd = &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe /healthz of a running server; for container health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			host, port, err := net.SplitHostPort(cfg.ServerAddr)
			if err != nil {
				return fmt.Errorf("invalid server address %q: %w", cfg.ServerAddr, err)
			}
			if host == "" {
				host = "127.0.0.1"
			}
			return performHealthCheck(host, port)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, healthcheckCmd, testmodeCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runRoot serves, or runs test mode when TEST_MODE is set.
func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.TestMode {
		log.Println("TEST MODE enabled via configuration")
		return testMode(cmd.Context(), cfg, false)
	}
	return serve(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return serve(cfg)
}

func serve(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsConfig := metrics.LoadConfig()
	metricsConfig.Enabled = metricsConfig.Enabled || cfg.MetricsEnabled
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)
	metricsServer := metrics.NewServer(metricsConfig, reg)
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	sinks := initializeSinks(ctx, cfg.Outputs)
	tr, err := buildTransport(cfg, sinks, appMetrics)
	if err != nil {
		sink.CloseAll(sinks)
		return err
	}

	env := httpx.Env{
		Cfg:       cfg,
		Transport: tr,
		Metrics:   appMetrics,
	}
	srv := startHTTPServer(cfg, env)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	waitForShutdown(stop, srv, metricsServer, sinks)
	return nil
}

// initializeSinks builds and starts the sinks named in outputs. Unknown
// names and sinks that fail to start are logged and skipped.
func initializeSinks(ctx context.Context, outputs []string) []sink.Sink {
	var sinks []sink.Sink
	for _, output := range outputs {
		var s sink.Sink
		switch strings.ToLower(strings.TrimSpace(output)) {
		case "log":
			s = sink.NewLogSink()
		case "kafka":
			s = sink.NewKafkaSinkFromEnv()
		case "postgres", "pg":
			s = sink.NewPGSinkFromEnv()
		case "":
			continue
		default:
			log.Printf("WARNING: unknown output %q ignored", output)
			continue
		}
		sinks = append(sinks, s)
	}
	return sink.StartAll(ctx, sinks)
}

// buildTransport returns the Matomo client, mirrored to sinks when any are
// running. Without a Matomo URL it returns nil and the server reports not
// ready.
func buildTransport(cfg config.Config, sinks []sink.Sink, m *metrics.Metrics) (transport.Transport, error) {
	if cfg.Matomo.URL == "" {
		log.Printf("WARNING: MATOMO_URL is empty; tracking requests will be rejected")
		return nil, nil
	}
	h, err := transport.NewHTTP(transport.Config{
		Endpoint:  cfg.Matomo.TrackingEndpoint(),
		Proxy:     cfg.Matomo.Proxy,
		Timeout:   cfg.Matomo.Timeout,
		UserAgent: "gomatomo",
	})
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return h, nil
	}
	return sink.NewTee(h, sinks, m), nil
}

func startHTTPServer(cfg config.Config, env httpx.Env) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewMux(env),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.EnableHTTPS {
			log.Printf("gomatomo listening on %s (HTTPS)", cfg.ServerAddr)
			err = srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
		} else {
			log.Printf("gomatomo listening on %s", cfg.ServerAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()
	return srv
}

func performHealthCheck(host, port string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}
	if string(body) != "ok" {
		return fmt.Errorf("unexpected health response: %q", body)
	}
	return nil
}

// waitForShutdown blocks until stop fires, then shuts the servers down and
// closes the sinks.
func waitForShutdown(stop <-chan os.Signal, srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) {
	sig := <-stop
	log.Printf("received %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Printf("metrics shutdown: %v", err)
		}
	}
	sink.CloseAll(sinks)
}
