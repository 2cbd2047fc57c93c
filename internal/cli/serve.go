package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/backupsentry/internal/config"
	"github.com/ppiankov/backupsentry/internal/server"
	"github.com/ppiankov/backupsentry/internal/store"
	"github.com/ppiankov/backupsentry/internal/systemd"
)

var (
	serveGRPCAddr    string
	serveMetricsAddr string
	serveNoReload    bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC listen address (default from config)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (default from config, \"off\" disables)")
	serveCmd.Flags().BoolVar(&serveNoReload, "no-reload", false, "Disable config hot-reload")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assessor service and watch every honey set",
	Long: "Serves the Assessor gRPC API (Assess, ScanPath, HoneyStatus), exposes\n" +
		"Prometheus metrics, re-attaches the catalogued honey sets and relays\n" +
		"their alerts. Scoring and decision settings hot-reload on config change.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()

	for _, w := range systemd.CheckUnits(unitHashPath()) {
		e.logger.Warn("systemd unit integrity", "warning", w)
	}

	ctx, cancel := notifyContext()
	defer cancel()

	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	reg, err := e.honeyRegistry(ctx)
	if err != nil {
		return err
	}
	recs, err := store.HoneySets(ctx, st)
	if err != nil {
		return err
	}
	if err := reg.Restore(recs); err != nil {
		e.logger.Warn("some honey sets could not be re-attached", "error", err)
	}
	e.logger.Info("honey sets watched", "count", len(reg.List()))

	collector, err := e.signals()
	if err != nil {
		return err
	}
	sink, err := e.alerts(ctx)
	if err != nil {
		return err
	}
	journal, err := e.journal()
	if err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	srv, err := server.New(server.Deps{
		ConfigPath: path,
		Config:     e.cfg,
		ConfigHash: e.hash,
		Collector:  collector,
		Honey:      reg,
		Audit:      journal,
		Alerts:     sink,
		Logger:     e.logger,
		Metrics:    e.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if !serveNoReload {
		if _, statErr := os.Stat(path); statErr == nil {
			reloader, err := server.NewReloader(srv, path, e.logger)
			if err != nil {
				e.logger.Warn("hot-reload disabled", "error", err)
			} else {
				go reloader.Run(ctx)
			}
		}
	}

	metricsAddr := serveMetricsAddr
	if metricsAddr == "" {
		metricsAddr = e.cfg.Server.MetricsAddr
	}
	if metricsAddr != "" && metricsAddr != "off" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.metrics.Handler())
		hs := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = hs.Shutdown(sctx)
		}()
	}

	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down assessor...")
		srv.GracefulStop()
	}()

	grpcAddr := serveGRPCAddr
	if grpcAddr == "" {
		grpcAddr = e.cfg.Server.GRPCAddr
	}
	fmt.Fprintf(os.Stderr, "backupsentry assessor listening on %s\n", grpcAddr)
	if metricsAddr != "" && metricsAddr != "off" {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", metricsAddr)
	}
	return srv.Serve(grpcAddr)
}
