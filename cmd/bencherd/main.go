// Command bencherd is the server process wiring C1-C10 into the §6
// HTTP/WebSocket surface: it loads a YAML config, opens the store,
// constructs each component's collaborators, runs C9's startup recovery,
// and serves the chi router built by bencher/api.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.bencher.dev/core/bencher/ambient/metrics2"
	"go.bencher.dev/core/bencher/ambient/sklog"
	"go.bencher.dev/core/bencher/api"
	"go.bencher.dev/core/bencher/auth"
	"go.bencher.dev/core/bencher/config"
	"go.bencher.dev/core/bencher/heartbeat"
	"go.bencher.dev/core/bencher/identity"
	"go.bencher.dev/core/bencher/ratelimit"
	"go.bencher.dev/core/bencher/store"
	"go.bencher.dev/core/bencher/store/migrations"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "bencherd",
		Short: "bencherd runs the continuous-benchmarking core: ingestion, alert detection, and job dispatch.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "bencherd.yaml", "Path to the YAML configuration file.")
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		sklog.Fatalf("%s", err)
	}
}

func loadConfig() *config.Config {
	data, err := os.ReadFile(configPath)
	if err != nil {
		sklog.Fatalf("reading config %q: %s", configPath, err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		sklog.Fatalf("loading config: %s", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	return cfg
}

func serveCmd() *cobra.Command {
	var promPort string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server: report ingestion, threshold CRUD, and the runner job protocol.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := cmd.Context()

			st, err := store.Open(ctx, cfg.DSN)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					sklog.Errorf("closing store: %s", err)
				}
			}()

			supervisor := heartbeat.New(st, cfg.Timeouts.HeartbeatWindow)
			if err := supervisor.Recover(ctx); err != nil {
				return err
			}

			deps := api.Deps{
				Store:      st,
				Resolver:   identity.New(st.DB),
				Limiter:    ratelimit.NewLimiter(ratelimit.DefaultConfig()),
				Validator:  auth.NewValidator([]byte(cfg.JWTSecret), "bencher"),
				Supervisor: supervisor,
				Config:     cfg,
			}

			go serveMetrics(promPort)

			sklog.Infof("bencherd listening on %s", cfg.ListenAddr)
			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           api.New(deps),
				ReadHeaderTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&promPort, "prom_port", ":20000", "Prometheus metrics service address.")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := cmd.Context()
			st, err := store.Open(ctx, cfg.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := migrations.Up(ctx, st.DB); err != nil {
				return err
			}
			sklog.Infof("migrations applied")
			return nil
		},
	}
}

// serveMetrics exposes the process's prometheus registry on its own
// listener, kept separate from the application port the way the
// teacher's services split app traffic from scrape traffic.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics2.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		sklog.Errorf("metrics server: %s", err)
	}
}
