package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/workboard/workboard/internal/claim"
	"github.com/workboard/workboard/internal/config"
	"github.com/workboard/workboard/internal/debug"
	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/gate"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/server"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/storage/factory"
	"github.com/workboard/workboard/internal/telemetry"
)

// natsConnectTimeout bounds how long serve waits for a NATS server that is
// still coming up.
const natsConnectTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "setup",
	Short:   "Run the workboard server",
	Long: `Run the HTTP API over the configured store.

Settings come from .workboard/config.yaml and WB_* variables:

  store.backend   sqlite, dolt, dolt-embedded or memory
  store.path      SQLite file or embedded Dolt directory
  store.dsn       Dolt sql-server DSN
  server.addr     listen address
  lease.ttl       how long a claim lasts
  nats.url        publish change events to NATS when set
  hooks.<point>.timeout / .blocking

Hook settings are reloaded when the config file changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			config.Set("server.addr", addr)
		}
		if cmd.Flags().Changed("log-json") {
			on, _ := cmd.Flags().GetBool("log-json")
			config.Set("log.json", on)
		}
		return serve(getRootContext())
	},
}

func serve(ctx context.Context) error {
	logger := debug.NewLogger(os.Stderr, config.GetString("log.level"), config.GetBool("log.json"))
	slog.SetDefault(logger)

	tcfg := config.Telemetry()
	if err := telemetry.Init(ctx, telemetry.Config{
		Enabled:  tcfg.Enabled,
		Exporter: tcfg.Exporter,
		Endpoint: tcfg.Endpoint,
		Writer:   os.Stderr,
	}, "workboard", Version); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bus := eventbus.New(logger)
	bus.Register(&eventbus.LogHandler{Logger: logger})
	nc, err := connectNATS(bus, logger)
	if err != nil {
		return err
	}

	g := gate.New(config.HookOverrides(), gate.WithWarningFunc(func(r gate.Result) {
		logger.Warn("non-blocking hook failed", "hook", r.Hook, "message", r.Message)
	}))
	if config.Watch(func() {
		g.Configure(config.HookOverrides())
		logger.Info("reloaded hook settings", "config", config.ConfigFileUsed())
	}) {
		logger.Debug("watching config", "path", config.ConfigFileUsed())
	}

	ttl := config.LeaseTTL()
	engine := lifecycle.New(store, g, lifecycle.WithPublisher(bus), lifecycle.WithLeaseTTL(ttl))
	claims := claim.New(store, claim.WithGate(g), claim.WithPublisher(bus), claim.WithLeaseTTL(ttl))
	srv := server.New(engine, claims, config.GetString("server.addr"), logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Start(gctx)
	})
	if nc != nil {
		group.Go(func() error {
			<-gctx.Done()
			return nc.Drain()
		})
	}
	logger.Info("workboard serving",
		"addr", config.GetString("server.addr"),
		"backend", config.Store().Backend,
		"lease_ttl", ttl,
		"nats", nc != nil,
	)
	return group.Wait()
}

func openStore(ctx context.Context) (storage.Store, error) {
	sc := config.Store()
	store, err := factory.New(ctx, sc.Backend, factory.Options{
		Path:      sc.Path,
		DSN:       sc.DSN,
		Committer: config.Requester().Name,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Backend, err)
	}
	return telemetry.WrapStore(store), nil
}

// connectNATS registers a NATS handler on bus when nats.url is set. It
// returns nil when NATS is not configured.
func connectNATS(bus *eventbus.Bus, logger *slog.Logger) (*nats.Conn, error) {
	url := config.GetString("nats.url")
	if url == "" {
		return nil, nil
	}
	nc, err := eventbus.Connect(url, "workboard", natsConnectTimeout)
	if err != nil {
		return nil, err
	}
	prefix := config.GetString("nats.subject")
	h := eventbus.NewNATSHandler(nc, prefix)
	if config.GetBool("nats.jetstream") {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		if err := eventbus.EnsureStream(js, prefix); err != nil {
			nc.Close()
			return nil, err
		}
		h.SetJetStream(js)
	}
	bus.Register(h)
	logger.Info("publishing events to NATS", "url", url, "subject", prefix, "jetstream", h.JetStreamEnabled())
	return nc, nil
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().Bool("log-json", false, "Log as JSON (default: log.json)")
	rootCmd.AddCommand(serveCmd)
}
