package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pos-sync/internal/collab"
	"pos-sync/internal/config"
	"pos-sync/internal/logger"
	"pos-sync/internal/orders"
	"pos-sync/internal/remote"
	"pos-sync/internal/store"
	"pos-sync/internal/sync"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "possync",
		Short:         "POS order sync core: local record store + remote convergence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config (default: auto-discover)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "run the sync daemon: listeners, drain on start, graceful stop",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cfgPath, true)
			},
		},
		&cobra.Command{
			Use:   "resync",
			Short: "run one full bidirectional sync pass and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cfgPath, false)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string, daemon bool) error {
	lg := logger.New("possync")

	if cfgPath == "" {
		p, err := config.FindConfig()
		if err != nil {
			return fmt.Errorf("no config found, pass --config")
		}
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Local.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	lg.Info("local_store_opened", map[string]any{"path": cfg.Local.Path})

	auth := collab.StaticAuth{TenantID: cfg.Local.TenantID}

	rs, err := remote.ConnectPostgres(ctx, cfg.Database, auth)
	if err != nil {
		return err
	}
	defer rs.Close()
	lg.Info("remote_store_connected", map[string]any{"host": cfg.Database.Host, "database": cfg.Database.Name})

	feed, err := remote.DialFeed(cfg.Rabbit, cfg.Local.DeviceID, auth, lg)
	if err != nil {
		return err
	}
	defer feed.Close()
	lg.Info("change_feed_connected", map[string]any{"host": cfg.Rabbit.Host, "device": cfg.Local.DeviceID})

	svc := sync.New(sync.Config{
		DeviceID:     cfg.Local.DeviceID,
		GraceWindow:  cfg.Sync.GraceWindow(),
		PushAttempts: cfg.Sync.PushAttempts,
		PushBackoff:  cfg.Sync.PushBackoff(),
	}, st, rs, feed, lg)

	mgr := orders.NewManager(st, svc, collab.NoopInventory{}, collab.NoopPrinter{}, orders.GhostPolicy(cfg.Sync.GhostPolicy), lg)
	svc.Bind(mgr)

	if err := mgr.Load(ctx); err != nil {
		return err
	}

	if !daemon {
		if err := svc.Drain(ctx); err != nil {
			return err
		}
		if err := svc.Resync(ctx); err != nil {
			return err
		}
		svc.Wait()
		return nil
	}

	disp := sync.NewDispatcher(feed, svc, lg)
	if err := disp.StartAll(ctx); err != nil {
		return err
	}

	// Connectivity just came up: replay whatever queued while offline,
	// then reconcile both sides once.
	if err := svc.Drain(ctx); err != nil {
		lg.Error("drain_failed", err, nil)
	}
	if err := svc.Resync(ctx); err != nil {
		lg.Error("resync_failed", err, nil)
	}

	lg.Info("service_started", map[string]any{"device": cfg.Local.DeviceID, "tenant": cfg.Local.TenantID})
	<-ctx.Done()

	lg.Info("graceful_shutdown", nil)
	disp.StopAll()
	svc.Wait()
	return nil
}
