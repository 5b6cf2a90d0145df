// skiff-chat wires the connection manager against a JSON server-configuration
// file: it starts every enabled server, prints discovered tools, reloads the
// configuration on SIGHUP, and shuts everything down on interrupt.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidewater-labs/skiff/pkg/bridge"
	"github.com/tidewater-labs/skiff/pkg/logging"
	"github.com/tidewater-labs/skiff/pkg/mcpmgr"
)

func main() {
	configPath := flag.String("config", "servers.json", "path to the server configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	startTimeout := flag.Duration("start-timeout", 30*time.Second, "per-batch startup timeout")
	flag.Parse()

	logging.SetupLogger(*logLevel)

	if err := run(*configPath, *startTimeout); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, startTimeout time.Duration) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := mcpmgr.ParseConfig(data)
	if err != nil {
		return err
	}

	manager := mcpmgr.NewManager(mcpmgr.Options{
		OnStatusChange: func(st mcpmgr.ServerStatus) {
			slog.Debug("server status changed", "server", st.ID, "status", st.Status, "error", st.Error)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	err = manager.Initialize(startCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	printStatuses(manager)

	b := bridge.New(manager, slog.Default())
	printActiveTools(ctx, manager, b)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			manager.ShutdownAll()
			return nil
		case <-reload:
			slog.Info("reloading configuration", "path", configPath)
			data, err := os.ReadFile(configPath)
			if err != nil {
				slog.Warn("reload failed, keeping previous configuration", "error", err)
				continue
			}
			reloadCtx, cancel := context.WithTimeout(ctx, startTimeout)
			err = manager.ReconcileJSON(reloadCtx, data)
			cancel()
			if err != nil {
				slog.Warn("reload failed, keeping previous configuration", "error", err)
				continue
			}
			printStatuses(manager)
		}
	}
}

func printStatuses(manager *mcpmgr.Manager) {
	for _, st := range manager.Statuses() {
		line := fmt.Sprintf("%-20s %-8s tools=%d", st.ID, st.Status, len(st.Tools))
		if st.Error != "" {
			line += "  error=" + st.Error
		}
		fmt.Println(line)
	}
}

// printActiveTools lists every discovered tool the way a conversation with
// all tools enabled would see them.
func printActiveTools(ctx context.Context, manager *mcpmgr.Manager, b *bridge.Bridge) {
	enabled := bridge.EnabledTools{}
	for _, st := range manager.Statuses() {
		if st.Status != mcpmgr.StatusRunning {
			continue
		}
		names := make([]string, 0, len(st.Tools))
		for _, tool := range st.Tools {
			names = append(names, tool.Name)
		}
		enabled[st.ID] = names
	}
	for _, tool := range b.ActiveTools(ctx, enabled) {
		fmt.Printf("  %s  %s\n", tool.QualifiedName, tool.Description)
	}
}
