// Copyright 2017 Microsoft. All rights reserved.
// MIT License
package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chkp-dmorris/Azure-extended-zone/internal/log"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/engine"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/membership"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/reconcile"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/server"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/status"
)

const (
	flagFWDir = "fwdir"

	startupRetryInterval = 5 * time.Second
)

// NewRootCmd returns the daemon's root command, with "run" as its only
// subcommand.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "azure-had",
		Short: "Azure cluster high-availability failover daemon",
	}
	rootCmd.AddCommand(newRunCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the failover daemon in the foreground",
		SilenceUsage: true,
		RunE:         runDaemon,
	}
	runCmd.Flags().String(flagFWDir, "/opt/CPhad", "Check Point installation root")
	return runCmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	fwdir, err := cmd.Flags().GetString(flagFWDir)
	if err != nil {
		return err
	}

	textLog, err := log.NewLogger("azure_had", log.LevelInfo, log.TargetLogfile, filepath.Join(fwdir, "log"))
	if err != nil {
		return err
	}
	defer textLog.Close()
	textLog.Printf("Started")

	structuredLog, err := newStructuredLogger()
	if err != nil {
		return err
	}
	defer structuredLog.Sync() //nolint:errcheck // best-effort flush on exit

	statusPublisher := status.New(filepath.Join(fwdir, "tmp", "ha_status"), "/etc/cloud-version")
	loader := config.NewLoader(fwdir, textLog, statusPublisher)

	cfg, client, err := loadUntilSuccess(cmd.Context(), loader, textLog)
	if err != nil {
		return err
	}

	deps := reconcile.Deps{
		Client:         client,
		TextLog:        textLog,
		Structured:     structuredLog,
		SafePutOptions: cloud.DefaultSafePutOptions(),
	}

	eng := engine.New(deps, statusPublisher)
	poller := membership.New(eng, statusPublisher, textLog)

	srv := server.New(
		filepath.Join(fwdir, "tmp", "ha.sock"),
		filepath.Join(fwdir, "tmp", "ha.pid"),
		loader,
		poller,
		eng,
		textLog,
	)
	return srv.Run(cmd.Context(), cfg)
}

// loadUntilSuccess retries config.Loader.Load every 5s until it succeeds,
// per spec.md §7 item 1 ("main's startup retries every 5s until success").
func loadUntilSuccess(ctx context.Context, loader *config.Loader, textLog *log.Logger) (*config.Config, cloud.Client, error) {
	for {
		cfg, client, err := loader.Load(ctx)
		if err == nil {
			return cfg, client, nil
		}
		textLog.Errorf("startup configuration load failed, retrying in 5s: %v", err)

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(startupRetryInterval):
		}
	}
}

func newStructuredLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
