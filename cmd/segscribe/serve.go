package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/leonardotrapani/segscribe/internal/config"
	"github.com/leonardotrapani/segscribe/internal/daemon"
	"github.com/leonardotrapani/segscribe/internal/logging"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(path)
		},
	}
}

func runServe(path string) error {
	boot, err := logging.New(os.Stderr, "info", "auto")
	if err != nil {
		return err
	}
	mgr, err := config.NewManager(path, boot)
	if err != nil {
		return err
	}
	cfg := mgr.GetConfig()

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	components, closeStore, err := daemon.OpenComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open components: %w", err)
	}
	defer closeStore()

	return daemon.New(mgr, components, version, logger).Run()
}
