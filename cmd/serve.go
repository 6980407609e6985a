package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"peerchat/db"
	"peerchat/logger"
	"peerchat/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the directory and presence service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "directory rpc listen address (default :1099)")
	flags.String("admin", "", "admin http listen address, empty disables (default 127.0.0.1:8099)")
	flags.String("store", "", "snapshot store: sqlite, toml, redis or memory (default sqlite)")
	flags.String("db", "", "sqlite database path")
	flags.String("toml", "", "toml snapshot file path")
	flags.String("redis", "", "redis address")
	flags.Int("push-retries", 0, "delivery attempts per notification")
	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"listen_addr":  "listen",
		"admin_addr":   "admin",
		"store":        "store",
		"db_path":      "db",
		"toml_path":    "toml",
		"redis_addr":   "redis",
		"push_retries": "push-retries",
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(ctx, store, &server.ServerConfig{
		ListenAddr:    cfg.ListenAddr,
		BcryptCost:    cfg.BcryptCost,
		CallTimeout:   cfg.CallTimeout,
		PushQueueSize: cfg.PushQueueSize,
		PushRetries:   cfg.PushRetries,
		PushBackoff:   cfg.PushBackoff,
	})
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	var admin *http.Server
	if cfg.AdminAddr != "" {
		if !cfg.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		admin = &http.Server{
			Addr:    cfg.AdminAddr,
			Handler: server.NewAdminRouter(srv, stop),
		}
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin http failed", map[string]any{"addr": cfg.AdminAddr, "error": err})
			}
		}()
		logger.Info("admin http listening", map[string]any{"addr": cfg.AdminAddr})
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down", nil)
	case err = <-served:
		if err != nil {
			logger.Error("directory stopped serving", map[string]any{"error": err})
		}
	}

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin shutdown", map[string]any{"error": err})
		}
		cancel()
	}
	srv.Shutdown()
	return err
}
