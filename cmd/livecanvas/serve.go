package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recera/livecanvas/internal/config"
	"github.com/recera/livecanvas/internal/discovery"
	"github.com/recera/livecanvas/pkg/live"
)

func newServeCommand() *cobra.Command {
	var host string
	var port int
	var advertise bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the presence hub",
		Long: `Serves rooms at /live/{room} over websocket and lists active rooms at /rooms.
The log level follows config file changes without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, logger, err := setup(os.Stderr)
			if err != nil {
				return err
			}
			defer logger.Close()

			// CLI takes precedence
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("advertise") {
				cfg.Server.Advertise = advertise
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := loader.Watch(); err != nil {
				logger.Warn("config hot reload disabled", "error", err)
			} else {
				defer loader.Close()
				loader.OnChange(func(c *config.Config) {
					if err := logger.SetLevel(c.Log.Level); err != nil {
						logger.Warn("ignoring log level", "error", err)
					}
					logger.Info("config reloaded", "path", loader.Path())
				})
				go func() {
					for {
						select {
						case err := <-loader.Errors():
							logger.Warn("config reload failed", "error", err)
						case <-ctx.Done():
							return
						}
					}
				}()
			}

			return runServe(ctx, cfg.Server, logger.Logger)
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind the hub to")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on")
	cmd.Flags().BoolVar(&advertise, "advertise", false, "Announce the hub over mDNS")

	return cmd
}

// runServe serves the hub until ctx ends, then drains connections.
func runServe(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	hub := live.NewServer(
		live.WithServerLogger(logger),
		live.WithSendBuffer(cfg.SendBuffer),
		live.WithPingInterval(cfg.PingInterval.Std()),
		live.WithReadTimeout(cfg.ReadTimeout.Std()),
	)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Advertise {
		ad, err := discovery.Advertise(cfg.Name, port, live.DefaultPathPrefix)
		if err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer ad.Close()
			logger.Info("advertising over mDNS", "service", discovery.ServiceType, "port", port)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("hub listening", "addr", ln.Addr().String(), "rooms", live.DefaultPathPrefix+"{room}")

	select {
	case err := <-errCh:
		hub.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
