package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/recera/livecanvas/internal/config"
	"github.com/recera/livecanvas/internal/discovery"
	"github.com/recera/livecanvas/internal/tui"
	"github.com/recera/livecanvas/pkg/live"
	"github.com/recera/livecanvas/pkg/session"
)

func newJoinCommand() *cobra.Command {
	var server, room string
	var discover bool

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room in the terminal",
		Long: `Connects to a hub and opens the shared canvas. Move the mouse to show your
cursor, press / to chat and e to pick a reaction, then hold the button to spray it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The terminal belongs to the UI, so only an explicit log file is written.
			loader, cfg, logger, err := setup(io.Discard)
			if err != nil {
				return err
			}
			defer logger.Close()

			if cmd.Flags().Changed("server") {
				cfg.Client.Server = server
			}
			if cmd.Flags().Changed("room") {
				cfg.Client.Room = room
			}
			if cmd.Flags().Changed("discover") {
				cfg.Client.Discover = discover
			}
			if cfg.Client.Room == "" || strings.Contains(cfg.Client.Room, "/") {
				return fmt.Errorf("invalid room name %q", cfg.Client.Room)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			url, err := roomURL(ctx, cfg.Client)
			if err != nil {
				return err
			}

			client, err := live.Dial(ctx, url, live.DialOptions{
				SendBuffer: cfg.Client.SendBuffer,
				Logger:     logger.Logger,
			})
			if err != nil {
				return err
			}
			defer client.Close()
			logger.Info("joined", "url", url, "connection", client.ID(), "session", client.SessionID)

			sess := session.New(client,
				session.WithLogger(logger.Logger),
				session.WithTuning(cfg.Cursor.Tuning()),
			)
			sess.Start()
			defer sess.Close()

			if err := loader.Watch(); err != nil {
				logger.Warn("config hot reload disabled", "error", err)
			} else {
				defer loader.Close()
				loader.OnChange(func(c *config.Config) {
					sess.Tune(c.Cursor.Tuning())
					if err := logger.SetLevel(c.Log.Level); err != nil {
						logger.Warn("ignoring log level", "error", err)
					}
					logger.Info("config reloaded", "path", loader.Path())
				})
			}

			model := tui.New(sess, cfg.Client.Room)
			defer model.Close()

			p := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithMouseAllMotion(),
				tea.WithContext(ctx),
			)
			go func() {
				<-client.Done()
				p.Quit()
			}()

			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			select {
			case <-client.Done():
				return errors.New("disconnected from hub")
			default:
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "Hub URL, e.g. ws://localhost:7420")
	cmd.Flags().StringVarP(&room, "room", "r", "", "Room to join")
	cmd.Flags().BoolVar(&discover, "discover", false, "Join the first hub found over mDNS")

	return cmd
}

// roomURL resolves the websocket URL of the configured room.
func roomURL(ctx context.Context, cfg config.ClientConfig) (string, error) {
	if !cfg.Discover {
		base := strings.TrimSuffix(cfg.Server, "/")
		if !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://") {
			base = "ws://" + base
		}
		return base + live.DefaultPathPrefix + cfg.Room, nil
	}

	hubs, err := discovery.Browse(ctx, cfg.DiscoverTimeout.Std())
	if len(hubs) == 0 {
		if err != nil {
			return "", fmt.Errorf("no hub found: %w", err)
		}
		return "", errors.New("no hub found on the local network")
	}
	return hubs[0].RoomURL(cfg.Room), nil
}
