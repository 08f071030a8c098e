// Package cmd contains the relay CLI subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/relay/cli"
	"github.com/grovetools/relay/config"
	"github.com/grovetools/relay/internal/daemon/broadcast"
	"github.com/grovetools/relay/internal/daemon/bus"
	"github.com/grovetools/relay/internal/daemon/gateway"
	"github.com/grovetools/relay/internal/daemon/pidfile"
	"github.com/grovetools/relay/internal/daemon/registry"
	"github.com/grovetools/relay/internal/daemon/server"
	"github.com/grovetools/relay/internal/daemon/store"
	"github.com/grovetools/relay/internal/daemon/watch"
	"github.com/grovetools/relay/logging"
	"github.com/grovetools/relay/pkg/paths"
	"github.com/spf13/cobra"
)

// NewDaemonCmd returns the relayd daemon command with subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Workspace state relay daemon",
		Long:  "Real-time workspace state synchronization daemon for editor clients.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long:  "Start the relay daemon in foreground mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("relayd")
			pidPath := paths.PidFilePath()

			cfg, err := config.Load(cli.ResolveConfigFile(cmd))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			events := bus.New(logger)
			st := store.New(events)
			sessions := registry.New(cfg.MaxConnections, logger)
			bcast := broadcast.New(st, sessions, events, cfg.DefaultMinUpdateInterval(), logger)

			allowlist, err := gateway.LoadAllowlist(paths.AllowlistFilePath())
			if err != nil {
				return fmt.Errorf("failed to load command allowlist: %w", err)
			}
			if cfg.CommandHook == "" {
				logger.Warn("No command hook configured; command requests will fail")
			}
			gw := gateway.New(gateway.NewHookRunner(cfg.CommandHook, logger), allowlist, logger)

			// Config file changes trigger a full resync to every client.
			watcher, err := watch.New(paths.ConfigDir(), events, 250*time.Millisecond, logger)
			if err != nil {
				logger.WithError(err).Warn("Config watcher unavailable")
			}

			srv := server.New(cfg, st, sessions, bcast, gw, logger)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-stop
				logger.Info("Received stop signal")

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}
				if watcher != nil {
					watcher.Close()
				}
				gw.Dispose()
				bcast.Close()
				sessions.Close()
				events.Close()

				_ = pidfile.Release(pidPath)
				os.Exit(0)
			}()

			logger.WithField("pid", os.Getpid()).Info("Starting daemon")
			if err := srv.ListenAndServe(); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}

			if !running {
				fmt.Println("Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}

			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()
			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				fmt.Printf("Running (PID: %d)\n", pid)
			} else {
				fmt.Println("Stopped")
				os.Exit(1) // non-zero for stopped state, useful for scripts
			}
			return nil
		},
	}
}
