package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the MemoCapture web server to capture and manage recordings
over HTTP. This allows you to control capture from your smartphone or any
device on the same network.

The server will display the local network URL for easy access from mobile devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("MemoCapture web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		// Start server (this blocks)
		if err := server.New(svc, port).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
