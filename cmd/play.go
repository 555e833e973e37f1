package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <id>",
	Short: "Play a recording",
	Long: `Play a recording with the first available external player.
Tries vlc, mpv, ffplay, aplay and afplay in that order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		item, err := svc.GetRecording(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Playing: %s\n", item.DisplayName())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Play(ctx, item.ID()); err != nil && ctx.Err() == nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
