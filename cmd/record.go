package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new memo from the microphone",
	Long: `Record audio from the configured input device into a new memo.
Press Enter or Ctrl+C to stop. When capture.confirm_save is enabled you are
asked whether to keep the recording; otherwise it is saved right away.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		emoji, _ := cmd.Flags().GetString("emoji")
		maxDuration, _ := cmd.Flags().GetDuration("duration")
		assumeYes, _ := cmd.Flags().GetBool("yes")

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if verboseLevel >= 1 {
			svc.OnLevel(func(level float32) {
				fmt.Fprintf(os.Stderr, "\r%s", levelBar(level, 30))
			})
		}

		if err := svc.StartCapture(ctx); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}

		// shared with the consent prompt so neither buffers the other's input
		lines := audio.StdinLines().Lines()
		fmt.Fprintln(os.Stderr, "Recording... press Enter or Ctrl+C to stop")

		var timeout <-chan time.Time
		if maxDuration > 0 {
			timeout = time.After(maxDuration)
		}
		// A closed stdin does not stop the capture.
		enter := lines
	wait:
		for {
			select {
			case _, ok := <-enter:
				if ok {
					break wait
				}
				enter = nil
			case <-ctx.Done():
				break wait
			case <-timeout:
				slog.Info("Maximum duration reached", "duration", maxDuration)
				break wait
			}
		}
		stop()
		if verboseLevel >= 1 {
			fmt.Fprintln(os.Stderr)
		}

		res, err := svc.StopCapture()
		if err != nil && res.Pending == "" && res.Item == nil {
			return fmt.Errorf("failed to stop capture: %w", err)
		}
		if err != nil {
			slog.Warn("Capture finished with errors", "error", err)
		}

		item := res.Item
		switch {
		case item != nil:
		case res.Pending != "":
			if !assumeYes && !confirm(lines, "Save recording? [Y/n]: ") {
				if err := svc.Discard(); err != nil {
					return err
				}
				fmt.Println("Recording discarded")
				return nil
			}
			saved, err := svc.ConfirmSave()
			if err != nil {
				return fmt.Errorf("failed to save recording: %w", err)
			}
			item = &saved
		default:
			fmt.Println("Nothing was recorded")
			return nil
		}

		if name != "" {
			renamed, err := svc.Rename(item.ID(), name)
			if err != nil {
				return err
			}
			item = &renamed
		}
		if emoji != "" {
			labeled, err := svc.SetEmoji(item.ID(), emoji)
			if err != nil {
				return err
			}
			item = &labeled
		}

		printItem(*item)
		return nil
	},
}

func init() {
	recordCmd.Flags().String("name", "", "name for the new recording")
	recordCmd.Flags().String("emoji", "", "emoji label for the new recording")
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this long (0 = until Enter)")
	recordCmd.Flags().BoolP("yes", "y", false, "save without asking")
}

// confirm asks a yes/no question defaulting to yes. EOF on stdin counts
// as the default.
func confirm(lines <-chan string, prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	answer, ok := <-lines
	if !ok {
		return true
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "" || answer == "y" || answer == "yes"
}

func levelBar(level float32, width int) string {
	filled := int(level*float32(width) + 0.5)
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

func printItem(item recording.Item) {
	fmt.Printf("id:       %s\n", item.ID())
	fmt.Printf("title:    %s\n", item.DisplayName())
	if item.Emoji != "" {
		fmt.Printf("emoji:    %s\n", item.Emoji)
	}
	fmt.Printf("created:  %s\n", item.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("duration: %s\n", recording.FormatDuration(item.Duration))
	fmt.Printf("path:     %s\n", item.Path)
}
