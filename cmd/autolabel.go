package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/label"
)

var autolabelCmd = &cobra.Command{
	Use:   "autolabel <id>",
	Short: "Transcribe a recording and pick an emoji label for it",
	Long: `Run the configured transcription command on a recording, ask the
configured label command for an emoji and store it. Progress is printed as
each stage finishes. Without a label command the recording gets the
fallback label ` + label.FallbackLabel + `.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := svc.AutoLabel(ctx, args[0])
		if err != nil {
			return err
		}

		var failure error
		for ev := range events {
			switch ev.Kind {
			case label.EventElapsed:
				if verboseLevel >= 1 {
					fmt.Fprintf(os.Stderr, "\rtranscribing... %.1fs", ev.Elapsed.Seconds())
				}
			case label.EventTranscript:
				if verboseLevel >= 1 {
					fmt.Fprintln(os.Stderr)
				}
				fmt.Printf("transcript: %s\n", ev.Text)
			case label.EventFirstCandidate, label.EventSecondCandidate:
				fmt.Printf("%s candidate: %s\n", ev.Kind, ev.Text)
			case label.EventFinal:
				fmt.Printf("label: %s\n", ev.Text)
			case label.EventSaved:
				fmt.Printf("Saved label for %s\n", ev.Item.ID())
			case label.EventError:
				failure = ev.Err
			}
		}

		if failure != nil {
			return fmt.Errorf("labeling failed: %w", failure)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("labeling cancelled")
		}
		return nil
	},
}
