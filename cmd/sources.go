package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio input devices",
	Long:  `List the input devices the configured audio backend can record from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.NewBackend(cfg)
		sources, err := backend.ListSources()
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", backend.GetType(), err)
		}

		fmt.Printf("🎙️  Audio Sources (%s, %s backend)\n", runtime.GOOS, backend.GetType())
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("📋 INPUT DEVICES (%d found):\n", len(sources))
		for i, source := range sources {
			marker := ""
			if source.Default {
				marker = " (default)"
			}
			fmt.Printf("  %d. %s%s\n", i+1, source.Name, marker)
			fmt.Printf("     channels: %d, sample rate: %d Hz\n", source.Channels, source.SampleRate)
		}

		if cfg.Audio.Device != "" {
			if err := backend.ValidateSource(cfg.Audio.Device); err != nil {
				fmt.Printf("\n⚠️  Configured device: %v\n", err)
			} else {
				fmt.Printf("\n✅ Configured device %q is available\n", cfg.Audio.Device)
			}
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Set configs.<profile>.audio.device to one of the names above\n")
		fmt.Printf("  • Leave it empty to record from the system default input\n")
		fmt.Printf("  • Backends compiled in: %v\n\n", audio.GetAvailableBackends())

		return nil
	},
}
