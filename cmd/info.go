package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/store"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and storage paths",
	Long:  `Display the resolved configuration with inheritance indicators and the storage paths in use. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inh := cfg.Inheritance

		// Display file paths
		fmt.Printf("=== PATHS ===\n")
		fmt.Printf("config: %s\n", cfgFile)
		fmt.Printf("storage_root: %s\n", cfg.Storage.Root)
		fmt.Printf("recordings: %s\n", filepath.Join(cfg.Storage.Root, store.RecordingsDir))
		if cfg.Log.File != "" {
			fmt.Printf("log_file: %s\n", cfg.Log.File)
		}

		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Profile)

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(inh, func(i inheritance) string { return i.Audio.Backend }))
		fmt.Printf("device: %s %s\n", orDefault(cfg.Audio.Device, "system default"), getInheritanceIndicator(inh, func(i inheritance) string { return i.Audio.Device }))
		fmt.Printf("sample_rate: %s %s\n", orNative(cfg.Audio.SampleRate), getInheritanceIndicator(inh, func(i inheritance) string { return i.Audio.SampleRate }))
		fmt.Printf("channels: %s %s\n", orNative(cfg.Audio.Channels), getInheritanceIndicator(inh, func(i inheritance) string { return i.Audio.Channels }))
		fmt.Printf("buffer_frames: %d\n", cfg.Audio.BufferFrames)

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("require_consent: %t %s\n", cfg.Capture.RequireConsent, getInheritanceIndicator(inh, func(i inheritance) string { return i.Capture.RequireConsent }))
		fmt.Printf("confirm_save: %t %s\n", cfg.Capture.ConfirmSave, getInheritanceIndicator(inh, func(i inheritance) string { return i.Capture.ConfirmSave }))

		fmt.Printf("\n[Label]\n")
		fmt.Printf("transcribe_command: %s %s\n", orDefault(cfg.Label.TranscribeCommand, "none"), getInheritanceIndicator(inh, func(i inheritance) string { return i.Label.TranscribeCommand }))
		fmt.Printf("label_command: %s %s\n", orDefault(cfg.Label.LabelCommand, "none"), getInheritanceIndicator(inh, func(i inheritance) string { return i.Label.LabelCommand }))
		fmt.Printf("tick_interval: %s\n", cfg.Label.TickInterval)

		return nil
	},
}

type inheritance = *config.InheritanceInfo

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(info inheritance, field func(inheritance) string) string {
	if info == nil {
		return "[built-in]"
	}
	switch field(info) {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orNative(v int) string {
	if v == 0 {
		return "native"
	}
	return fmt.Sprint(v)
}

func init() {
	configCmd.AddCommand(infoCmd)
}
