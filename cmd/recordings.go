package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/memocapture/internal/recording"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		items, err := svc.ListRecordings(cmd.Context())
		if err != nil {
			return err
		}

		if asYAML {
			out, err := yaml.Marshal(items)
			if err != nil {
				return fmt.Errorf("error marshaling recordings: %w", err)
			}
			fmt.Print(string(out))
			return nil
		}

		if len(items) == 0 {
			fmt.Println("No recordings yet")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tTITLE\tLENGTH")
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID(), item.Emoji, item.DisplayName(), recording.FormatDuration(item.Duration))
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recording",
	Args:  cobra.ExactArgs(1),
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
		printItem(item)
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Set or clear the name of a recording",
	Long:  `Set the display name of a recording. An empty name clears it, so the recording is shown by its date again.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		item, err := svc.Rename(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %q\n", item.ID(), item.DisplayName())
		return nil
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <id> <emoji>",
	Short: "Set or clear the emoji label of a recording",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		item, err := svc.SetEmoji(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Labeled %s %s\n", item.ID(), item.Emoji)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete recordings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		for _, id := range args {
			if err := svc.DeleteRecording(id); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", id)
		}
		return nil
	},
}

var adoptCmd = &cobra.Command{
	Use:   "adopt <file>",
	Short: "Move a loose audio file into the catalog",
	Long: `Adopt an audio file from the storage root into the catalog. The file is
moved into a new recording folder and a metadata sidecar is written with
its creation date and duration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		item, err := svc.Adopt(args[0])
		if err != nil {
			return err
		}
		printItem(item)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Adopt every loose recording in the storage root",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		adopted, err := svc.MigrateLegacy(cmd.Context())
		for _, item := range adopted {
			fmt.Printf("Adopted %s (%s)\n", item.ID(), item.DisplayName())
		}
		if err != nil {
			return fmt.Errorf("migration stopped: %w", err)
		}
		fmt.Printf("%d recordings migrated\n", len(adopted))
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("yaml", false, "print recordings as YAML")
}
