// Command voicecore runs the speaker-diarization pipeline as a service:
// an HTTP endpoint that starts Sessions, a websocket events feed and a
// metrics endpoint (no endpoint carries audio frames into a Session),
// plus a reprocess command that replays a stored recording
// under different settings (the Job Engine). Grounded on the pack's
// cobra+viper root-command wiring (tphakala-birdnet-go's cmd/root.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/askid/voicecore/internal/config"
	"github.com/askid/voicecore/internal/logging"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "voicecore",
		Short: "Real-time speaker-diarization pipeline",
	}
	root.PersistentFlags().String("data-dir", "", "override data_dir from config")
	root.PersistentFlags().String("log-level", "", "override log_level from config")
	if err := v.BindPFlag("data_dir", root.PersistentFlags().Lookup("data-dir")); err != nil {
		fmt.Fprintln(os.Stderr, "bind data-dir flag:", err)
	}
	if err := v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintln(os.Stderr, "bind log-level flag:", err)
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logging.Init(settings.LogLevel, settings.Console)
		cmdSettings = settings
		return nil
	}

	root.AddCommand(serveCommand(), reprocessCommand())
	return root
}

// cmdSettings is populated by PersistentPreRunE before any subcommand's
// RunE executes; cobra commands close over it rather than threading a
// settings value through every layer.
var cmdSettings *config.Settings
