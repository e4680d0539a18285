package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "streamsound",
	Short: "Sample-accurate streaming soundfile playback and capture",
	Long: `streamsound - sample-accurate streaming read and write of audio sample
files on a realtime audio host.

Each stream pairs a realtime audio thread with a background disk worker
through a bounded ring FIFO, so playback and capture can be scheduled to
begin and end at exact global sample times, loop over sub-ranges of a file
with silence padding past end-of-file, and begin on a signal threshold.

Commands:
  - play: stream a WAV file to an audio device with loop and schedule control
  - record: capture an input feed to a WAV file with threshold and pre-roll
  - convert: bulk-rewrite a WAV file's sample width or channel layout`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
