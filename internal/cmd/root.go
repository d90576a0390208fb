package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/ui"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "manar",
	Short:   "Private two-party chat with end-to-end encryption",
	Long:    `Manar connects exactly two people through a shared room code. Messages and files are encrypted on your device with a key only the two of you hold; the relay server never sees plaintext. When a direct connection can be established, traffic bypasses the server entirely.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
