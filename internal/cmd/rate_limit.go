package cmd

import "github.com/spf13/cobra"

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset persisted limiter rates",
	Long: `The adaptive limiter's per-destination rate and smoothed latency are
saved when a client closes. These commands read and clear that history.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
