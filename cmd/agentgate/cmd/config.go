package cmd

import "github.com/spf13/cobra"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration tools",
	Long:  `Commands for inspecting the gateway configuration before deploying it.`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
