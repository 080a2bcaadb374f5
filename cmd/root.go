package cmd

import (
	"github.com/spf13/cobra"

	"video-splitter/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "video-splitter",
		Short: "split online videos into fixed-length clips",
	}
	rootCmd.AddCommand(server(config), worker(config), recorder(config))
	return rootCmd
}
