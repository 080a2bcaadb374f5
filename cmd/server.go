package cmd

import (
	"github.com/spf13/cobra"

	"video-splitter/config"
	server2 "video-splitter/server"
)

func server(config *config.Config) *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "start http server with the worker pool",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config, !noWorkers)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API only, leave jobs to separate worker processes")
	return cmd
}

func worker(config *config.Config) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "process split jobs without serving http",
		Run: func(cmd *cobra.Command, args []string) {
			if workers > 0 {
				config.Server.Workers = workers
			}
			server2.RunWorker(config)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent jobs, overrides server.workers")
	return cmd
}

func recorder(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "recorder",
		Short: "record job lifecycle events from rabbitmq into postgres",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunRecorder(config)
		},
	}
}
