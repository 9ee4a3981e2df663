package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketmind/memoryd/internal/config"
	"github.com/marketmind/memoryd/internal/factory"
	"github.com/marketmind/memoryd/internal/logger"
	"github.com/marketmind/memoryd/memoryservice"
)

var (
	buildTarget string
	rootCmd     = &cobra.Command{
		Use:   "memoryd",
		Short: "Data-first memory service for conversational agents",
	}
)

func main() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory service HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if buildTarget != "" {
				if err := os.Setenv("MEMORYD_BUILD_TARGET", buildTarget); err != nil {
					return err
				}
			}
			return memoryservice.Run()
		},
	}
	serveCmd.Flags().StringVar(&buildTarget, "build-target", "", "Override MEMORYD_BUILD_TARGET (local, cloud)")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark orphaned queued/running consolidation tasks as failed",
		Long:  "Runs the liveness sweep against the configured store without starting the server. Useful after an unclean shutdown when the service itself will not be restarted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("memoryd-sweep")
			cfg, err := config.New()
			if err != nil {
				return err
			}
			st, err := factory.NewStore(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := st.Tasks().FailStale(ctx, "reclassified by offline sweep")
			if err != nil {
				return err
			}
			log.Info().Int("tasks", n).Msg("sweep finished")
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
