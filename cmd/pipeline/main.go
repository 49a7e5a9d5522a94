package main

import (
	"fmt"
	"os"

	"fac-data-pipeline/internal/config"
	"fac-data-pipeline/internal/pipeline"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Fetch, merge and export FAC audit data",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			runID := uuid.New().String()
			return pipeline.NewRunner(cfg).Run(cmd.Context(), runID)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the run configuration")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Pipeline failed: %v\n", err)
		os.Exit(1)
	}
}
