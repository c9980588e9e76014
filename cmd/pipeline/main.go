package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"jwstascii-lambda-updater/internal/ci"
	"jwstascii-lambda-updater/internal/config"
	"jwstascii-lambda-updater/internal/deploy"
	"jwstascii-lambda-updater/internal/pipeline"
	"jwstascii-lambda-updater/internal/storage"
	"jwstascii-lambda-updater/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: "console",
		Output: "stderr",
	})

	if err := newRootCmd(cfg, log).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config, log *logger.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Build, package and deploy the jwstascii Lambda function",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	newPipeline := func() *pipeline.Pipeline {
		return pipeline.New(cfg.Pipeline, pipeline.NewExecRunner(log), log)
	}

	root.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Build the function wheel into the dist directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newPipeline().Build(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "build-layer",
		Short: "Assemble the dependency layer from the built wheel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newPipeline().BuildLayer(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "package",
		Short: "Zip the layer with the entry point at the archive root",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newPipeline().Package(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run build, build-layer and package in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newPipeline().Run(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "test-and-package",
		Short: "Run the test suite and produce the deployable archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := ci.NewOrchestrator(cfg, pipeline.NewExecRunner(log), nil, nil, log)
			return orch.TestAndPackage(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "deploy",
		Short: "Upload the packaged archive to S3 and update the Lambda function",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newDeployOrchestrator(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return orch.Deploy(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "ci",
		Short: "Run test-and-package then deploy when on the main branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newDeployOrchestrator(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return orch.Run(cmd.Context())
		},
	})

	return root
}

// newDeployOrchestrator wires an orchestrator with real AWS clients.
func newDeployOrchestrator(ctx context.Context, cfg *config.Config, log *logger.Logger) (*ci.Orchestrator, error) {
	s3Client, err := storage.NewS3Client(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.AccessKey, cfg.S3.SecretKey, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	lambdaClient, err := deploy.NewLambdaClient(ctx, cfg.Lambda.Region, cfg.S3.AccessKey, cfg.S3.SecretKey, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create Lambda client: %w", err)
	}

	return ci.NewOrchestrator(cfg, pipeline.NewExecRunner(log), s3Client, lambdaClient, log), nil
}
