package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"jwstascii-lambda-updater/internal/asciiart"
	"jwstascii-lambda-updater/internal/config"
	"jwstascii-lambda-updater/internal/gitrepo"
	"jwstascii-lambda-updater/internal/scraper"
	"jwstascii-lambda-updater/internal/storage"
	"jwstascii-lambda-updater/internal/updater"
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
		Format: "json",
		Output: "stderr",
	})

	lambda.Start(func(ctx context.Context, event updater.Event) error {
		applyDefaults(&event, cfg)

		secrets, err := gitrepo.NewSecretsManagerClient(ctx, cfg.S3.Region, log)
		if err != nil {
			return fmt.Errorf("failed to create secrets manager client: %w", err)
		}

		newStore := func(ctx context.Context, bucket string) (updater.ImageStore, error) {
			return storage.NewS3Client(ctx, bucket, cfg.S3.Region, cfg.S3.AccessKey, cfg.S3.SecretKey, log)
		}

		h := updater.NewHandler(
			scraper.New(cfg.Scraper, log),
			gitrepo.New(log),
			secrets,
			newStore,
			asciiart.Convert,
			cfg.Ascii.Charset,
			log,
		)

		log.Info().
			Str("repo_url", event.RepoURL).
			Str("branch", event.GitBranch).
			Str("bucket", event.S3Bucket).
			Msg("Starting site update")

		if err := h.Handle(ctx, event); err != nil {
			log.Error().Err(err).Msg("Site update failed")
			return err
		}

		log.Info().Msg("Site update complete")
		return nil
	})
}

// applyDefaults fills unset event fields from the environment config.
func applyDefaults(event *updater.Event, cfg *config.Config) {
	if event.KeyName == "" {
		event.KeyName = cfg.Git.SSHKeySecret
	}
	if event.RepoURL == "" {
		event.RepoURL = cfg.Git.RepoURL
	}
	if event.GitBranch == "" {
		event.GitBranch = cfg.Git.Branch
	}
	if event.TempDir == "" {
		event.TempDir = os.TempDir()
	}
	if event.AsciiArtNumColumns == 0 {
		event.AsciiArtNumColumns = cfg.Ascii.Columns
	}
	if event.S3Bucket == "" {
		event.S3Bucket = cfg.S3.Bucket
	}
	if event.GitAuthor == "" {
		event.GitAuthor = cfg.Git.AuthorName
	}
	if event.GitEmail == "" {
		event.GitEmail = cfg.Git.AuthorEmail
	}
}
