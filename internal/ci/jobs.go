package ci

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"jwstascii-lambda-updater/internal/config"
	"jwstascii-lambda-updater/internal/pipeline"
	"jwstascii-lambda-updater/pkg/logger"
)

// ArchiveUploader pushes the deployment archive to object storage.
type ArchiveUploader interface {
	UploadFile(ctx context.Context, key, filePath string) error
}

// FunctionUpdater tells the serverless runtime to reload its code from
// object storage.
type FunctionUpdater interface {
	UpdateFunctionCode(ctx context.Context, functionName, bucket, key string) error
}

// Orchestrator runs the CI jobs. Deploy runs only on the main branch and
// only after test-and-package succeeded. The jobs share state exclusively
// through the workspace directory.
type Orchestrator struct {
	cfg      *config.Config
	pipe     *pipeline.Pipeline
	runner   pipeline.Runner
	uploader ArchiveUploader
	updater  FunctionUpdater
	logger   *logger.Logger
}

// NewOrchestrator creates a CI orchestrator. A nil runner executes real
// commands.
func NewOrchestrator(cfg *config.Config, runner pipeline.Runner, uploader ArchiveUploader, updater FunctionUpdater, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	if runner == nil {
		runner = pipeline.NewExecRunner(log)
	}

	return &Orchestrator{
		cfg:      cfg,
		pipe:     pipeline.New(cfg.Pipeline, runner, log),
		runner:   runner,
		uploader: uploader,
		updater:  updater,
		logger:   log,
	}
}

// TestAndPackage runs the test suite under coverage, uploads coverage
// results when a coverage command is configured, runs the full packaging
// pipeline, and persists the archive into the workspace directory. Any step
// failing aborts the job; nothing is persisted on failure.
func (o *Orchestrator) TestAndPackage(ctx context.Context) error {
	log := o.logger.WithStage("test_and_package")

	if err := os.MkdirAll(o.cfg.Pipeline.ArtifactsDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	if err := o.runCommand(ctx, o.cfg.CI.TestCommand); err != nil {
		return fmt.Errorf("test suite failed: %w", err)
	}

	if o.cfg.CI.CoverageCommand != "" {
		if err := o.runCommand(ctx, o.cfg.CI.CoverageCommand); err != nil {
			return fmt.Errorf("coverage upload failed: %w", err)
		}
	}

	if err := o.pipe.Run(ctx); err != nil {
		return err
	}

	workspacePath, err := o.persistArchive()
	if err != nil {
		return fmt.Errorf("failed to persist archive to workspace: %w", err)
	}

	log.Info().
		Str("workspace_archive", workspacePath).
		Msg("Archive persisted to workspace")

	return nil
}

// ShouldDeploy reports whether the current branch is the designated main
// branch. Deploys from any other branch are skipped, not failed.
func (o *Orchestrator) ShouldDeploy() bool {
	return o.cfg.CI.Branch == o.cfg.CI.MainBranch
}

// Deploy attaches the workspace, uploads the archive to the fixed bucket and
// key, and issues the function-code update. There is no rollback: a failed
// deploy leaves the previously deployed version live.
func (o *Orchestrator) Deploy(ctx context.Context) error {
	log := o.logger.WithStage("deploy")
	workspacePath := o.workspaceArchivePath()

	if _, err := os.Stat(workspacePath); err != nil {
		return fmt.Errorf("workspace archive missing, run test-and-package first: %w", err)
	}

	entries, err := pipeline.ArchiveEntries(workspacePath)
	if err != nil {
		return fmt.Errorf("workspace archive unreadable: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("workspace archive %s is empty", workspacePath)
	}

	log.Info().
		Str("archive", workspacePath).
		Int("entries", len(entries)).
		Str("bucket", o.cfg.S3.Bucket).
		Str("key", o.cfg.S3.ArchiveKey).
		Msg("Deploying archive")

	if err := o.uploader.UploadFile(ctx, o.cfg.S3.ArchiveKey, workspacePath); err != nil {
		return fmt.Errorf("archive upload failed: %w", err)
	}

	if err := o.updater.UpdateFunctionCode(ctx, o.cfg.Lambda.FunctionName, o.cfg.S3.Bucket, o.cfg.S3.ArchiveKey); err != nil {
		return fmt.Errorf("function update failed: %w", err)
	}

	log.Info().
		Str("function", o.cfg.Lambda.FunctionName).
		Msg("Deploy complete")

	return nil
}

// Run executes the full workflow: test-and-package, then deploy gated on the
// main branch. Mirrors the CI workflow's explicit job dependency.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.TestAndPackage(ctx); err != nil {
		return err
	}

	if !o.ShouldDeploy() {
		o.logger.Info().
			Str("branch", o.cfg.CI.Branch).
			Str("main_branch", o.cfg.CI.MainBranch).
			Msg("Skipping deploy for non-main branch")
		return nil
	}

	return o.Deploy(ctx)
}

func (o *Orchestrator) runCommand(ctx context.Context, template string) error {
	expanded := strings.ReplaceAll(template, "{artifacts}", o.cfg.Pipeline.ArtifactsDir)
	fields := strings.Fields(expanded)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	return o.runner.Run(ctx, fields[0], fields[1:]...)
}

func (o *Orchestrator) workspaceArchivePath() string {
	return filepath.Join(o.cfg.CI.WorkspaceDir, o.cfg.Pipeline.ArchiveName)
}

// persistArchive copies the freshly built archive into the shared workspace
// so the deploy job does not need to rebuild it.
func (o *Orchestrator) persistArchive() (string, error) {
	src := o.cfg.Pipeline.ArchivePath()
	dst := o.workspaceArchivePath()

	if err := os.MkdirAll(o.cfg.CI.WorkspaceDir, 0755); err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}

	return dst, out.Close()
}
