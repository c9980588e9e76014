package ci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"jwstascii-lambda-updater/internal/config"
)

// stubRunner emulates the test and build tools the jobs shell out to.
type stubRunner struct {
	calls  []string
	failOn string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) error {
	s.calls = append(s.calls, name)

	if s.failOn == name {
		return errors.New("stubbed failure")
	}

	write := func(root string, files map[string]string) error {
		for name, content := range files {
			path := filepath.Join(root, name)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return err
			}
		}
		return nil
	}

	switch name {
	case "fake-test", "fake-coverage":
		return nil
	case "fake-build":
		return write(args[0], map[string]string{"helpers-1.0-py3-none-any.whl": "wheel"})
	case "fake-install":
		return write(args[0], map[string]string{"requests/__init__.py": "r", "PIL/Image.py": "i"})
	case "fake-wheel-install":
		return write(args[0], map[string]string{"helpers/__init__.py": "h"})
	default:
		return fmt.Errorf("unexpected command: %s", name)
	}
}

type recordingUploader struct {
	keys  []string
	paths []string
	err   error
}

func (r *recordingUploader) UploadFile(_ context.Context, key, filePath string) error {
	r.keys = append(r.keys, key)
	r.paths = append(r.paths, filePath)
	return r.err
}

type recordingUpdater struct {
	functions []string
	buckets   []string
	keys      []string
	err       error
}

func (r *recordingUpdater) UpdateFunctionCode(_ context.Context, functionName, bucket, key string) error {
	r.functions = append(r.functions, functionName)
	r.buckets = append(r.buckets, bucket)
	r.keys = append(r.keys, key)
	return r.err
}

func testConfig(t *testing.T, branch string) *config.Config {
	t.Helper()

	dir := t.TempDir()

	entryPoint := filepath.Join(dir, "lambda_function.py")
	if err := os.WriteFile(entryPoint, []byte("handler"), 0644); err != nil {
		t.Fatal(err)
	}

	return &config.Config{
		Pipeline: config.PipelineConfig{
			ArtifactsDir:        filepath.Join(dir, "build"),
			ArchiveName:         "jwstascii-lambda-updater.zip",
			EntryPoint:          entryPoint,
			RequirementsFile:    filepath.Join(dir, "requirements.txt"),
			ExcludedPackages:    []string{"PIL"},
			BuildCommand:        "fake-build {dist}",
			InstallCommand:      "fake-install {layer}",
			WheelInstallCommand: "fake-wheel-install {layer} {wheel}",
		},
		CI: config.CIConfig{
			Branch:          branch,
			MainBranch:      "main",
			WorkspaceDir:    filepath.Join(dir, "workspace"),
			TestCommand:     "fake-test {artifacts}",
			CoverageCommand: "fake-coverage",
		},
		S3: config.S3Config{
			Bucket:     "jwstascii-lambda-updater",
			ArchiveKey: "jwstascii-lambda-updater",
		},
		Lambda: config.LambdaConfig{
			FunctionName: "jwstascii-lambda-updater",
		},
	}
}

func TestRunDeploysOnMainBranch(t *testing.T) {
	cfg := testConfig(t, "main")
	uploader := &recordingUploader{}
	updater := &recordingUpdater{}
	o := NewOrchestrator(cfg, &stubRunner{}, uploader, updater, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(uploader.keys) != 1 || uploader.keys[0] != "jwstascii-lambda-updater" {
		t.Errorf("unexpected upload keys: %v", uploader.keys)
	}
	if len(updater.functions) != 1 {
		t.Fatalf("expected one function update, got %d", len(updater.functions))
	}
	if updater.functions[0] != "jwstascii-lambda-updater" ||
		updater.buckets[0] != "jwstascii-lambda-updater" ||
		updater.keys[0] != "jwstascii-lambda-updater" {
		t.Errorf("unexpected update call: %s %s %s",
			updater.functions[0], updater.buckets[0], updater.keys[0])
	}
}

func TestRunSkipsDeployOnFeatureBranch(t *testing.T) {
	cfg := testConfig(t, "feature/new-scraper")
	uploader := &recordingUploader{}
	updater := &recordingUpdater{}
	o := NewOrchestrator(cfg, &stubRunner{}, uploader, updater, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(uploader.keys) != 0 {
		t.Errorf("uploader called on feature branch: %v", uploader.keys)
	}
	if len(updater.functions) != 0 {
		t.Errorf("updater called on feature branch: %v", updater.functions)
	}

	// The archive is still packaged and persisted for inspection.
	workspaceArchive := filepath.Join(cfg.CI.WorkspaceDir, cfg.Pipeline.ArchiveName)
	if _, err := os.Stat(workspaceArchive); err != nil {
		t.Errorf("workspace archive missing: %v", err)
	}
}

func TestTestFailureAbortsJob(t *testing.T) {
	cfg := testConfig(t, "main")
	runner := &stubRunner{failOn: "fake-test"}
	uploader := &recordingUploader{}
	updater := &recordingUpdater{}
	o := NewOrchestrator(cfg, runner, uploader, updater, nil)

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing tests, got nil")
	}

	// No partial workspace is persisted.
	workspaceArchive := filepath.Join(cfg.CI.WorkspaceDir, cfg.Pipeline.ArchiveName)
	if _, err := os.Stat(workspaceArchive); !os.IsNotExist(err) {
		t.Errorf("workspace archive persisted after failure: %v", err)
	}
	if len(uploader.keys) != 0 || len(updater.functions) != 0 {
		t.Error("deploy ran after failed tests")
	}
}

func TestDeployRequiresWorkspaceArchive(t *testing.T) {
	cfg := testConfig(t, "main")
	o := NewOrchestrator(cfg, &stubRunner{}, &recordingUploader{}, &recordingUpdater{}, nil)

	if err := o.Deploy(context.Background()); err == nil {
		t.Fatal("expected error when workspace archive is missing, got nil")
	}
}

func TestDeployUploadFailureStopsUpdate(t *testing.T) {
	cfg := testConfig(t, "main")
	uploader := &recordingUploader{err: errors.New("network")}
	updater := &recordingUpdater{}
	o := NewOrchestrator(cfg, &stubRunner{}, uploader, updater, nil)

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing upload, got nil")
	}
	if len(updater.functions) != 0 {
		t.Error("function updated despite failed upload")
	}
}
